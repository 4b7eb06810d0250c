package storage

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/siem-platform/detect-service/internal/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAlert() *schema.Alert {
	return &schema.Alert{
		TenantID:        "tenant-a",
		AlertID:         uuid.New(),
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:        8,
		RuleName:        "failed_login_threshold",
		RuleDescription: "Excessive failed logins for a single account",
		Actor:           &schema.Entity{Type: "user", ID: "alice"},
		Details: map[string]any{
			"failed_login_count": 10,
			"threshold":          10,
		},
		RelatedEvents: []string{"ev-1", "ev-2"},
		Tags:          []string{"brute-force", "authentication"},
	}
}

func TestAlertRow(t *testing.T) {
	alert := sampleAlert()

	row, err := alertRow(alert)
	if err != nil {
		t.Fatalf("alertRow: %v", err)
	}
	if len(row) != 11 {
		t.Fatalf("expected 11 columns, got %d", len(row))
	}

	if row[0] != "tenant-a" {
		t.Errorf("tenant_id = %v", row[0])
	}
	if row[1] != alert.AlertID {
		t.Errorf("alert_id = %v", row[1])
	}
	if row[3] != uint8(8) {
		t.Errorf("severity = %v", row[3])
	}

	var actor schema.Entity
	if err := json.Unmarshal([]byte(row[6].(string)), &actor); err != nil {
		t.Fatalf("actor column is not JSON: %v", err)
	}
	if actor.ID != "alice" {
		t.Errorf("actor id = %q", actor.ID)
	}

	if row[7] != "" {
		t.Errorf("nil target should encode as empty string, got %v", row[7])
	}

	var details map[string]any
	if err := json.Unmarshal([]byte(row[8].(string)), &details); err != nil {
		t.Fatalf("details column is not JSON: %v", err)
	}
	if details["threshold"] != float64(10) {
		t.Errorf("details threshold = %v", details["threshold"])
	}
}

func TestAlertRowDefaults(t *testing.T) {
	alert := &schema.Alert{
		TenantID: "tenant-a",
		AlertID:  uuid.New(),
		Severity: 5,
		RuleName: "failed_login_threshold",
	}

	row, err := alertRow(alert)
	if err != nil {
		t.Fatalf("alertRow: %v", err)
	}

	ts, ok := row[2].(time.Time)
	if !ok || ts.IsZero() {
		t.Errorf("zero timestamp should default to now, got %v", row[2])
	}
	if row[8] != "{}" {
		t.Errorf("empty details should encode as {}, got %v", row[8])
	}
	if related := row[9].([]string); len(related) != 0 {
		t.Errorf("related_events should default to empty slice, got %v", related)
	}
	if tags := row[10].([]string); len(tags) != 0 {
		t.Errorf("tags should default to empty slice, got %v", tags)
	}
}

func TestPublishRejectsInvalidAlert(t *testing.T) {
	w := NewAlertWriter(&ClickHouseClient{config: DefaultClickHouseConfig()}, discardLogger())

	tests := []struct {
		name  string
		alert *schema.Alert
	}{
		{
			name:  "missing tenant",
			alert: &schema.Alert{AlertID: uuid.New(), Timestamp: time.Now(), RuleName: "r"},
		},
		{
			name:  "missing rule name",
			alert: &schema.Alert{TenantID: "t", AlertID: uuid.New(), Timestamp: time.Now()},
		},
		{
			name: "severity out of range",
			alert: &schema.Alert{
				TenantID: "t", AlertID: uuid.New(), Timestamp: time.Now(),
				RuleName: "r", Severity: 11,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Publish(t.Context(), tt.alert)
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x String);\n\nCREATE TABLE b (y String);\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
}
