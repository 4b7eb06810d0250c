package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/siem-platform/detect-service/internal/schema"
)

// AlertWriter persists generated alerts to ClickHouse. The alerts table
// is a ReplacingMergeTree keyed by (tenant_id, alert_id), so re-publishing
// the same alert after a redelivery collapses to a single stored row.
type AlertWriter struct {
	client   *ClickHouseClient
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAlertWriter creates an alert writer backed by the given client.
func NewAlertWriter(client *ClickHouseClient, logger *slog.Logger) *AlertWriter {
	return &AlertWriter{
		client:   client,
		validate: validator.New(),
		logger:   logger,
	}
}

// Publish validates and inserts a single alert.
func (w *AlertWriter) Publish(ctx context.Context, alert *schema.Alert) error {
	if err := w.validate.Struct(alert); err != nil {
		return &StorageError{Op: "Publish", Err: fmt.Errorf("%w: %v", ErrInvalidAlert, err)}
	}

	row, err := alertRow(alert)
	if err != nil {
		return &StorageError{Op: "Publish", Err: fmt.Errorf("%w: %v", ErrInvalidAlert, err)}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.alerts (
			tenant_id, alert_id, timestamp, severity, rule_name,
			rule_description, actor, target, details, related_events, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.client.Database())

	if err := w.client.Exec(ctx, query, row...); err != nil {
		return WrapQueryError("Publish", err)
	}

	w.logger.Debug("alert persisted",
		"tenant_id", alert.TenantID,
		"alert_id", alert.AlertID.String(),
		"rule", alert.RuleName,
	)
	return nil
}

// alertRow converts an alert into the insert argument list. Details are
// stored as a JSON string column.
func alertRow(alert *schema.Alert) ([]any, error) {
	details := "{}"
	if len(alert.Details) > 0 {
		raw, err := json.Marshal(alert.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		details = string(raw)
	}

	related := alert.RelatedEvents
	if related == nil {
		related = []string{}
	}
	tags := alert.Tags
	if tags == nil {
		tags = []string{}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	actor, err := entityJSON(alert.Actor)
	if err != nil {
		return nil, fmt.Errorf("marshal actor: %w", err)
	}
	target, err := entityJSON(alert.Target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}

	return []any{
		alert.TenantID,
		alert.AlertID,
		ts,
		uint8(alert.Severity),
		alert.RuleName,
		alert.RuleDescription,
		actor,
		target,
		details,
		related,
		tags,
	}, nil
}

func entityJSON(e *schema.Entity) (string, error) {
	if e == nil {
		return "", nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
