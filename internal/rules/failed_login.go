package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siem-platform/detect-service/internal/schema"
	"github.com/siem-platform/detect-service/internal/state"
)

// FailedLoginRuleName is the rule identifier carried on generated alerts.
const FailedLoginRuleName = "failed_login_threshold"

// FailedLoginConfig tunes the failed-login threshold rule.
type FailedLoginConfig struct {
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	// SuppressionTTL bounds how long a (tenant, actor) pair stays
	// suppressed after alerting. Zero keeps the pair suppressed for the
	// store's lifetime.
	SuppressionTTL time.Duration `yaml:"suppression_ttl"`
}

// DefaultFailedLoginConfig returns the default rule tuning: 10 failed logins
// within 5 minutes per actor.
func DefaultFailedLoginConfig() FailedLoginConfig {
	return FailedLoginConfig{
		Threshold: 10,
		Window:    5 * time.Minute,
	}
}

// FailedLoginRule detects repeated failed login attempts by one actor within
// a sliding window. All of its state, including alert suppression, lives in
// the shared store so concurrent evaluation and multi-instance deployments
// stay correct.
type FailedLoginRule struct {
	store  state.Store
	config FailedLoginConfig
}

// NewFailedLoginRule binds the rule to the shared state store.
func NewFailedLoginRule(store state.Store, cfg FailedLoginConfig) *FailedLoginRule {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultFailedLoginConfig().Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultFailedLoginConfig().Window
	}
	return &FailedLoginRule{store: store, config: cfg}
}

// Name implements Rule.
func (r *FailedLoginRule) Name() string {
	return FailedLoginRuleName
}

// Evaluate implements Rule. It matches auth events carrying a positive
// failed_login_count whose outcome, if present, is not success, appends the
// attempt to the actor's window and triggers once the in-window count reaches
// the threshold for a not-yet-suppressed (tenant, actor) pair.
func (r *FailedLoginRule) Evaluate(ctx context.Context, event *schema.Event) (bool, error) {
	if event.Category != "auth" {
		return false, nil
	}
	if event.AttrFloat("failed_login_count") <= 0 {
		return false, nil
	}
	if event.Outcome == "success" {
		return false, nil
	}

	actorID := event.ActorID()
	if actorID == "" {
		slog.Debug("event missing actor information", "event_id", event.EventID)
		return false, nil
	}

	entries, err := r.store.AppendAndList(ctx, r.windowKey(event.TenantID, actorID), state.Entry{
		EventID:   event.EventID,
		Timestamp: event.Timestamp,
		Fields:    map[string]string{"source_ip": event.AttrString("source_ip")},
	}, r.config.Window)
	if err != nil {
		return false, fmt.Errorf("append failed login: %w", err)
	}

	slog.Debug("failed login count",
		"tenant_id", event.TenantID,
		"actor_id", actorID,
		"count", len(entries),
		"threshold", r.config.Threshold,
	)

	if len(entries) < r.config.Threshold {
		return false, nil
	}

	suppKey := r.suppressionKey(event.TenantID, actorID)
	suppressed, err := r.store.IsSuppressed(ctx, suppKey)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		slog.Debug("already alerted for actor", "actor_id", actorID)
		return false, nil
	}

	if err := r.store.MarkSuppressed(ctx, suppKey, r.config.SuppressionTTL); err != nil {
		return false, fmt.Errorf("mark suppression: %w", err)
	}
	return true, nil
}

// GenerateAlert implements Rule. It re-reads the actor's window without
// mutating it and assembles the alert context from the contributing attempts.
func (r *FailedLoginRule) GenerateAlert(ctx context.Context, event *schema.Event) (*schema.Alert, error) {
	actorID := event.ActorID()

	entries, err := r.store.ListInWindow(ctx, r.windowKey(event.TenantID, actorID), r.config.Window)
	if err != nil {
		return nil, fmt.Errorf("list failed logins: %w", err)
	}

	relatedEvents := make([]string, 0, len(entries))
	seenIPs := make(map[string]struct{})
	sourceIPs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.EventID != "" {
			relatedEvents = append(relatedEvents, e.EventID)
		}
		if ip := e.Field("source_ip"); ip != "" {
			if _, ok := seenIPs[ip]; !ok {
				seenIPs[ip] = struct{}{}
				sourceIPs = append(sourceIPs, ip)
			}
		}
	}

	actor := &schema.Entity{Type: "user", ID: actorID, Name: actorID}
	if event.Actor != nil {
		if event.Actor.Type != "" {
			actor.Type = event.Actor.Type
		}
		if event.Actor.Name != "" {
			actor.Name = event.Actor.Name
		}
	}

	details := map[string]any{
		"failed_login_count": len(entries),
		"threshold":          r.config.Threshold,
		"window_minutes":     int(r.config.Window.Minutes()),
		"source_ips":         sourceIPs,
		"last_attempt":       event.Timestamp,
	}
	if len(entries) > 0 {
		details["first_attempt"] = entries[0].Timestamp
	}

	return &schema.Alert{
		TenantID:  event.TenantID,
		AlertID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		Severity:  8,
		RuleName:  FailedLoginRuleName,
		RuleDescription: fmt.Sprintf("Detected %d failed login attempts in %d minutes",
			len(entries), int(r.config.Window.Minutes())),
		Actor:         actor,
		Target:        event.Target,
		Details:       details,
		RelatedEvents: schema.CapRelatedEvents(relatedEvents),
		Tags:          []string{"brute-force", "authentication", "failed-login"},
	}, nil
}

func (r *FailedLoginRule) windowKey(tenantID, actorID string) string {
	return tenantID + ":failed_login:" + actorID
}

func (r *FailedLoginRule) suppressionKey(tenantID, actorID string) string {
	return FailedLoginRuleName + ":" + tenantID + ":" + actorID
}
