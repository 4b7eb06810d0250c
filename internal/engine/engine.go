// Package engine runs the detection rule set against incoming events with
// per-rule failure isolation.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siem-platform/detect-service/internal/metrics"
	"github.com/siem-platform/detect-service/internal/rules"
	"github.com/siem-platform/detect-service/internal/schema"
	"github.com/siem-platform/detect-service/internal/state"
)

// Engine owns the rule set and the shared state store. One engine instance
// serves the whole process; rules are evaluated sequentially in registration
// order for every event.
type Engine struct {
	store state.Store
	rules []rules.Rule
}

// New creates an engine over the given store and rule set.
func New(store state.Store, ruleSet []rules.Rule) *Engine {
	slog.Info("detection engine initialized", "rules_count", len(ruleSet))
	return &Engine{store: store, rules: ruleSet}
}

// ProcessEvent runs every rule against the event and returns the aggregated
// alerts in rule evaluation order. An event without tenant attribution is
// dropped outright. A failure in one rule is logged and contained: it can at
// most suppress that rule's alert for this event, never affect the others or
// fail the event itself.
func (e *Engine) ProcessEvent(ctx context.Context, event *schema.Event) []*schema.Alert {
	if event.TenantID == "" {
		slog.Warn("event missing tenant_id", "event_id", event.EventID)
		metrics.EventsDropped.Inc()
		return nil
	}

	slog.Debug("processing event",
		"tenant_id", event.TenantID,
		"event_id", event.EventID,
		"category", event.Category,
	)

	var alerts []*schema.Alert
	for _, rule := range e.rules {
		alert, err := e.runRule(ctx, rule, event)
		if err != nil {
			slog.Error("rule evaluation failed",
				"rule_name", rule.Name(),
				"error", err,
				"tenant_id", event.TenantID,
				"event_id", event.EventID,
			)
			metrics.RuleFailures.WithLabelValues(rule.Name()).Inc()
			continue
		}
		if alert == nil {
			continue
		}

		alerts = append(alerts, alert)
		metrics.AlertsGenerated.WithLabelValues(rule.Name()).Inc()
		slog.Info("alert generated",
			"tenant_id", event.TenantID,
			"rule_name", rule.Name(),
			"alert_id", alert.AlertID,
			"severity", alert.Severity,
		)
	}

	return alerts
}

// runRule evaluates a single rule, converting panics into errors so a defect
// in one rule cannot crash the pipeline.
func (e *Engine) runRule(ctx context.Context, rule rules.Rule, event *schema.Event) (alert *schema.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alert = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	triggered, err := rule.Evaluate(ctx, event)
	if err != nil || !triggered {
		return nil, err
	}
	return rule.GenerateAlert(ctx, event)
}

// Stats returns a diagnostic snapshot of the engine and its state store.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	storeStats, err := e.store.Stats(ctx)
	if err != nil {
		return EngineStats{}, fmt.Errorf("state store stats: %w", err)
	}
	return EngineStats{
		RulesLoaded: len(e.rules),
		StateStore:  storeStats,
	}, nil
}

// EngineStats is the engine's diagnostic snapshot.
type EngineStats struct {
	RulesLoaded int         `json:"rules_loaded"`
	StateStore  state.Stats `json:"state_store"`
}
