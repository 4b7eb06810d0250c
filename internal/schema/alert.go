package schema

import (
	"time"

	"github.com/google/uuid"
)

// MaxRelatedEvents caps the contributing event ids carried by an alert.
const MaxRelatedEvents = 10

// Alert is the immutable output record of a triggered rule. It is created
// once at trigger time and consumed once by the publisher; AlertID is freshly
// generated per trigger and is the idempotency key for the sink.
type Alert struct {
	TenantID        string         `json:"tenant_id" validate:"required"`
	AlertID         uuid.UUID      `json:"alert_id" validate:"required"`
	Timestamp       time.Time      `json:"timestamp" validate:"required"`
	Severity        int            `json:"severity" validate:"min=0,max=10"`
	RuleName        string         `json:"rule_name" validate:"required"`
	RuleDescription string         `json:"rule_description,omitempty"`
	Actor           *Entity        `json:"actor,omitempty"`
	Target          *Entity        `json:"target,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	RelatedEvents   []string       `json:"related_events,omitempty" validate:"max=10"`
	Tags            []string       `json:"tags,omitempty"`
}

// CapRelatedEvents truncates ids to the first MaxRelatedEvents entries.
func CapRelatedEvents(ids []string) []string {
	if len(ids) > MaxRelatedEvents {
		return ids[:MaxRelatedEvents]
	}
	return ids
}
