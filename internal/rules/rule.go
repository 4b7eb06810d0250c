// Package rules provides the detection rule contract and the built-in rule
// set. Rules are a small closed set of concrete types evaluated in-process:
// each is constructed once, bound to the shared state store and reused for
// every event the engine sees.
package rules

import (
	"context"

	"github.com/siem-platform/detect-service/internal/schema"
)

// Rule is one unit of detection logic.
//
// Evaluate decides whether the event should raise an alert now, updating
// shared window state as a side effect. Missing optional fields (tenant,
// actor, attributes) are a non-match, never an error. GenerateAlert is called
// only after Evaluate returned true for the same event and must query the
// store with the same correlation key and window Evaluate used.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, event *schema.Event) (bool, error)
	GenerateAlert(ctx context.Context, event *schema.Event) (*schema.Alert, error)
}
