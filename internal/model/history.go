package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Action identifies what a history entry records.
type Action string

const (
	ActionFactorUpdated    Action = "factor_updated"
	ActionRecalculation    Action = "recalculation"
	ActionWebhookTriggered Action = "webhook_triggered"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionFactorUpdated, ActionRecalculation, ActionWebhookTriggered:
		return true
	}
	return false
}

// TriggeredBy identifies the actor behind a calculation or factor change.
type TriggeredBy string

const (
	TriggeredByAPI     TriggeredBy = "api"
	TriggeredByWebhook TriggeredBy = "webhook"
	TriggeredBySystem  TriggeredBy = "system"
)

// Valid reports whether t is a known actor.
func (t TriggeredBy) Valid() bool {
	switch t {
	case TriggeredByAPI, TriggeredByWebhook, TriggeredBySystem:
		return true
	}
	return false
}

// Metadata is a free-form bag of primitive values attached to a history
// entry. Values are limited to strings, booleans, numbers and nil so the
// bag survives a JSON round trip unchanged in meaning.
type Metadata map[string]any

// Validate checks that every value is a primitive.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool, float64, float32, int, int64, int32:
		default:
			return eris.Errorf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// HistoryEntry is an immutable audit record for one factor change or
// recalculation attempt.
type HistoryEntry struct {
	ID          string      `json:"id"`
	ItemID      string      `json:"item_id"`
	Action      Action      `json:"action"`
	OldValue    *float64    `json:"old_value,omitempty"`
	NewValue    float64     `json:"new_value"`
	InputValue  *float64    `json:"input_value,omitempty"`
	ResultValue *float64    `json:"result_value,omitempty"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	Metadata    Metadata    `json:"metadata,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ErrInvalidEntry is returned when a history entry names an unknown action
// or actor.
var ErrInvalidEntry = eris.New("invalid history entry")

// Validate checks the action, the actor and the metadata bag.
func (e *HistoryEntry) Validate() error {
	if !e.Action.Valid() {
		return eris.Wrapf(ErrInvalidEntry, "unknown action %q", e.Action)
	}
	if !e.TriggeredBy.Valid() {
		return eris.Wrapf(ErrInvalidEntry, "unknown triggered_by %q", e.TriggeredBy)
	}
	return e.Metadata.Validate()
}

// Float returns a pointer to v. Handy for the optional history fields.
func Float(v float64) *float64 {
	return &v
}
