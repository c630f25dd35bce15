package automation

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when a rule references an action type no
// handler was registered for.
var ErrUnknownAction = errors.New("unknown action type")

// ActionError carries enough context for a failed action chain to be
// retried or inspected later: the claim row stays in place, so the failure
// surfaces through the operational dead-letter path rather than broker
// redelivery.
type ActionError struct {
	RuleID        uint
	EntityType    string
	EntityID      uint
	ActionType    string
	TriggerEvent  string
	CorrelationID string
	Err           error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed for rule %d (%s %d, event %s): %v",
		e.ActionType, e.RuleID, e.EntityType, e.EntityID, e.TriggerEvent, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
