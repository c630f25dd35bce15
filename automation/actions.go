package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"nexcrm/models"
)

var validate = validator.New()

// ActionContext is what a handler gets to work with: the triggering event,
// the matched rule, the claim row that admitted this execution, and the
// entity the claim is keyed on. Handlers must re-read current entity state
// rather than trust payload fields that may be stale by the time the claim
// is won.
type ActionContext struct {
	Event      models.EventEnvelope
	Rule       models.AutomationRule
	Action     models.RuleAction
	Execution  *models.AutomationExecution
	EntityType string
	EntityID   uint
}

// ActionResult reports what a handler produced.
type ActionResult struct {
	DealID *uint
}

// ActionHandler executes one action type. Handlers are registered once at
// startup and must be idempotent: a crash between claim and effect means
// the same action can run again against the same claim.
type ActionHandler interface {
	Type() string
	Execute(ctx context.Context, ac ActionContext) (*ActionResult, error)
}

// Registry maps action-type tags to handlers. Resolved once at startup,
// read-only afterwards.
type Registry struct {
	handlers map[string]ActionHandler
}

func NewRegistry(handlers ...ActionHandler) *Registry {
	r := &Registry{handlers: make(map[string]ActionHandler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

// Get resolves a handler by action type.
func (r *Registry) Get(actionType string) (ActionHandler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// decodeParams converts loosely-typed rule params into the handler's typed
// struct and validates it. Unknown action types never reach this point, so
// a validation failure here means a badly authored rule, not a bug.
func decodeParams(params map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
