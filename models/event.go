package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types carried on the stream.
const (
	EventLeadStageChanged = "lead.stage.changed"
	EventMessageReceived  = "message.received"
	EventDealCreated      = "deal.created"
	EventSLABreach        = "sla.breach"
)

// EventEnvelope is the wire shape of one domain event. It is not a table:
// delivery state lives in the broker, execution state in the claim ledger.
// Delivery is at least once, so consumers must treat a repeated ID as the
// same cause.
type EventEnvelope struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	OrganizationID uint                   `json:"organization_id"`
	Payload        map[string]interface{} `json:"payload"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// NewEvent builds an envelope with a fresh id. The correlation id is left
// empty: an event with no upstream cause correlates to itself.
func NewEvent(eventType string, organizationID uint, payload map[string]interface{}) EventEnvelope {
	return EventEnvelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		OrganizationID: organizationID,
		Payload:        payload,
		OccurredAt:     time.Now().UTC(),
	}
}

// Correlation returns the id that chains derived effects back to the
// original cause: the explicit correlation id when set, the event's own
// id otherwise.
func (e EventEnvelope) Correlation() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.ID
}

// PayloadUint reads a numeric payload field. JSON transit turns numbers
// into float64, in-process producers hand us Go ints, so both are
// accepted. Missing or non-numeric fields read as zero.
func (e EventEnvelope) PayloadUint(key string) uint {
	switch n := e.Payload[key].(type) {
	case float64:
		return uint(n)
	case int:
		return uint(n)
	case int64:
		return uint(n)
	case uint:
		return n
	case uint64:
		return uint(n)
	}
	return 0
}

// PayloadString reads a string payload field, "" when missing.
func (e EventEnvelope) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
