package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nexcrm/automation"
	"nexcrm/broker"
	"nexcrm/models"
)

type stubSource struct {
	acked []string
}

func (s *stubSource) EnsureGroup(_ context.Context) error { return nil }

func (s *stubSource) Fetch(_ context.Context, _ int64, _ time.Duration) ([]broker.Delivery, error) {
	return nil, nil
}

func (s *stubSource) Ack(_ context.Context, messageID string) error {
	s.acked = append(s.acked, messageID)
	return nil
}

type stubProcessor struct {
	err error
}

func (p *stubProcessor) ProcessEvent(_ context.Context, _ models.EventEnvelope) error {
	return p.err
}

func eventDelivery(messageID string) broker.Delivery {
	return broker.Delivery{
		MessageID: messageID,
		Event:     models.NewEvent(models.EventLeadStageChanged, 1, map[string]interface{}{"lead_id": float64(1)}),
	}
}

func TestEventWorkerAcksProcessedEvent(t *testing.T) {
	source := &stubSource{}
	ew := NewEventWorker(source, &stubProcessor{}, discardLogger())

	ew.process(context.Background(), eventDelivery("1-0"))

	assert.Equal(t, []string{"1-0"}, source.acked)
}

func TestEventWorkerAcksActionChainFailure(t *testing.T) {
	source := &stubSource{}
	processor := &stubProcessor{err: &automation.ActionError{
		RuleID:     1,
		ActionType: "create_deal",
		Err:        errors.New("boom"),
	}}
	ew := NewEventWorker(source, processor, discardLogger())

	// The claim is consumed; redelivery would only hit AlreadyClaimed.
	ew.process(context.Background(), eventDelivery("1-1"))

	assert.Equal(t, []string{"1-1"}, source.acked)
}

func TestEventWorkerLeavesTransportFailureUnacked(t *testing.T) {
	source := &stubSource{}
	processor := &stubProcessor{err: errors.New("connection refused")}
	ew := NewEventWorker(source, processor, discardLogger())

	ew.process(context.Background(), eventDelivery("1-2"))

	assert.Empty(t, source.acked, "the broker must redeliver the event")
}
