package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"nexcrm/automation"
	"nexcrm/broker"
	"nexcrm/models"
)

// EventSource is the slice of the broker the worker consumes through.
type EventSource interface {
	EnsureGroup(ctx context.Context) error
	Fetch(ctx context.Context, count int64, block time.Duration) ([]broker.Delivery, error)
	Ack(ctx context.Context, messageID string) error
}

// EventProcessor runs an event through the rule engine.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event models.EventEnvelope) error
}

// EventWorker consumes the event stream and feeds the automation executor.
// Several replicas may run at once; the consumer group splits the stream
// between them and the claim protocol makes redelivery harmless.
type EventWorker struct {
	Consumer EventSource
	Executor EventProcessor
	Logger   *log.Logger

	BatchSize    int64
	BlockTimeout time.Duration
}

func NewEventWorker(consumer EventSource, executor EventProcessor, logger *log.Logger) *EventWorker {
	return &EventWorker{
		Consumer:     consumer,
		Executor:     executor,
		Logger:       logger,
		BatchSize:    10,
		BlockTimeout: 5 * time.Second,
	}
}

func (ew *EventWorker) Start(ctx context.Context) {
	if err := ew.Consumer.EnsureGroup(ctx); err != nil {
		ew.Logger.Printf("Failed to create consumer group: %v", err)
		return
	}

	ew.Logger.Println("Event worker started")

	for {
		select {
		case <-ctx.Done():
			ew.Logger.Println("Event worker shutting down...")
			return
		default:
		}

		deliveries, err := ew.Consumer.Fetch(ctx, ew.BatchSize, ew.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ew.Logger.Printf("Error fetching events: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		for _, d := range deliveries {
			ew.process(ctx, d)
		}
	}
}

func (ew *EventWorker) process(ctx context.Context, d broker.Delivery) {
	err := ew.Executor.ProcessEvent(ctx, d.Event)

	var actionErr *automation.ActionError
	switch {
	case err == nil:
		// Processed (or no-op): acknowledge.
	case errors.As(err, &actionErr):
		// The claim is consumed and the failure is on the dead-letter
		// path already; redelivering the event would hit AlreadyClaimed.
		ew.Logger.Printf("Action chain failed for event %s: %v", d.Event.ID, err)
	default:
		// Store or transport trouble: leave unacknowledged so the broker
		// redelivers, which the claim protocol makes safe.
		ew.Logger.Printf("Error processing event %s, leaving for redelivery: %v", d.Event.ID, err)
		return
	}

	if err := ew.Consumer.Ack(ctx, d.MessageID); err != nil {
		ew.Logger.Printf("Failed to ack message %s: %v", d.MessageID, err)
	}
}
