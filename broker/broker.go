// Package broker carries event envelopes over Redis Streams. Delivery is
// at-least-once: a message is acknowledged only after the consumer is done
// with it, and unacknowledged messages are redelivered. Exactly-once
// effects are the automation ledger's job, not the transport's.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"nexcrm/config"
	"nexcrm/models"
)

// NewClient builds a Redis client from app config.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Delivery is one message handed to a consumer: the envelope plus the
// stream id needed to acknowledge it.
type Delivery struct {
	MessageID string
	Event     models.EventEnvelope
}

// Publisher appends envelopes to the event stream.
type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// Publish appends one envelope. Returns the stream message id.
func (p *Publisher) Publish(ctx context.Context, event models.EventEnvelope) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"data": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return id, nil
}

// Consumer reads envelopes through a consumer group so multiple worker
// processes share the stream without seeing the same message twice under
// normal operation.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

func NewConsumer(client *redis.Client, stream, group, consumer string) *Consumer {
	return &Consumer{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Fetch blocks up to the given duration for new messages. Messages with a
// body that does not decode are acknowledged and dropped: redelivering a
// poison message forever helps nobody.
func (c *Consumer) Fetch(ctx context.Context, count int64, block time.Duration) ([]Delivery, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["data"].(string)
			if !ok {
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			var event models.EventEnvelope
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			deliveries = append(deliveries, Delivery{MessageID: msg.ID, Event: event})
		}
	}
	return deliveries, nil
}

// Ack marks a message as processed.
func (c *Consumer) Ack(ctx context.Context, messageID string) error {
	return c.client.XAck(ctx, c.stream, c.group, messageID).Err()
}
