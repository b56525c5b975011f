package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventPublisher pushes serialized progress events onto a Redis Pub/Sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

// NewEventPublisher constructs a publisher bound to channel.
func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	return &EventPublisher{client: client, channel: channel}
}

// Enabled reports whether a Redis client is configured.
func (p *EventPublisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Publish sends payload to the configured channel.
func (p *EventPublisher) Publish(ctx context.Context, payload []byte) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}
