package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans events out over a Redis Pub/Sub channel. It is the
// implementation to use whenever more than one instance serves
// clients, since subscriptions on any instance see publishes from all
// of them.
type RedisBroker struct {
	client *redis.Client
	topic  string
}

// NewRedisBroker creates a broker on the session_updates topic.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, topic: TopicSessionUpdates}
}

// Publish sends the event to the topic. Errors are returned for
// logging only; callers treat publication as fire-and-forget.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.client.Publish(ctx, b.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe opens a Redis subscription and decodes incoming messages
// until ctx is cancelled or stop is called.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ps := b.client.Subscribe(ctx, b.topic)

	// Force the subscription to be established before returning so a
	// caller cannot miss events published right after Subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", b.topic, err)
	}

	out := make(chan Event, 16)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("Dropping undecodable broadcast event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { _ = ps.Close() }
	return out, stop, nil
}
