package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"icu-capacity-backend/internal/logger"
)

// RedisPublisher publishes events on a Redis Pub/Sub channel and can stream them back.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to the Redis server at url.
func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts), channel: channel}, nil
}

// Publish marshals the event and publishes it to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"channel":    p.channel,
	}).Debug("Event published")
	return nil
}

// Subscribe streams events from the channel. The returned channel closes when ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	out := make(chan Event, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := decode(msg.Payload)
				if err != nil {
					logger.Log.Warnf("Failed to unmarshal event from channel %s: %v", p.channel, err)
					continue
				}
				select {
				case out <- event:
				default:
					// Subscriber channel full, skip event
					logger.Log.Warnf("Subscriber channel full for %s, skipping event %s", p.channel, event.ID)
				}
			}
		}
	}()
	return out, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func decode(payload string) (Event, error) {
	var event Event
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
