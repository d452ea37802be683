// Package events publishes allocation and alert events to an external bus.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"icu-capacity-backend/config"
)

// Type names what happened.
type Type string

const (
	AllocationCreated  Type = "allocation.created"
	AllocationReleased Type = "allocation.released"
	BedStatusChanged   Type = "bed.status_changed"
	BedCreated         Type = "bed.created"
	PatientEnqueued    Type = "waitlist.enqueued"
	PatientCancelled   Type = "waitlist.cancelled"
	AlertRaised        Type = "alert.raised"
)

// Source is stamped on every event this service emits.
const Source = "icu-capacity-engine"

// Event is the envelope written to the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// New builds an event with a fresh id.
func New(t Type, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    Source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscriber streams published events until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// NewPublisher builds the publisher selected by cfg.Backend.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "redis":
		return NewRedisPublisher(cfg.RedisURL, cfg.Channel)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
