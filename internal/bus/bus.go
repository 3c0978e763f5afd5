// Package bus provides event bus implementations for search analytics events.
package bus

import (
	"context"
	"time"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "search.performed").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created.
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with the timestamp set to now.
func NewEvent(id, eventType, source string, payload any) Event {
	return Event{
		ID:        id,
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// Topics for different event types.
const (
	// TopicSearchPerformed carries one event per completed search.
	TopicSearchPerformed = "search.performed"

	// TopicSearchFallback carries one event per degraded (non-semantic) search.
	TopicSearchFallback = "search.fallback"

	// TopicEmbeddingFailure carries embedding backend failures.
	TopicEmbeddingFailure = "embedding.failure"

	// TopicListingUpserted carries listing ingest notifications.
	TopicListingUpserted = "listing.upserted"
)
