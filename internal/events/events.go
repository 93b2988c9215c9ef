package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types flowing through the bus.
const (
	TypeTaskCompleted     = "task.completed"
	TypeTaskCreated       = "task.created"
	TypeReminderScheduled = "reminder.scheduled"
)

// Topic names. Each topic has a paired dead-letter topic named by DLQTopic.
const (
	TopicTaskEvents  = "task-events"
	TopicReminders   = "reminders"
	TopicTaskUpdates = "task-updates"
)

// DLQTopic returns the dead-letter topic paired with the given source topic.
func DLQTopic(topic string) string {
	return "dlq-" + topic
}

// Event is the unit that flows through the EventBus. EventID is globally
// unique and stable across publisher retries; it is the idempotency key for
// consumers. UserID doubles as the partition key, so a user's events are
// delivered to a consumer group in publish order.
type Event struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       string          `json:"event_type"`
	UserID     uuid.UUID       `json:"user_id"`
	TaskID     uuid.UUID       `json:"task_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New creates an Event with a fresh EventID and the payload serialized as JSON.
func New(eventType string, userID, taskID uuid.UUID, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:    uuid.New(),
		Type:       eventType,
		UserID:     userID,
		TaskID:     taskID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Key returns the partition key used for ordering.
func (e *Event) Key() string {
	return e.UserID.String()
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler processes a single event. Returning a non-nil error leaves the
// event uncommitted so the bus redelivers it; handlers must therefore be
// idempotent.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Publisher publishes events onto a topic.
type Publisher interface {
	// Publish appends the event to the topic, keyed by the event's partition
	// key. Returns once the bus has acknowledged the append.
	Publish(ctx context.Context, topic string, event *Event) error
}

// Subscriber delivers a topic's events to a consumer group.
type Subscriber interface {
	// Subscribe registers the handler for the topic under the given consumer
	// group and starts delivery. Delivery is at-least-once and ordered per
	// partition key. Subscribe returns after the consumer is running;
	// delivery stops when ctx is cancelled.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}

// EventBus combines publishing and subscribing over a durable, partitioned log.
type EventBus interface {
	Publisher
	Subscriber

	// Close flushes producers and stops all consumers.
	Close() error
}
