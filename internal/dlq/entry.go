package dlq

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/events"
)

// Failure reasons recorded on entries. Permanent failures skip the retry
// budget entirely; exhausted ones arrived here after the full policy ran.
const (
	ReasonPermanent = "permanent"
	ReasonExhausted = "retries_exhausted"
)

// Entry is one dead-lettered event with enough metadata to triage without
// consulting the original payload store.
type Entry struct {
	ID            uuid.UUID     `json:"id"`
	Event         *events.Event `json:"event"`
	SourceTopic   string        `json:"source_topic"`
	FailureReason string        `json:"failure_reason"`
	LastError     string        `json:"last_error"`
	RetryCount    int           `json:"retry_count"`
	FirstFailedAt time.Time     `json:"first_failed_at"`
	MovedToDLQAt  time.Time     `json:"moved_to_dlq_at"`

	// Audit fields set when an operator manually re-publishes the event.
	RetriedAt    *time.Time `json:"retried_at,omitempty"`
	RetriedBy    string     `json:"retried_by,omitempty"`
	RetryEventID *uuid.UUID `json:"retry_event_id,omitempty"`
}

// TopicStats summarizes dead-letter volume for one source topic.
type TopicStats struct {
	Topic  string     `json:"topic"`
	Count  int        `json:"count"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// DefaultRetention maps source topics to how long their dead-letter entries
// are kept. Reminder entries expire fastest: a stale reminder is moot.
func DefaultRetention() map[string]time.Duration {
	return map[string]time.Duration{
		events.TopicTaskEvents:  30 * 24 * time.Hour,
		events.TopicReminders:   7 * 24 * time.Hour,
		events.TopicTaskUpdates: 14 * 24 * time.Hour,
	}
}
