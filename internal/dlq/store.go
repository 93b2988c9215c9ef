package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists dead-letter entries.
type Store interface {
	// Record inserts the entry.
	Record(ctx context.Context, entry *Entry) error

	// Get returns the entry by ID, or store.ErrEntryNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)

	// List returns entries, newest first, optionally filtered by source
	// topic (empty topic means all). Limit <= 0 applies a default.
	List(ctx context.Context, topic string, limit int) ([]*Entry, error)

	// MarkRetried records the manual-retry audit fields on the entry.
	MarkRetried(ctx context.Context, id uuid.UUID, actor string, retryEventID uuid.UUID, at time.Time) error

	// Stats returns per-topic counts and age bounds.
	Stats(ctx context.Context) ([]TopicStats, error)

	// PurgeExpired deletes entries whose topic's retention window has
	// passed. Returns the number of entries removed.
	PurgeExpired(ctx context.Context, retention map[string]time.Duration) (int64, error)
}
