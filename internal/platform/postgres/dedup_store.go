package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/store"
)

// DedupStore implements store.DedupStore using PostgreSQL. Claims rely on the
// primary key on event_id: INSERT ... ON CONFLICT DO NOTHING is the atomic
// check-then-set that makes exactly one racing worker win a redelivered
// event.
type DedupStore struct {
	db store.DBTX
}

// NewDedupStore creates a DedupStore.
func NewDedupStore(db store.DBTX) *DedupStore {
	return &DedupStore{db: db}
}

// Claim records the event ID as processed, returning whether this call won.
func (s *DedupStore) Claim(
	ctx context.Context,
	eventID uuid.UUID,
	eventType string,
	taskID uuid.UUID,
) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, event_type, task_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, eventID, eventType, taskID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Release removes a claim so the event can be reprocessed via redelivery.
func (s *DedupStore) Release(ctx context.Context, eventID uuid.UUID) error {
	query := `DELETE FROM processed_events WHERE event_id = $1`
	if _, err := s.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// PurgeOlderThan removes claims past the retention window.
func (s *DedupStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM processed_events WHERE processed_at < $1`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge processed events: %w", err)
	}
	return result.RowsAffected()
}

var _ store.DedupStore = (*DedupStore)(nil)
