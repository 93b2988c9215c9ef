package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/dlq"
	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/store"
)

const defaultListLimit = 100

// DLQStore implements dlq.Store using PostgreSQL.
type DLQStore struct {
	db store.DBTX
}

// NewDLQStore creates a DLQStore.
func NewDLQStore(db store.DBTX) *DLQStore {
	return &DLQStore{db: db}
}

// Record inserts the entry.
func (s *DLQStore) Record(ctx context.Context, entry *dlq.Entry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter event: %w", err)
	}

	query := `
		INSERT INTO dlq_entries
			(id, event, source_topic, failure_reason, last_error, retry_count,
			 first_failed_at, moved_to_dlq_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		eventJSON,
		entry.SourceTopic,
		entry.FailureReason,
		entry.LastError,
		entry.RetryCount,
		entry.FirstFailedAt.UTC(),
		entry.MovedToDLQAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entry %s already recorded", store.ErrInvalidEntity, entry.ID)
		}
		return fmt.Errorf("failed to record dead letter entry: %w", err)
	}
	return nil
}

// Get returns the entry by ID.
func (s *DLQStore) Get(ctx context.Context, id uuid.UUID) (*dlq.Entry, error) {
	query := `
		SELECT id, event, source_topic, failure_reason, last_error, retry_count,
		       first_failed_at, moved_to_dlq_at, retried_at, retried_by, retry_event_id
		FROM dlq_entries
		WHERE id = $1
	`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}
	return entry, nil
}

// List returns entries newest first, optionally filtered by source topic.
func (s *DLQStore) List(ctx context.Context, topic string, limit int) ([]*dlq.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if topic == "" {
		query := `
			SELECT id, event, source_topic, failure_reason, last_error, retry_count,
			       first_failed_at, moved_to_dlq_at, retried_at, retried_by, retry_event_id
			FROM dlq_entries
			ORDER BY moved_to_dlq_at DESC
			LIMIT $1
		`
		rows, err = s.db.QueryContext(ctx, query, limit)
	} else {
		query := `
			SELECT id, event, source_topic, failure_reason, last_error, retry_count,
			       first_failed_at, moved_to_dlq_at, retried_at, retried_by, retry_event_id
			FROM dlq_entries
			WHERE source_topic = $1
			ORDER BY moved_to_dlq_at DESC
			LIMIT $2
		`
		rows, err = s.db.QueryContext(ctx, query, topic, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter rows: %w", err)
	}
	return entries, nil
}

// MarkRetried records the manual-retry audit fields.
func (s *DLQStore) MarkRetried(
	ctx context.Context,
	id uuid.UUID,
	actor string,
	retryEventID uuid.UUID,
	at time.Time,
) error {
	query := `
		UPDATE dlq_entries
		SET retried_at = $1, retried_by = $2, retry_event_id = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, at.UTC(), actor, retryEventID, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry retried: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", store.ErrEntryNotFound, id)
	}
	return nil
}

// Stats returns per-topic counts and age bounds.
func (s *DLQStore) Stats(ctx context.Context) ([]dlq.TopicStats, error) {
	query := `
		SELECT source_topic, COUNT(*), MIN(moved_to_dlq_at), MAX(moved_to_dlq_at)
		FROM dlq_entries
		GROUP BY source_topic
		ORDER BY source_topic
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []dlq.TopicStats
	for rows.Next() {
		var st dlq.TopicStats
		if err := rows.Scan(&st.Topic, &st.Count, &st.Oldest, &st.Newest); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}
	return stats, nil
}

// PurgeExpired deletes entries past their topic's retention window.
func (s *DLQStore) PurgeExpired(
	ctx context.Context,
	retention map[string]time.Duration,
) (int64, error) {
	var total int64
	now := time.Now().UTC()

	query := `DELETE FROM dlq_entries WHERE source_topic = $1 AND moved_to_dlq_at < $2`
	for topic, ttl := range retention {
		result, err := s.db.ExecContext(ctx, query, topic, now.Add(-ttl))
		if err != nil {
			return total, fmt.Errorf("failed to purge topic %s: %w", topic, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += rows
	}
	return total, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*dlq.Entry, error) {
	var (
		entry        dlq.Entry
		eventJSON    []byte
		retriedBy    sql.NullString
		retryEventID uuid.NullUUID
	)
	err := row.Scan(
		&entry.ID,
		&eventJSON,
		&entry.SourceTopic,
		&entry.FailureReason,
		&entry.LastError,
		&entry.RetryCount,
		&entry.FirstFailedAt,
		&entry.MovedToDLQAt,
		&entry.RetriedAt,
		&retriedBy,
		&retryEventID,
	)
	if err != nil {
		return nil, err
	}

	var event events.Event
	if err := json.Unmarshal(eventJSON, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry event: %w", err)
	}
	entry.Event = &event
	entry.RetriedBy = retriedBy.String
	if retryEventID.Valid {
		entry.RetryEventID = &retryEventID.UUID
	}
	return &entry, nil
}

var _ dlq.Store = (*DLQStore)(nil)
