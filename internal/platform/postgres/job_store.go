package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/scheduler"
	"github.com/phrazzld/recur-api/internal/store"
)

// JobStore implements scheduler.JobStore using PostgreSQL. The scheduler
// replays persisted jobs into its queue at startup, so a process restart
// never drops a pending reminder.
type JobStore struct {
	db store.DBTX
}

// NewJobStore creates a JobStore.
func NewJobStore(db store.DBTX) *JobStore {
	return &JobStore{db: db}
}

// SaveJob inserts or replaces the job keyed by its ID.
func (s *JobStore) SaveJob(ctx context.Context, job *scheduler.Job) error {
	eventJSON, err := json.Marshal(job.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	query := `
		INSERT INTO scheduled_jobs (id, kind, fire_at, attempt, event, first_failed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			fire_at = EXCLUDED.fire_at,
			attempt = EXCLUDED.attempt,
			event = EXCLUDED.event,
			first_failed_at = EXCLUDED.first_failed_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		string(job.Kind),
		job.FireAt.UTC(),
		job.Attempt,
		eventJSON,
		job.FirstFailedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// DeleteJob removes the job. Deleting an absent job is a no-op.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := `DELETE FROM scheduled_jobs WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListJobs returns all persisted jobs ordered by fire time.
func (s *JobStore) ListJobs(ctx context.Context) ([]*scheduler.Job, error) {
	query := `
		SELECT id, kind, fire_at, attempt, event, first_failed_at
		FROM scheduled_jobs
		ORDER BY fire_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*scheduler.Job
	for rows.Next() {
		var (
			job       scheduler.Job
			kind      string
			eventJSON []byte
		)
		if err := rows.Scan(&job.ID, &kind, &job.FireAt, &job.Attempt, &eventJSON, &job.FirstFailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Kind = scheduler.JobKind(kind)

		var event events.Event
		if err := json.Unmarshal(eventJSON, &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job event for %s: %w", job.ID, err)
		}
		job.Event = &event
		job.FireAt = job.FireAt.UTC()

		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

var _ scheduler.JobStore = (*JobStore)(nil)
