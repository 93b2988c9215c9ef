package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/events"
)

// JobKind routes a fired job to its registered handler.
type JobKind string

// Job kinds handled by this deployment.
const (
	// KindReminder delivers a reminder notification at fire time.
	KindReminder JobKind = "reminder"

	// KindRecurrenceRetry retries a failed successor-creation attempt.
	KindRecurrenceRetry JobKind = "recurrence_retry"

	// KindFlagUpdateRetry retries marking a delivered reminder as sent.
	KindFlagUpdateRetry JobKind = "flag_update_retry"
)

// Job is one scheduled unit of work. Jobs are identified by a deterministic
// ID so that re-scheduling a task's reminder replaces the previous job rather
// than stacking a duplicate next to it.
type Job struct {
	ID      string        `json:"id"`
	Kind    JobKind       `json:"kind"`
	FireAt  time.Time     `json:"fire_at"`
	Attempt int           `json:"attempt"`
	Event   *events.Event `json:"event"`

	// FirstFailedAt is set on retry jobs so the dead letter entry can report
	// when the failure sequence began.
	FirstFailedAt *time.Time `json:"first_failed_at,omitempty"`
}

// ReminderJobID derives the deterministic job ID for a task's reminder.
func ReminderJobID(taskID uuid.UUID) string {
	return fmt.Sprintf("reminder-task-%s", taskID)
}

// JobHandler executes a fired job. Implementations own their retry policy:
// a handler that wants another attempt schedules a follow-up job itself and
// returns nil. A returned error means the failure was not absorbed by any
// policy and is logged as unexpected.
type JobHandler interface {
	ExecuteJob(ctx context.Context, job *Job) error
}

// JobStore persists scheduled jobs so they survive process restarts.
type JobStore interface {
	// SaveJob inserts or replaces the job keyed by its ID.
	SaveJob(ctx context.Context, job *Job) error

	// DeleteJob removes the job. Deleting an absent job is a no-op.
	DeleteJob(ctx context.Context, jobID string) error

	// ListJobs returns all persisted jobs ordered by fire time, for recovery
	// at startup.
	ListJobs(ctx context.Context) ([]*Job, error)
}
