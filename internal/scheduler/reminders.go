package scheduler

import (
	"context"
	"log/slog"

	"github.com/phrazzld/recur-api/internal/events"
)

// ReminderConsumer bridges the event bus and the scheduler: it registers an
// exact-time job for every reminder.scheduled event and cancels pending jobs
// when the owning task completes.
//
// Subscribed to both the reminders topic (registration) and the task-events
// topic (cancellation). Cancellation is best-effort and race-tolerant: if the
// job already fired, the dispatcher's reminder_sent guard prevents a
// duplicate send.
type ReminderConsumer struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewReminderConsumer creates a ReminderConsumer.
func NewReminderConsumer(s *Scheduler, logger *slog.Logger) *ReminderConsumer {
	return &ReminderConsumer{
		scheduler: s,
		logger:    logger.With("component", "reminder_consumer"),
	}
}

// HandleEvent registers or cancels reminder jobs.
func (c *ReminderConsumer) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.TypeReminderScheduled:
		return c.register(ctx, event)
	case events.TypeTaskCompleted:
		return c.cancel(ctx, event)
	default:
		return nil
	}
}

// register schedules the reminder job. The deterministic job ID makes an
// edited reminder replace its predecessor (delete-then-recreate) instead of
// firing twice.
func (c *ReminderConsumer) register(ctx context.Context, event *events.Event) error {
	logger := c.logger.With(
		"event_id", event.EventID,
		"task_id", event.TaskID,
		"user_id", event.UserID,
	)

	var payload events.ReminderScheduledPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		// Permanent: log and drop rather than wedging the partition.
		logger.Error("malformed reminder.scheduled payload, dropping", "error", err)
		return nil
	}

	job := &Job{
		ID:     ReminderJobID(event.TaskID),
		Kind:   KindReminder,
		FireAt: payload.ReminderAt.UTC(),
		Event:  event,
	}
	if err := c.scheduler.Schedule(ctx, job); err != nil {
		// Uncommitted: the bus redelivers and scheduling is retried.
		return err
	}

	logger.Info("reminder job registered",
		"job_id", job.ID,
		"fire_at", job.FireAt)
	return nil
}

// cancel removes a pending reminder job for a completed task.
func (c *ReminderConsumer) cancel(ctx context.Context, event *events.Event) error {
	jobID := ReminderJobID(event.TaskID)
	if err := c.scheduler.Cancel(ctx, jobID); err != nil {
		return err
	}
	c.logger.Info("reminder job cancelled after task completion",
		"job_id", jobID,
		"task_id", event.TaskID,
		"user_id", event.UserID)
	return nil
}

var _ events.Handler = (*ReminderConsumer)(nil)
