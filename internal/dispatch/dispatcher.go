// Package dispatch implements the notification dispatcher: the callback
// invoked when a reminder job fires, plus the bounded retry policies that
// back it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/recur-api/internal/dlq"
	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/notify"
	"github.com/phrazzld/recur-api/internal/platform/metrics"
	"github.com/phrazzld/recur-api/internal/scheduler"
	"github.com/phrazzld/recur-api/internal/store"
)

// JobScheduler is the slice of the scheduler the dispatcher uses to plan
// retry attempts.
type JobScheduler interface {
	Schedule(ctx context.Context, job *scheduler.Job) error
}

// Config holds dispatcher timeouts. Every external call is bounded so a hung
// dependency degrades to a retry rather than a stuck worker.
type Config struct {
	SendTimeout  time.Duration
	StoreTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		SendTimeout:  10 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}

// Dispatcher delivers reminder notifications when their jobs fire, drives the
// per-class retry policies, and escalates exhausted events to the dead letter
// store.
type Dispatcher struct {
	tasks     store.TaskStore
	sender    notify.Sender
	jobs      JobScheduler
	deadLetts *dlq.Service
	config    Config

	reminderPolicy RetryPolicy
	updatePolicy   RetryPolicy

	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	tasks store.TaskStore,
	sender notify.Sender,
	jobs JobScheduler,
	deadLetters *dlq.Service,
	config Config,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Dispatcher {
	if config.SendTimeout == 0 {
		config.SendTimeout = DefaultConfig().SendTimeout
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Dispatcher{
		tasks:          tasks,
		sender:         sender,
		jobs:           jobs,
		deadLetts:      deadLetters,
		config:         config,
		reminderPolicy: ReminderDeliveryPolicy(),
		updatePolicy:   TaskUpdatePolicy(),
		metrics:        collector,
		logger:         logger.With("component", "dispatcher"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteJob routes a fired job to the appropriate path.
func (d *Dispatcher) ExecuteJob(ctx context.Context, job *scheduler.Job) error {
	switch job.Kind {
	case scheduler.KindReminder:
		return d.executeReminder(ctx, job)
	case scheduler.KindFlagUpdateRetry:
		return d.executeFlagUpdate(ctx, job)
	default:
		return fmt.Errorf("dispatcher cannot handle job kind %q", job.Kind)
	}
}

// executeReminder attempts one reminder delivery. Expected failures are
// absorbed into the retry policy; only truly unexpected conditions surface as
// an error.
func (d *Dispatcher) executeReminder(ctx context.Context, job *scheduler.Job) error {
	event := job.Event
	logger := d.logger.With(
		"event_id", event.EventID,
		"event_type", event.Type,
		"task_id", event.TaskID,
		"user_id", event.UserID,
		"attempt_count", job.Attempt,
	)

	var payload events.ReminderScheduledPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		// Permanent: a malformed payload will never get better. Straight to
		// the dead letter store without spending the retry budget.
		logger.Error("malformed reminder payload, moving to dead letter store", "error", err)
		d.recordDeadLetter(ctx, job, dlq.ReasonPermanent, err.Error())
		return nil
	}

	d.metrics.RecordDispatchDelay(d.now().Sub(job.FireAt).Seconds())

	// Idempotency guard: consult the task's current state before sending.
	// This also implements fire-time cancellation for completed or deleted
	// tasks whose cancel signal lost the race.
	sctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	task, err := d.tasks.GetTask(sctx, event.UserID, event.TaskID)
	cancel()
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		logger.Info("task deleted before reminder fired, skipping delivery")
		return nil
	case err != nil:
		// Transient store failure: retry the whole delivery attempt.
		logger.Warn("task lookup failed before delivery", "error", err)
		d.scheduleRetryOrEscalate(ctx, job, &payload, err)
		return nil
	case task.ReminderSent:
		logger.Info("reminder already sent, skipping duplicate delivery")
		return nil
	case task.Completed:
		logger.Info("task completed before reminder fired, skipping delivery")
		return nil
	}

	subject := fmt.Sprintf("Reminder: %s", payload.Title)
	body := reminderBody(&payload)

	nctx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err = d.sender.Send(nctx, payload.Target, subject, body)
	cancel()
	if err != nil {
		logger.Warn("reminder delivery failed",
			"error", err,
			"attempt_count", job.Attempt+1)
		d.scheduleRetryOrEscalate(ctx, job, &payload, err)
		return nil
	}

	d.metrics.RecordReminderSent()
	d.metrics.RecordEventProcessed(event.Type)
	logger.Info("reminder delivered", "target", payload.Target)

	// The flag write is retried independently of delivery: a delivered but
	// unflagged reminder must not be re-sent.
	d.markReminderSent(ctx, job, logger)
	return nil
}

// markReminderSent sets reminder_sent, scheduling an independent retry job if
// the write fails.
func (d *Dispatcher) markReminderSent(ctx context.Context, job *scheduler.Job, logger *slog.Logger) {
	sctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	err := d.tasks.SetReminderSent(sctx, job.Event.UserID, job.Event.TaskID)
	cancel()
	if err == nil {
		return
	}

	logger.Warn("failed to set reminder_sent flag, scheduling flag retry", "error", err)

	firstFailed := d.now()
	retry := &scheduler.Job{
		ID:            job.ID + "-flag",
		Kind:          scheduler.KindFlagUpdateRetry,
		FireAt:        d.now().Add(d.updatePolicy.Backoff(1)),
		Attempt:       1,
		Event:         job.Event,
		FirstFailedAt: &firstFailed,
	}
	d.metrics.RecordRetry(d.updatePolicy.Class)
	if err := d.jobs.Schedule(ctx, retry); err != nil {
		logger.Error("failed to schedule flag update retry", "error", err)
	}
}

// executeFlagUpdate retries the reminder_sent write under the task-update
// policy.
func (d *Dispatcher) executeFlagUpdate(ctx context.Context, job *scheduler.Job) error {
	logger := d.logger.With(
		"event_id", job.Event.EventID,
		"task_id", job.Event.TaskID,
		"user_id", job.Event.UserID,
		"attempt_count", job.Attempt,
	)

	sctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	err := d.tasks.SetReminderSent(sctx, job.Event.UserID, job.Event.TaskID)
	cancel()
	if err == nil {
		logger.Info("reminder_sent flag updated")
		return nil
	}
	if errors.Is(err, store.ErrTaskNotFound) {
		logger.Info("task deleted, abandoning flag update")
		return nil
	}

	attempt := job.Attempt + 1
	if d.updatePolicy.Exhausted(attempt) {
		logger.Error("flag update retries exhausted, moving to dead letter store",
			"error", err,
			"attempt_count", attempt)
		d.recordDeadLetterTopic(ctx, job, events.TopicTaskUpdates, dlq.ReasonExhausted, err.Error(), attempt)
		return nil
	}

	logger.Warn("flag update failed, scheduling next attempt",
		"error", err,
		"attempt_count", attempt)
	d.metrics.RecordRetry(d.updatePolicy.Class)
	next := *job
	next.Attempt = attempt
	next.FireAt = d.now().Add(d.updatePolicy.Backoff(attempt))
	if err := d.jobs.Schedule(ctx, &next); err != nil {
		logger.Error("failed to schedule flag update retry", "error", err)
	}
	return nil
}

// scheduleRetryOrEscalate advances the reminder retry policy after a failed
// attempt: either schedules the next attempt or moves the event to the dead
// letter store with an operator alert and a best-effort user notification.
func (d *Dispatcher) scheduleRetryOrEscalate(
	ctx context.Context,
	job *scheduler.Job,
	payload *events.ReminderScheduledPayload,
	cause error,
) {
	attempt := job.Attempt + 1

	if !d.reminderPolicy.Exhausted(attempt) {
		d.metrics.RecordRetry(d.reminderPolicy.Class)
		next := *job
		next.Attempt = attempt
		next.FireAt = d.now().Add(d.reminderPolicy.Backoff(attempt))
		if next.FirstFailedAt == nil {
			firstFailed := d.now()
			next.FirstFailedAt = &firstFailed
		}
		if err := d.jobs.Schedule(ctx, &next); err != nil {
			d.logger.Error("failed to schedule reminder retry",
				"event_id", job.Event.EventID,
				"task_id", job.Event.TaskID,
				"error", err)
		}
		return
	}

	// Operator alert: carries enough context to triage without consulting
	// the original payload store.
	d.logger.Error("reminder delivery retries exhausted",
		"event_id", job.Event.EventID,
		"event_type", job.Event.Type,
		"task_id", job.Event.TaskID,
		"user_id", job.Event.UserID,
		"target", payload.Target,
		"reminder_at", payload.ReminderAt,
		"due_at", payload.DueAt,
		"attempt_count", attempt,
		"error", cause)

	d.recordDeadLetterTopic(ctx, job, events.TopicReminders, dlq.ReasonExhausted, cause.Error(), attempt)

	// Best-effort user-facing failure notice. Not retried: failure here is
	// logged and dropped.
	nctx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()
	err := d.sender.Send(nctx, payload.Target,
		fmt.Sprintf("We couldn't deliver your reminder: %s", payload.Title),
		fmt.Sprintf(
			"Your reminder for %q scheduled at %s could not be delivered after repeated attempts. "+
				"The task is still due at %s.",
			payload.Title,
			payload.ReminderAt.Format(time.RFC3339),
			payload.DueAt.Format(time.RFC3339),
		))
	if err != nil {
		d.logger.Warn("failed to send delivery-failure notice",
			"task_id", job.Event.TaskID,
			"user_id", job.Event.UserID,
			"error", err)
	}
}

func (d *Dispatcher) recordDeadLetter(ctx context.Context, job *scheduler.Job, reason, lastError string) {
	d.recordDeadLetterTopic(ctx, job, events.TopicReminders, reason, lastError, job.Attempt)
}

func (d *Dispatcher) recordDeadLetterTopic(
	ctx context.Context,
	job *scheduler.Job,
	topic, reason, lastError string,
	retryCount int,
) {
	firstFailed := d.now()
	if job.FirstFailedAt != nil {
		firstFailed = *job.FirstFailedAt
	}
	if _, err := d.deadLetts.Record(ctx, job.Event, topic, reason, lastError, retryCount, firstFailed); err != nil {
		d.logger.Error("failed to record dead letter entry",
			"event_id", job.Event.EventID,
			"task_id", job.Event.TaskID,
			"error", err)
	}
}

func reminderBody(p *events.ReminderScheduledPayload) string {
	body := fmt.Sprintf("Task: %s\nDue: %s\n", p.Title, p.DueAt.Format(time.RFC3339))
	if p.Description != "" {
		body += fmt.Sprintf("\n%s\n", p.Description)
	}
	return body
}

var _ scheduler.JobHandler = (*Dispatcher)(nil)
