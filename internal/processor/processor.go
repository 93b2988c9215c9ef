// Package processor implements the recurring task processor: it consumes
// task-completion events and idempotently creates the next occurrence of
// recurring tasks.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/recur-api/internal/dispatch"
	"github.com/phrazzld/recur-api/internal/dlq"
	"github.com/phrazzld/recur-api/internal/domain"
	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/platform/metrics"
	"github.com/phrazzld/recur-api/internal/recurrence"
	"github.com/phrazzld/recur-api/internal/scheduler"
	"github.com/phrazzld/recur-api/internal/store"
)

// Config holds processor timeouts.
type Config struct {
	// CreateTimeout bounds the task-creation call to the external store.
	CreateTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{CreateTimeout: 10 * time.Second}
}

// Processor turns task.completed events into successor occurrences.
// Processing one completion event walks the states Received -> Deduped(skip)
// or Evaluated -> {no recurrence | end reached | successor created}.
type Processor struct {
	dedup     store.DedupStore
	tasks     store.TaskStore
	publisher events.Publisher
	jobs      dispatch.JobScheduler
	deadLetts *dlq.Service
	config    Config
	policy    dispatch.RetryPolicy
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Processor.
func New(
	dedup store.DedupStore,
	tasks store.TaskStore,
	publisher events.Publisher,
	jobs dispatch.JobScheduler,
	deadLetters *dlq.Service,
	config Config,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Processor {
	if config.CreateTimeout == 0 {
		config.CreateTimeout = DefaultConfig().CreateTimeout
	}
	return &Processor{
		dedup:     dedup,
		tasks:     tasks,
		publisher: publisher,
		jobs:      jobs,
		deadLetts: deadLetters,
		config:    config,
		policy:    dispatch.RecurrencePolicy(),
		metrics:   collector,
		logger:    logger.With("component", "recurring_task_processor"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent processes one task-events message. Non-completion events are
// ignored. Returning nil commits the event; expected failures are absorbed
// into the retry policy, so only the dedup store being unreachable leaves the
// event uncommitted for redelivery.
func (p *Processor) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeTaskCompleted {
		return nil
	}

	logger := p.logger.With(
		"event_id", event.EventID,
		"event_type", event.Type,
		"task_id", event.TaskID,
		"user_id", event.UserID,
	)

	var payload events.TaskCompletedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		logger.Error("malformed completion payload, moving to dead letter store", "error", err)
		p.recordDeadLetter(ctx, event, dlq.ReasonPermanent, err.Error(), 0, p.now())
		return nil
	}

	if payload.RecurrenceRule == "" {
		logger.Debug("task is not recurring, nothing to do")
		return nil
	}

	// Atomic claim: exactly one worker wins a redelivered event.
	claimed, err := p.dedup.Claim(ctx, event.EventID, event.Type, event.TaskID)
	if err != nil {
		// Leave uncommitted; the bus will redeliver and the claim stays
		// correct because it never happened.
		return fmt.Errorf("dedup claim failed: %w", err)
	}
	if !claimed {
		p.metrics.RecordEventDuplicate(event.Type)
		logger.Info("event already processed, skipping")
		return nil
	}

	if err := p.createSuccessor(ctx, event, &payload, logger); err != nil {
		p.handleFailure(ctx, event, 1, p.now(), err, logger)
	}
	return nil
}

// createSuccessor computes the next occurrence and requests creation through
// the external task store.
func (p *Processor) createSuccessor(
	ctx context.Context,
	event *events.Event,
	payload *events.TaskCompletedPayload,
	logger *slog.Logger,
) error {
	rule, err := recurrence.Parse(payload.RecurrenceRule)
	if err != nil {
		// Rules are validated at task creation, so a bad rule in an event is
		// permanent corruption, not a transient fault.
		logger.Error("invalid recurrence rule in completion event",
			"rule", payload.RecurrenceRule,
			"error", err)
		p.recordDeadLetter(ctx, event, dlq.ReasonPermanent, err.Error(), 0, p.now())
		return nil
	}

	// Anchor on the completed occurrence's due date; completion time is the
	// fallback for tasks that never had one.
	anchor := payload.CompletedAt
	if payload.DueAt != nil {
		anchor = *payload.DueAt
	}

	next := recurrence.NextOccurrence(rule, anchor, payload.RecurrenceEnd)
	if next == nil {
		logger.Info("recurrence end reached, no further occurrence",
			"rule", rule.String(),
			"recurrence_end", payload.RecurrenceEnd)
		return nil
	}

	parentID := event.TaskID
	spec := domain.TaskSpec{
		UserID:         event.UserID,
		Title:          payload.Title,
		Description:    payload.Description,
		Priority:       payload.Priority,
		Tags:           payload.Tags,
		RecurrenceRule: payload.RecurrenceRule,
		RecurrenceEnd:  payload.RecurrenceEnd,
		DueAt:          next,
		ReminderOffset: payload.ReminderOffset,
		ParentTaskID:   &parentID,
	}

	cctx, cancel := context.WithTimeout(ctx, p.config.CreateTimeout)
	newID, err := p.tasks.CreateTask(cctx, spec)
	cancel()
	if err != nil {
		return fmt.Errorf("successor creation failed: %w", err)
	}

	logger.Info("successor occurrence created",
		"new_task_id", newID,
		"due_at", next,
		"rule", rule.String())
	p.metrics.RecordEventProcessed(event.Type)

	created, err := events.New(events.TypeTaskCreated, event.UserID, newID, events.TaskCreatedPayload{
		Title:        payload.Title,
		DueAt:        next,
		ParentTaskID: &parentID,
	})
	if err != nil {
		return fmt.Errorf("failed to build task.created event: %w", err)
	}
	if err := p.publisher.Publish(ctx, events.TopicTaskEvents, created); err != nil {
		// The successor exists; losing the announcement is logged, not
		// retried, since downstream consumers resync from the task store.
		logger.Warn("failed to publish task.created event",
			"new_task_id", newID,
			"error", err)
	}
	return nil
}

// ExecuteJob retries a failed successor creation under the recurrence policy.
func (p *Processor) ExecuteJob(ctx context.Context, job *scheduler.Job) error {
	if job.Kind != scheduler.KindRecurrenceRetry {
		return fmt.Errorf("processor cannot handle job kind %q", job.Kind)
	}

	event := job.Event
	logger := p.logger.With(
		"event_id", event.EventID,
		"task_id", event.TaskID,
		"user_id", event.UserID,
		"attempt_count", job.Attempt,
	)

	var payload events.TaskCompletedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		logger.Error("malformed payload on retry, moving to dead letter store", "error", err)
		p.recordDeadLetter(ctx, event, dlq.ReasonPermanent, err.Error(), job.Attempt, p.now())
		return nil
	}

	if err := p.createSuccessor(ctx, event, &payload, logger); err != nil {
		firstFailed := p.now()
		if job.FirstFailedAt != nil {
			firstFailed = *job.FirstFailedAt
		}
		p.handleFailure(ctx, event, job.Attempt+1, firstFailed, err, logger)
	}
	return nil
}

// handleFailure advances the recurrence retry policy: schedule the next
// attempt or escalate to the dead letter store with a high-severity operator
// alert. A missed recurrence is a correctness defect, so exhaustion is ERROR.
func (p *Processor) handleFailure(
	ctx context.Context,
	event *events.Event,
	attempt int,
	firstFailedAt time.Time,
	cause error,
	logger *slog.Logger,
) {
	if !p.policy.Exhausted(attempt) {
		p.metrics.RecordRetry(p.policy.Class)
		retry := &scheduler.Job{
			ID:            fmt.Sprintf("recurrence-%s", event.EventID),
			Kind:          scheduler.KindRecurrenceRetry,
			FireAt:        p.now().Add(p.policy.Backoff(attempt)),
			Attempt:       attempt,
			Event:         event,
			FirstFailedAt: &firstFailedAt,
		}
		logger.Warn("successor creation failed, scheduling retry",
			"error", cause,
			"attempt_count", attempt,
			"next_attempt_at", retry.FireAt)
		if err := p.jobs.Schedule(ctx, retry); err != nil {
			logger.Error("failed to schedule recurrence retry", "error", err)
		}
		return
	}

	logger.Error("successor creation retries exhausted, recurrence missed",
		"error", cause,
		"attempt_count", attempt,
		"first_failed_at", firstFailedAt)
	p.recordDeadLetter(ctx, event, dlq.ReasonExhausted, cause.Error(), attempt, firstFailedAt)
}

func (p *Processor) recordDeadLetter(
	ctx context.Context,
	event *events.Event,
	reason, lastError string,
	retryCount int,
	firstFailedAt time.Time,
) {
	if _, err := p.deadLetts.Record(
		ctx, event, events.TopicTaskEvents, reason, lastError, retryCount, firstFailedAt,
	); err != nil {
		p.logger.Error("failed to record dead letter entry",
			"event_id", event.EventID,
			"task_id", event.TaskID,
			"error", err)
	}
}

var (
	_ events.Handler       = (*Processor)(nil)
	_ scheduler.JobHandler = (*Processor)(nil)
)
