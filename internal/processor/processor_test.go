package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/recur-api/internal/dlq"
	"github.com/phrazzld/recur-api/internal/domain"
	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/scheduler"
	"github.com/phrazzld/recur-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDedupStore implements store.DedupStore in memory.
type fakeDedupStore struct {
	mu       sync.Mutex
	claimed  map[uuid.UUID]bool
	claimErr error
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{claimed: make(map[uuid.UUID]bool)}
}

func (s *fakeDedupStore) Claim(
	ctx context.Context, eventID uuid.UUID, eventType string, taskID uuid.UUID,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.claimed[eventID] {
		return false, nil
	}
	s.claimed[eventID] = true
	return true, nil
}

func (s *fakeDedupStore) Release(ctx context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, eventID)
	return nil
}

func (s *fakeDedupStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

// fakeTaskStore records created tasks.
type fakeTaskStore struct {
	mu        sync.Mutex
	created   []domain.TaskSpec
	createErr error
}

func (s *fakeTaskStore) CreateTask(ctx context.Context, spec domain.TaskSpec) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	s.created = append(s.created, spec)
	return uuid.New(), nil
}

func (s *fakeTaskStore) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *fakeTaskStore) SetReminderSent(ctx context.Context, userID, taskID uuid.UUID) error {
	return nil
}

func (s *fakeTaskStore) createdSpecs() []domain.TaskSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TaskSpec(nil), s.created...)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu        sync.Mutex
	published []*events.Event
	topics    []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	p.topics = append(p.topics, topic)
	return nil
}

// fakeJobScheduler records scheduled retry jobs.
type fakeJobScheduler struct {
	mu   sync.Mutex
	jobs []*scheduler.Job
}

func (s *fakeJobScheduler) Schedule(ctx context.Context, job *scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeJobScheduler) last() *scheduler.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil
	}
	return s.jobs[len(s.jobs)-1]
}

// fakeDLQStore implements dlq.Store in memory.
type fakeDLQStore struct {
	mu      sync.Mutex
	entries []*dlq.Entry
}

func (s *fakeDLQStore) Record(ctx context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeDLQStore) Get(ctx context.Context, id uuid.UUID) (*dlq.Entry, error) {
	return nil, fmt.Errorf("%w: %s", store.ErrEntryNotFound, id)
}

func (s *fakeDLQStore) List(ctx context.Context, topic string, limit int) ([]*dlq.Entry, error) {
	return nil, nil
}

func (s *fakeDLQStore) MarkRetried(
	ctx context.Context, id uuid.UUID, actor string, retryEventID uuid.UUID, at time.Time,
) error {
	return nil
}

func (s *fakeDLQStore) Stats(ctx context.Context) ([]dlq.TopicStats, error) { return nil, nil }

func (s *fakeDLQStore) PurgeExpired(
	ctx context.Context, retention map[string]time.Duration,
) (int64, error) {
	return 0, nil
}

func (s *fakeDLQStore) all() []*dlq.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*dlq.Entry(nil), s.entries...)
}

type processorFixture struct {
	processor *Processor
	dedup     *fakeDedupStore
	tasks     *fakeTaskStore
	publisher *recordingPublisher
	jobs      *fakeJobScheduler
	dlqStore  *fakeDLQStore
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	dedup := newFakeDedupStore()
	tasks := &fakeTaskStore{}
	publisher := &recordingPublisher{}
	jobs := &fakeJobScheduler{}
	dlqStore := &fakeDLQStore{}

	service := dlq.NewService(dlqStore, publisher, nil, nil, testLogger())
	p := New(dedup, tasks, publisher, jobs, service, Config{}, nil, testLogger())

	return &processorFixture{
		processor: p,
		dedup:     dedup,
		tasks:     tasks,
		publisher: publisher,
		jobs:      jobs,
		dlqStore:  dlqStore,
	}
}

func completionEvent(t *testing.T, payload events.TaskCompletedPayload) *events.Event {
	t.Helper()
	event, err := events.New(events.TypeTaskCompleted, uuid.New(), uuid.New(), payload)
	require.NoError(t, err)
	return event
}

func TestProcessorCreatesSuccessor(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	offset := time.Hour
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		Priority:       domain.PriorityMedium,
		Tags:           []string{"garden"},
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		ReminderOffset: &offset,
		CompletedAt:    due.Add(-30 * time.Minute),
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	specs := f.tasks.createdSpecs()
	require.Len(t, specs, 1)
	spec := specs[0]

	assert.Equal(t, event.UserID, spec.UserID)
	assert.Equal(t, "Water plants", spec.Title)
	assert.Equal(t, domain.PriorityMedium, spec.Priority)
	assert.Equal(t, []string{"garden"}, spec.Tags)
	assert.Equal(t, "DAILY", spec.RecurrenceRule)
	require.NotNil(t, spec.DueAt)
	assert.Equal(t, due.AddDate(0, 0, 1), *spec.DueAt)
	require.NotNil(t, spec.ReminderOffset)
	assert.Equal(t, offset, *spec.ReminderOffset)
	require.NotNil(t, spec.ParentTaskID)
	assert.Equal(t, event.TaskID, *spec.ParentTaskID)
}

func TestProcessorAnchorsOnCompletionWhenNoDueDate(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	completedAt := time.Date(2026, 4, 1, 15, 30, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Weekly review",
		RecurrenceRule: "WEEKLY",
		CompletedAt:    completedAt,
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	specs := f.tasks.createdSpecs()
	require.Len(t, specs, 1)
	require.NotNil(t, specs[0].DueAt)
	assert.Equal(t, completedAt.AddDate(0, 0, 7), *specs[0].DueAt)
}

func TestProcessorIdempotentOnRedelivery(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	// The same event delivered twice creates exactly one successor.
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	assert.Len(t, f.tasks.createdSpecs(), 1)
}

func TestProcessorIgnoresNonRecurringTasks(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:       "One-off errand",
		CompletedAt: time.Now().UTC(),
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	assert.Empty(t, f.tasks.createdSpecs())
}

func TestProcessorIgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	event, err := events.New(events.TypeTaskCreated, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	assert.Empty(t, f.tasks.createdSpecs())
}

func TestProcessorStopsAtRecurrenceEnd(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	end := due.AddDate(0, 0, 1)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		RecurrenceEnd:  &end,
		DueAt:          &due,
		CompletedAt:    due,
	})

	// Next occurrence would land exactly on the end boundary, which is
	// exclusive, so no successor is created.
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	assert.Empty(t, f.tasks.createdSpecs())
	assert.Empty(t, f.dlqStore.all())
}

func TestProcessorPublishesTaskCreated(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.published, 1)
	created := f.publisher.published[0]
	assert.Equal(t, events.TopicTaskEvents, f.publisher.topics[0])
	assert.Equal(t, events.TypeTaskCreated, created.Type)
	assert.Equal(t, event.UserID, created.UserID)
	assert.NotEqual(t, event.EventID, created.EventID)
}

func TestProcessorMalformedPayloadIsPermanent(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	event := &events.Event{
		EventID:    uuid.New(),
		Type:       events.TypeTaskCompleted,
		UserID:     uuid.New(),
		TaskID:     uuid.New(),
		OccurredAt: time.Now().UTC(),
		Payload:    []byte(`{"title": `),
	}

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	entries := f.dlqStore.all()
	require.Len(t, entries, 1)
	assert.Equal(t, dlq.ReasonPermanent, entries[0].FailureReason)
	assert.Equal(t, events.TopicTaskEvents, entries[0].SourceTopic)
}

func TestProcessorInvalidRuleIsPermanent(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Corrupted",
		RecurrenceRule: "FORTNIGHTLY",
		CompletedAt:    time.Now().UTC(),
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	assert.Empty(t, f.tasks.createdSpecs())
	entries := f.dlqStore.all()
	require.Len(t, entries, 1)
	assert.Equal(t, dlq.ReasonPermanent, entries[0].FailureReason)
}

func TestProcessorDedupErrorLeavesEventUncommitted(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	f.dedup.claimErr = errors.New("database unreachable")

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	// Error surfaces to the bus so the event is redelivered.
	assert.Error(t, f.processor.HandleEvent(context.Background(), event))
	assert.Empty(t, f.tasks.createdSpecs())
}

func TestProcessorSchedulesRetryOnCreateFailure(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	f.tasks.createErr = errors.New("task service unavailable")

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	retry := f.jobs.last()
	require.NotNil(t, retry)
	assert.Equal(t, fmt.Sprintf("recurrence-%s", event.EventID), retry.ID)
	assert.Equal(t, scheduler.KindRecurrenceRetry, retry.Kind)
	assert.Equal(t, 1, retry.Attempt)
	assert.NotNil(t, retry.FirstFailedAt)
	assert.Empty(t, f.dlqStore.all())
}

func TestProcessorRetryExhaustionMovesToDeadLetter(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	f.tasks.createErr = errors.New("task service unavailable")

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	firstFailed := time.Date(2026, 4, 1, 10, 5, 0, 0, time.UTC)
	job := &scheduler.Job{
		ID:            fmt.Sprintf("recurrence-%s", event.EventID),
		Kind:          scheduler.KindRecurrenceRetry,
		FireAt:        firstFailed.Add(30 * time.Minute),
		Attempt:       2,
		Event:         event,
		FirstFailedAt: &firstFailed,
	}

	// Third and final attempt fails: escalate instead of rescheduling.
	require.NoError(t, f.processor.ExecuteJob(context.Background(), job))

	assert.Nil(t, f.jobs.last())
	entries := f.dlqStore.all()
	require.Len(t, entries, 1)
	assert.Equal(t, dlq.ReasonExhausted, entries[0].FailureReason)
	assert.Equal(t, 3, entries[0].RetryCount)
	assert.Equal(t, firstFailed, entries[0].FirstFailedAt)
}

func TestProcessorRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)

	due := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := completionEvent(t, events.TaskCompletedPayload{
		Title:          "Water plants",
		RecurrenceRule: "DAILY",
		DueAt:          &due,
		CompletedAt:    due,
	})

	job := &scheduler.Job{
		ID:      fmt.Sprintf("recurrence-%s", event.EventID),
		Kind:    scheduler.KindRecurrenceRetry,
		FireAt:  time.Now().UTC(),
		Attempt: 1,
		Event:   event,
	}

	require.NoError(t, f.processor.ExecuteJob(context.Background(), job))
	assert.Len(t, f.tasks.createdSpecs(), 1)
	assert.Empty(t, f.dlqStore.all())
}

func TestProcessorRejectsUnknownJobKind(t *testing.T) {
	t.Parallel()

	f := newProcessorFixture(t)
	job := &scheduler.Job{ID: "x", Kind: scheduler.KindReminder}
	assert.Error(t, f.processor.ExecuteJob(context.Background(), job))
}
