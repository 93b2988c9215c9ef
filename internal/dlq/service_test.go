package dlq

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

	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore implements Store in memory.
type memStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry

	purged    int64
	purgeErr  error
	recordErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *memStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrEntryNotFound, id)
	}
	return entry, nil
}

func (s *memStore) List(ctx context.Context, topic string, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if topic == "" || e.SourceTopic == topic {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) MarkRetried(
	ctx context.Context, id uuid.UUID, actor string, retryEventID uuid.UUID, at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return store.ErrEntryNotFound
	}
	entry.RetriedBy = actor
	entry.RetryEventID = &retryEventID
	entry.RetriedAt = &at
	return nil
}

func (s *memStore) Stats(ctx context.Context) ([]TopicStats, error) { return nil, nil }

func (s *memStore) PurgeExpired(
	ctx context.Context, retention map[string]time.Duration,
) (int64, error) {
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	return s.purged, nil
}

// recordingPublisher captures publishes and optionally fails.
type recordingPublisher struct {
	mu         sync.Mutex
	publishErr error

	topics []string
	events []*events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func testEvent(t *testing.T) *events.Event {
	t.Helper()
	event, err := events.New(events.TypeTaskCompleted, uuid.New(), uuid.New(),
		events.TaskCompletedPayload{Title: "Water plants", RecurrenceRule: "DAILY"})
	require.NoError(t, err)
	return event
}

func TestServiceRecordPersistsAndMirrors(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	pub := &recordingPublisher{}
	service := NewService(st, pub, nil, nil, testLogger())

	event := testEvent(t)
	firstFailed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	entry, err := service.Record(context.Background(), event,
		events.TopicTaskEvents, ReasonExhausted, "task service unavailable", 3, firstFailed)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, events.TopicTaskEvents, entry.SourceTopic)
	assert.Equal(t, ReasonExhausted, entry.FailureReason)
	assert.Equal(t, 3, entry.RetryCount)
	assert.Equal(t, firstFailed, entry.FirstFailedAt)

	stored, err := st.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, stored.Event.EventID)

	// Mirrored onto the paired dead letter topic.
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "dlq-task-events", pub.topics[0])
}

func TestServiceRecordSurvivesMirrorFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	pub := &recordingPublisher{publishErr: errors.New("broker down")}
	service := NewService(st, pub, nil, nil, testLogger())

	// The durable record is the store row; a failed mirror publish is logged
	// but does not fail Record.
	entry, err := service.Record(context.Background(), testEvent(t),
		events.TopicReminders, ReasonPermanent, "malformed payload", 0, time.Now().UTC())
	require.NoError(t, err)

	_, err = st.Get(context.Background(), entry.ID)
	assert.NoError(t, err)
}

func TestServiceRecordFailsWhenStoreFails(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.recordErr = errors.New("insert failed")
	service := NewService(st, &recordingPublisher{}, nil, nil, testLogger())

	_, err := service.Record(context.Background(), testEvent(t),
		events.TopicReminders, ReasonExhausted, "x", 1, time.Now().UTC())
	assert.Error(t, err)
}

func TestServiceRetryRepublishesWithFreshEventID(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	pub := &recordingPublisher{}
	service := NewService(st, pub, nil, nil, testLogger())

	original := testEvent(t)
	recorded, err := service.Record(context.Background(), original,
		events.TopicTaskEvents, ReasonExhausted, "x", 3, time.Now().UTC())
	require.NoError(t, err)

	entry, err := service.Retry(context.Background(), recorded.ID, "ops@example.com")
	require.NoError(t, err)

	// Fresh event ID so idempotent consumers do not skip the retry as a
	// duplicate of the failed original.
	require.NotNil(t, entry.RetryEventID)
	assert.NotEqual(t, original.EventID, *entry.RetryEventID)
	assert.Equal(t, "ops@example.com", entry.RetriedBy)
	require.NotNil(t, entry.RetriedAt)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.topics, 2)
	assert.Equal(t, events.TopicTaskEvents, pub.topics[1])
	republished := pub.events[1]
	assert.Equal(t, *entry.RetryEventID, republished.EventID)
	assert.Equal(t, original.Type, republished.Type)
	assert.Equal(t, original.UserID, republished.UserID)
	assert.Equal(t, original.TaskID, republished.TaskID)

	// Audit persisted on the stored entry too.
	stored, err := st.Get(context.Background(), recorded.ID)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", stored.RetriedBy)
}

func TestServiceRetryUnknownEntry(t *testing.T) {
	t.Parallel()

	service := NewService(newMemStore(), &recordingPublisher{}, nil, nil, testLogger())
	_, err := service.Retry(context.Background(), uuid.New(), "ops@example.com")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestServiceRetryFailsWhenPublishFails(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	pub := &recordingPublisher{}
	service := NewService(st, pub, nil, nil, testLogger())

	recorded, err := service.Record(context.Background(), testEvent(t),
		events.TopicTaskEvents, ReasonExhausted, "x", 3, time.Now().UTC())
	require.NoError(t, err)

	pub.mu.Lock()
	pub.publishErr = errors.New("broker down")
	pub.mu.Unlock()

	_, err = service.Retry(context.Background(), recorded.ID, "ops@example.com")
	require.Error(t, err)

	// No audit record without a successful republish.
	stored, err := st.Get(context.Background(), recorded.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RetriedAt)
}

func TestDefaultRetention(t *testing.T) {
	t.Parallel()

	retention := DefaultRetention()
	assert.Equal(t, 30*24*time.Hour, retention[events.TopicTaskEvents])
	assert.Equal(t, 7*24*time.Hour, retention[events.TopicReminders])
	assert.Equal(t, 14*24*time.Hour, retention[events.TopicTaskUpdates])
}
