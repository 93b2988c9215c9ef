// Package dlq implements the dead letter store: recording events that
// exhausted their retry budget, operator-driven re-publish, per-topic stats
// and retention.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/platform/metrics"
)

// Service coordinates the dead letter store with the event bus: recording
// failures, re-publishing on operator request, and enforcing retention.
type Service struct {
	store     Store
	publisher events.Publisher
	retention map[string]time.Duration
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a dead letter service with the given retention policy.
// A nil retention map uses DefaultRetention.
func NewService(
	store Store,
	publisher events.Publisher,
	retention map[string]time.Duration,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Service {
	if retention == nil {
		retention = DefaultRetention()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		retention: retention,
		metrics:   collector,
		logger:    logger.With("component", "dlq_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record moves an event to the dead letter store and mirrors it onto the
// paired dlq-{topic} for stream consumers. The mirror publish is best-effort:
// the durable record is the store row.
func (s *Service) Record(
	ctx context.Context,
	event *events.Event,
	sourceTopic, reason, lastError string,
	retryCount int,
	firstFailedAt time.Time,
) (*Entry, error) {
	entry := &Entry{
		ID:            uuid.New(),
		Event:         event,
		SourceTopic:   sourceTopic,
		FailureReason: reason,
		LastError:     lastError,
		RetryCount:    retryCount,
		FirstFailedAt: firstFailedAt,
		MovedToDLQAt:  s.now(),
	}

	if err := s.store.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record dead letter entry: %w", err)
	}
	s.metrics.RecordEventDead(sourceTopic)

	if err := s.publisher.Publish(ctx, events.DLQTopic(sourceTopic), event); err != nil {
		s.logger.Warn("failed to mirror event onto dead letter topic",
			"event_id", event.EventID,
			"topic", events.DLQTopic(sourceTopic),
			"error", err)
	}

	return entry, nil
}

// Retry re-publishes the entry's event onto its source topic under a fresh
// event ID and records who retried it and when. Attempt-count state is
// deliberately not resumed: operator intervention presumes the underlying
// cause is addressed, so the event gets a full new delivery attempt.
func (s *Service) Retry(ctx context.Context, entryID uuid.UUID, actor string) (*Entry, error) {
	entry, err := s.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	republished := &events.Event{
		EventID:    uuid.New(),
		Type:       entry.Event.Type,
		UserID:     entry.Event.UserID,
		TaskID:     entry.Event.TaskID,
		OccurredAt: entry.Event.OccurredAt,
		Payload:    entry.Event.Payload,
	}

	if err := s.publisher.Publish(ctx, entry.SourceTopic, republished); err != nil {
		return nil, fmt.Errorf("failed to re-publish event: %w", err)
	}

	retriedAt := s.now()
	if err := s.store.MarkRetried(ctx, entryID, actor, republished.EventID, retriedAt); err != nil {
		// The event is already back on the topic; a missing audit record is
		// logged rather than failing the retry.
		s.logger.Error("failed to record retry audit",
			"entry_id", entryID,
			"retry_event_id", republished.EventID,
			"error", err)
	}
	entry.RetriedAt = &retriedAt
	entry.RetriedBy = actor
	entry.RetryEventID = &republished.EventID

	s.logger.Info("dead letter entry re-published",
		"entry_id", entryID,
		"source_topic", entry.SourceTopic,
		"original_event_id", entry.Event.EventID,
		"retry_event_id", republished.EventID,
		"actor", actor)

	return entry, nil
}

// List returns entries, optionally filtered by source topic.
func (s *Service) List(ctx context.Context, topic string, limit int) ([]*Entry, error) {
	return s.store.List(ctx, topic, limit)
}

// Stats returns per-topic dead letter statistics.
func (s *Service) Stats(ctx context.Context) ([]TopicStats, error) {
	return s.store.Stats(ctx)
}

// RunRetentionLoop purges expired entries on the given interval until the
// context is cancelled. Expired entries are removed without further alerting.
func (s *Service) RunRetentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.PurgeExpired(ctx, s.retention)
			if err != nil {
				s.logger.Error("dead letter retention purge failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("purged expired dead letter entries", "count", removed)
			}
		}
	}
}
