package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// KafkaBusConfig holds connection settings for the Kafka-backed bus.
type KafkaBusConfig struct {
	Brokers []string

	// PublishTimeout bounds a single Publish call. Defaults to 5s.
	PublishTimeout time.Duration

	// CommitTimeout bounds the offset commit after a handled event.
	// Defaults to 3s.
	CommitTimeout time.Duration
}

// KafkaBus implements EventBus over Kafka topics. Events are keyed by user ID
// with a hash balancer, so all of one user's events land on the same
// partition and are consumed in publish order. Offsets are committed only
// after the handler returns nil, which yields at-least-once delivery.
type KafkaBus struct {
	cfg    KafkaBusConfig
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]*kgo.Writer
	readers []*kgo.Reader
	wg      sync.WaitGroup
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg KafkaBusConfig, logger *slog.Logger) *KafkaBus {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.CommitTimeout == 0 {
		cfg.CommitTimeout = 3 * time.Second
	}
	return &KafkaBus{
		cfg:     cfg,
		logger:  logger.With("component", "kafka_bus"),
		writers: make(map[string]*kgo.Writer),
	}
}

// writer returns the lazily created writer for a topic.
func (b *KafkaBus) writer(topic string) *kgo.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(b.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireAll,
	}
	b.writers[topic] = w
	return w
}

// Publish appends the event to the topic keyed by user ID.
func (b *KafkaBus) Publish(ctx context.Context, topic string, event *Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Bounded so a broker outage degrades to a caller-visible error rather
	// than a hung worker.
	cctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	err = b.writer(topic).WriteMessages(cctx, kgo.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Time:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer loop for the topic under the given group.
func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	reader := kgo.NewReader(kgo.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
		// Manual commits: the offset advances only after the handler succeeds.
		CommitInterval: 0,
	})

	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(ctx, reader, topic, group, handler)
	return nil
}

func (b *KafkaBus) consume(
	ctx context.Context,
	reader *kgo.Reader,
	topic, group string,
	handler Handler,
) {
	defer b.wg.Done()

	logger := b.logger.With("topic", topic, "group", group)
	logger.Info("consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("consumer stopped")
				return
			}
			logger.Error("fetch failed", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Malformed payloads are permanent failures; committing past them
			// prevents the partition from wedging. The handler never sees them.
			logger.Error("discarding malformed event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			b.commit(ctx, reader, msg, logger)
			continue
		}

		if err := handler.HandleEvent(ctx, &event); err != nil {
			// Uncommitted: Kafka redelivers from this offset.
			logger.Warn("handler failed, offset not committed",
				"event_id", event.EventID,
				"event_type", event.Type,
				"error", err)
			continue
		}

		b.commit(ctx, reader, msg, logger)
	}
}

func (b *KafkaBus) commit(ctx context.Context, reader *kgo.Reader, msg kgo.Message, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(ctx, b.cfg.CommitTimeout)
	defer cancel()
	if err := reader.CommitMessages(cctx, msg); err != nil {
		// Not fatal: the event may be redelivered, consumers are idempotent.
		logger.Warn("offset commit failed",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
	}
}

// Close flushes writers and closes all readers.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	var firstErr error
	for topic, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close writer for %s: %w", topic, err)
		}
	}
	for _, r := range b.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return firstErr
}

var _ EventBus = (*KafkaBus)(nil)
