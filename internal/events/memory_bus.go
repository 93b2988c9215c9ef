package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// subscription is one consumer group's delivery loop for a topic.
type subscription struct {
	group   string
	ch      chan *Event
	handler Handler
}

// MemoryBus is an in-process EventBus used in tests and single-process
// deployments. It preserves the contract of the Kafka-backed bus: each
// consumer group receives every event on a topic exactly in publish order per
// partition key (here, in total publish order, which is strictly stronger),
// and a handler error causes redelivery.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger

	// MaxRedeliveries bounds how many times a failing event is redelivered
	// before it is dropped with an error log. Zero means redeliver forever.
	MaxRedeliveries int
}

// NewMemoryBus creates a new in-process event bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		subs:            make(map[string][]*subscription),
		logger:          logger.With("component", "memory_bus"),
		MaxRedeliveries: 3,
	}
}

// Publish delivers the event to every consumer group subscribed to the topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.Type,
		"subscriber_count", len(subs))

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a handler for the topic under the given consumer group
// and starts a delivery goroutine. A single goroutine per subscription keeps
// per-key ordering trivially intact.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	sub := &subscription{
		group:   group,
		ch:      make(chan *Event, 256),
		handler: handler,
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.deliver(ctx, topic, sub)
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, topic string, sub *subscription) {
	defer b.wg.Done()

	logger := b.logger.With("topic", topic, "group", sub.group)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping subscription")
			return
		case event, ok := <-sub.ch:
			if !ok {
				return
			}
			b.handleWithRedelivery(ctx, logger, sub, event)
		}
	}
}

// handleWithRedelivery retries the handler in place. Real log consumers would
// re-fetch from the uncommitted offset; retrying before moving on models the
// same at-least-once, in-order behavior.
func (b *MemoryBus) handleWithRedelivery(
	ctx context.Context,
	logger *slog.Logger,
	sub *subscription,
	event *Event,
) {
	attempts := 0
	for {
		err := sub.handler.HandleEvent(ctx, event)
		if err == nil {
			return
		}
		attempts++
		logger.Warn("handler failed, event will be redelivered",
			"event_id", event.EventID,
			"event_type", event.Type,
			"delivery_attempts", attempts,
			"error", err)
		if b.MaxRedeliveries > 0 && attempts >= b.MaxRedeliveries {
			logger.Error("dropping event after repeated handler failures",
				"event_id", event.EventID,
				"event_type", event.Type,
				"delivery_attempts", attempts)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close stops accepting publishes and waits for delivery loops to drain.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

var _ EventBus = (*MemoryBus)(nil)
