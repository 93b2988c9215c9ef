package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DedupStore records processed event IDs so that redelivered events are
// applied at most once. Claim must be atomic: when two workers race on the
// same redelivered event, exactly one observes claimed == true.
type DedupStore interface {
	// Claim records the event ID as processed. Returns true if this call won
	// the claim, false if the event was already recorded.
	Claim(ctx context.Context, eventID uuid.UUID, eventType string, taskID uuid.UUID) (bool, error)

	// Release removes a claim so the event can be reprocessed. Used when
	// processing fails before any effect was applied and the event should be
	// retried through redelivery.
	Release(ctx context.Context, eventID uuid.UUID) error

	// PurgeOlderThan removes claims older than the retention window, which
	// must cover the maximum plausible redelivery lag. Returns the number of
	// rows removed.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}
