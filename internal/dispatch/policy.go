package dispatch

import "time"

// Event classes with distinct retry budgets.
const (
	ClassReminderDelivery = "reminder_delivery"
	ClassRecurrence       = "recurrence"
	ClassTaskUpdate       = "task_update"
)

// RetryPolicy bounds retry effort for one event class. Attempt numbering is
// 1-based: Backoff(1) is the delay scheduled after the first failure.
type RetryPolicy struct {
	Class       string
	MaxAttempts int
	backoff     func(attempt int) time.Duration
}

// Backoff returns the delay before the given attempt. Attempts past
// MaxAttempts return the final step's delay; callers should have stopped by
// then.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > p.MaxAttempts {
		attempt = p.MaxAttempts
	}
	return p.backoff(attempt)
}

// Exhausted reports whether the given number of failed attempts has consumed
// the policy's budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// ReminderDeliveryPolicy retries reminder sends 10 times with doubling
// backoff: 1s, 2s, 4s ... 512s (about a 17 minute window).
func ReminderDeliveryPolicy() RetryPolicy {
	return RetryPolicy{
		Class:       ClassReminderDelivery,
		MaxAttempts: 10,
		backoff: func(attempt int) time.Duration {
			return time.Second << (attempt - 1)
		},
	}
}

// RecurrencePolicy retries successor-creation 3 times: 30s, 5m, 30m. A missed
// recurrence is a correctness defect, so the window is long rather than wide.
func RecurrencePolicy() RetryPolicy {
	steps := []time.Duration{30 * time.Second, 5 * time.Minute, 30 * time.Minute}
	return RetryPolicy{
		Class:       ClassRecurrence,
		MaxAttempts: 3,
		backoff: func(attempt int) time.Duration {
			return steps[attempt-1]
		},
	}
}

// TaskUpdatePolicy retries update propagation (e.g. the reminder_sent flag
// write) 5 times with doubling backoff: 1s, 2s, 4s, 8s, 16s.
func TaskUpdatePolicy() RetryPolicy {
	return RetryPolicy{
		Class:       ClassTaskUpdate,
		MaxAttempts: 5,
		backoff: func(attempt int) time.Duration {
			return time.Second << (attempt - 1)
		},
	}
}
