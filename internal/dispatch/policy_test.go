package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReminderDeliveryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := ReminderDeliveryPolicy()
	assert.Equal(t, 10, p.MaxAttempts)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 64 * time.Second, 128 * time.Second,
		256 * time.Second, 512 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, p.Backoff(attempt+1), "attempt %d", attempt+1)
	}

	// Past the budget the delay stays at the final step.
	assert.Equal(t, 512*time.Second, p.Backoff(11))
}

func TestRecurrencePolicyBackoff(t *testing.T) {
	t.Parallel()

	p := RecurrencePolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.Backoff(1))
	assert.Equal(t, 5*time.Minute, p.Backoff(2))
	assert.Equal(t, 30*time.Minute, p.Backoff(3))
}

func TestTaskUpdatePolicyBackoff(t *testing.T) {
	t.Parallel()

	p := TaskUpdatePolicy()
	assert.Equal(t, 5, p.MaxAttempts)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, p.Backoff(attempt+1), "attempt %d", attempt+1)
	}
}

func TestPolicyExhausted(t *testing.T) {
	t.Parallel()

	p := RecurrencePolicy()
	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestBackoffClampsLowAttempts(t *testing.T) {
	t.Parallel()

	p := ReminderDeliveryPolicy()
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(-3))
}
