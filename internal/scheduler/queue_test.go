package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func queueJob(id string, fireAt time.Time) *Job {
	return &Job{ID: id, Kind: KindReminder, FireAt: fireAt}
}

func TestJobQueueOrdersByFireTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newJobQueue()

	q.upsert(queueJob("c", base.Add(3*time.Hour)))
	q.upsert(queueJob("a", base.Add(time.Hour)))
	q.upsert(queueJob("b", base.Add(2*time.Hour)))

	assert.Equal(t, "a", q.pop().ID)
	assert.Equal(t, "b", q.pop().ID)
	assert.Equal(t, "c", q.pop().ID)
	assert.Nil(t, q.pop())
}

func TestJobQueueUpsertReplacesSameID(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newJobQueue()

	q.upsert(queueJob("reminder-task-1", base.Add(time.Hour)))
	q.upsert(queueJob("other", base.Add(30*time.Minute)))

	// Re-scheduling the same ID must replace, not duplicate.
	q.upsert(queueJob("reminder-task-1", base.Add(10*time.Minute)))

	assert.Equal(t, 2, q.Len())
	first := q.pop()
	assert.Equal(t, "reminder-task-1", first.ID)
	assert.Equal(t, base.Add(10*time.Minute), first.FireAt)
	assert.Equal(t, "other", q.pop().ID)
}

func TestJobQueueRemove(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newJobQueue()

	q.upsert(queueJob("a", base.Add(time.Hour)))
	q.upsert(queueJob("b", base.Add(2*time.Hour)))

	assert.True(t, q.remove("a"))
	assert.False(t, q.remove("a"))
	assert.False(t, q.remove("missing"))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.peek().ID)
}

func TestJobQueuePeekDoesNotRemove(t *testing.T) {
	t.Parallel()

	q := newJobQueue()
	assert.Nil(t, q.peek())

	q.upsert(queueJob("a", time.Now()))
	assert.Equal(t, "a", q.peek().ID)
	assert.Equal(t, 1, q.Len())
}
