package scheduler

import "container/heap"

// jobQueue is a min-heap of jobs ordered by FireAt, with an index so entries
// can be removed or replaced by job ID. Not safe for concurrent use; the
// scheduler serializes access.
type jobQueue struct {
	items []*queueItem
	byID  map[string]*queueItem
}

type queueItem struct {
	job   *Job
	index int
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueItem)}
}

// Len implements heap.Interface.
func (q *jobQueue) Len() int { return len(q.items) }

// Less implements heap.Interface: earlier fire times first.
func (q *jobQueue) Less(i, j int) bool {
	return q.items[i].job.FireAt.Before(q.items[j].job.FireAt)
}

// Swap implements heap.Interface.
func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push implements heap.Interface.
func (q *jobQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
	q.byID[item.job.ID] = item
}

// Pop implements heap.Interface.
func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	delete(q.byID, item.job.ID)
	return item
}

// upsert inserts the job, replacing any existing job with the same ID
// (delete-then-recreate semantics for reminder re-scheduling).
func (q *jobQueue) upsert(job *Job) {
	if existing, ok := q.byID[job.ID]; ok {
		existing.job = job
		heap.Fix(q, existing.index)
		return
	}
	heap.Push(q, &queueItem{job: job})
}

// remove deletes the job by ID. Returns false if no such job is queued.
func (q *jobQueue) remove(jobID string) bool {
	item, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(q, item.index)
	return true
}

// peek returns the next due job without removing it, or nil if empty.
func (q *jobQueue) peek() *Job {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].job
}

// pop removes and returns the next due job, or nil if empty.
func (q *jobQueue) pop() *Job {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*queueItem).job
}
