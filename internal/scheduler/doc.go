// Package scheduler implements exact-time job scheduling: a persisted
// priority queue of jobs keyed by fire time, a single timer goroutine that
// sleeps only until the next due job, and a worker pool that executes fired
// jobs through registered handlers.
package scheduler
