package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/recur-api/internal/platform/metrics"
	"github.com/phrazzld/recur-api/internal/store"
)

// Config holds configuration for the scheduler.
type Config struct {
	// WorkerCount determines how many concurrent workers execute fired jobs.
	WorkerCount int

	// FiredQueueSize is the buffer between the timer loop and the workers.
	FiredQueueSize int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		FiredQueueSize: 256,
	}
}

// Scheduler owns the pending-job priority queue and fires jobs at their
// scheduled instant. A single timer goroutine sleeps only until the next due
// job and is re-armed whenever an earlier job arrives; there is never one
// blocked goroutine per pending reminder. Fired jobs are handed to a worker
// pool, one job per worker.
type Scheduler struct {
	store    JobStore
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	handlers map[JobKind]JobHandler

	mu    sync.Mutex
	queue *jobQueue
	wake  chan struct{}

	fired      chan *Job
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Scheduler. Handlers must be registered before Start.
func New(jobStore JobStore, config Config, collector *metrics.Collector, logger *slog.Logger) *Scheduler {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.FiredQueueSize <= 0 {
		config.FiredQueueSize = DefaultConfig().FiredQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      jobStore,
		config:     config,
		logger:     logger.With("component", "scheduler"),
		metrics:    collector,
		handlers:   make(map[JobKind]JobHandler),
		queue:      newJobQueue(),
		wake:       make(chan struct{}, 1),
		fired:      make(chan *Job, config.FiredQueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandler installs the handler for a job kind.
func (s *Scheduler) RegisterHandler(kind JobKind, handler JobHandler) {
	s.handlers[kind] = handler
}

// Start recovers persisted jobs into the queue and begins the timer loop and
// worker pool.
func (s *Scheduler) Start() error {
	jobs, err := s.store.ListJobs(context.Background())
	if err != nil {
		return fmt.Errorf("failed to recover scheduled jobs: %w", err)
	}

	s.mu.Lock()
	for _, job := range jobs {
		s.queue.upsert(job)
	}
	pending := s.queue.Len()
	s.mu.Unlock()
	s.metrics.SetJobsPending(pending)

	s.logger.Info("recovered scheduled jobs", "count", len(jobs))

	s.wg.Add(1)
	go s.timerLoop()

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return nil
}

// Stop shuts the scheduler down and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
}

// Schedule persists the job and inserts it into the queue, replacing any
// queued job with the same ID.
func (s *Scheduler) Schedule(ctx context.Context, job *Job) error {
	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}

	s.mu.Lock()
	s.queue.upsert(job)
	pending := s.queue.Len()
	s.mu.Unlock()
	s.metrics.SetJobsPending(pending)

	s.logger.Debug("job scheduled",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"fire_at", job.FireAt,
		"attempt", job.Attempt)

	s.signalWake()
	return nil
}

// Cancel removes the job from the queue and the store. Cancellation is a
// best-effort race against firing: if the job already fired, Cancel is a
// no-op and the dispatcher's idempotency guard is the correctness backstop.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	removed := s.queue.remove(jobID)
	pending := s.queue.Len()
	s.mu.Unlock()
	s.metrics.SetJobsPending(pending)

	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}

	s.logger.Debug("job cancelled", "job_id", jobID, "was_queued", removed)
	return nil
}

// TriggerNow fires the job immediately, regardless of its scheduled time.
// Used by the external job-trigger callback.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) error {
	s.mu.Lock()
	item, ok := s.queue.byID[jobID]
	var job *Job
	if ok {
		job = item.job
		s.queue.remove(jobID)
	}
	pending := s.queue.Len()
	s.mu.Unlock()
	s.metrics.SetJobsPending(pending)

	if !ok {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}

	select {
	case s.fired <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount returns the number of queued jobs.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// timerLoop sleeps until the next due job, firing everything that is due and
// re-arming whenever Schedule signals a possibly-earlier job.
func (s *Scheduler) timerLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		s.mu.Lock()
		next := s.queue.peek()
		var due []*Job
		now := s.now()
		for next != nil && !next.FireAt.After(now) {
			due = append(due, s.queue.pop())
			next = s.queue.peek()
		}
		pending := s.queue.Len()
		s.mu.Unlock()
		s.metrics.SetJobsPending(pending)

		for _, job := range due {
			select {
			case s.fired <- job:
			case <-s.ctx.Done():
				return
			}
		}

		var wait <-chan time.Time
		if next != nil {
			timer.Reset(next.FireAt.Sub(now))
			wait = timer.C
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			if wait != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-wait:
		}
	}
}

// worker executes fired jobs, one at a time.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("stopping worker", "worker_id", id)
			return
		case job := <-s.fired:
			s.executeJob(job, id)
		}
	}
}

// executeJob removes the job from the store (consumed once fired) and runs
// its handler. Deleting first lets a handler re-persist the same job ID for
// a retry attempt without the delete clobbering it afterwards.
func (s *Scheduler) executeJob(job *Job, workerID int) {
	ctx := context.Background()
	logger := s.logger.With(
		"job_id", job.ID,
		"job_kind", job.Kind,
		"worker_id", workerID,
		"attempt", job.Attempt,
	)

	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		logger.Warn("failed to remove fired job from store", "error", err)
	}

	handler, ok := s.handlers[job.Kind]
	if !ok {
		logger.Error("no handler registered for job kind")
		return
	}

	logger.Info("firing job", "fire_at", job.FireAt)
	start := s.now()

	if err := handler.ExecuteJob(s.ctx, job); err != nil {
		// Handlers absorb expected failures into their own retry policy, so
		// an error here is outside any policy.
		logger.Error("job handler failed", "error", err)
		s.metrics.RecordJobFailed()
		return
	}

	s.metrics.RecordJobExecuted(s.now().Sub(start).Seconds())
}
