package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/phrazzld/recur-api/internal/api"
	apimiddleware "github.com/phrazzld/recur-api/internal/api/middleware"
	"github.com/phrazzld/recur-api/internal/config"
	"github.com/phrazzld/recur-api/internal/dispatch"
	"github.com/phrazzld/recur-api/internal/dlq"
	"github.com/phrazzld/recur-api/internal/events"
	"github.com/phrazzld/recur-api/internal/notify"
	"github.com/phrazzld/recur-api/internal/platform/metrics"
	"github.com/phrazzld/recur-api/internal/platform/postgres"
	"github.com/phrazzld/recur-api/internal/platform/taskapi"
	"github.com/phrazzld/recur-api/internal/processor"
	"github.com/phrazzld/recur-api/internal/scheduler"
	"github.com/phrazzld/recur-api/migrations"
)

// application holds the wired components and their shutdown order.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	bus       events.EventBus
	scheduler *scheduler.Scheduler
	processor *processor.Processor
	dlq       *dlq.Service
	server    *http.Server

	cancelLoops context.CancelFunc
}

// newApplication wires every component from configuration. Nothing is started
// yet; run brings the pieces up in dependency order.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()

	bus, err := newEventBus(cfg.Bus, logger)
	if err != nil {
		return nil, err
	}

	dedupStore := postgres.NewDedupStore(db)
	jobStore := postgres.NewJobStore(db)
	dlqStore := postgres.NewDLQStore(db)

	tasks := taskapi.NewClient(taskapi.Config{
		BaseURL:      cfg.TaskAPI.BaseURL,
		ServiceToken: cfg.TaskAPI.ServiceToken,
		Timeout:      cfg.TaskAPI.Timeout,
	})

	deadLetters := dlq.NewService(dlqStore, bus, nil, collector, logger)

	sched := scheduler.New(jobStore, scheduler.Config{
		WorkerCount:    cfg.Scheduler.WorkerCount,
		FiredQueueSize: cfg.Scheduler.FiredQueueSize,
	}, collector, logger)

	sender := notify.NewLogSender(logger)

	dispatcher := dispatch.NewDispatcher(
		tasks, sender, sched, deadLetters, dispatch.DefaultConfig(), collector, logger)
	proc := processor.New(
		dedupStore, tasks, bus, sched, deadLetters, processor.DefaultConfig(), collector, logger)

	sched.RegisterHandler(scheduler.KindReminder, dispatcher)
	sched.RegisterHandler(scheduler.KindFlagUpdateRetry, dispatcher)
	sched.RegisterHandler(scheduler.KindRecurrenceRetry, proc)

	router := api.NewRouter(api.RouterDeps{
		Health:    api.NewHealthHandler(db, logger),
		DLQ:       api.NewDLQHandler(deadLetters, logger),
		Scheduler: api.NewSchedulerHandler(sched, logger),
		Auth:      apimiddleware.NewAuthMiddleware(cfg.Auth.JWTSecret, logger),
		Metrics:   collector,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &application{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		bus:       bus,
		scheduler: sched,
		processor: proc,
		dlq:       deadLetters,
		server:    server,
	}, nil
}

// run starts the scheduler, consumers, maintenance loops and HTTP server,
// then blocks until the server exits.
func (a *application) run(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := a.startConsumers(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancelLoops = cancel
	go a.dlq.RunRetentionLoop(loopCtx, a.retentionInterval())
	go a.runDedupPurgeLoop(loopCtx)

	a.logger.Info("server listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startConsumers subscribes the event handlers. The recurring-task processor
// and the reminder consumer use separate groups so each gets every task
// event; within a group, the user-ID key keeps one user's events ordered.
func (a *application) startConsumers(ctx context.Context) error {
	prefix := a.cfg.Bus.GroupPrefix

	if err := a.bus.Subscribe(ctx, events.TopicTaskEvents, prefix+"-processor", a.processor); err != nil {
		return fmt.Errorf("failed to subscribe processor: %w", err)
	}

	reminders := scheduler.NewReminderConsumer(a.scheduler, a.logger)
	if err := a.bus.Subscribe(ctx, events.TopicReminders, prefix+"-reminders", reminders); err != nil {
		return fmt.Errorf("failed to subscribe reminder consumer: %w", err)
	}
	// The same consumer also watches completions to cancel pending reminders.
	if err := a.bus.Subscribe(ctx, events.TopicTaskEvents, prefix+"-reminder-cancel", reminders); err != nil {
		return fmt.Errorf("failed to subscribe reminder canceller: %w", err)
	}
	return nil
}

// runDedupPurgeLoop trims old processed-event claims on the retention
// interval.
func (a *application) runDedupPurgeLoop(ctx context.Context) {
	dedupStore := postgres.NewDedupStore(a.db)
	retention := a.cfg.Scheduler.DedupRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	ticker := time.NewTicker(a.retentionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := dedupStore.PurgeOlderThan(ctx, retention)
			if err != nil {
				a.logger.Error("dedup purge failed", "error", err)
				continue
			}
			if removed > 0 {
				a.logger.Info("purged processed-event claims", "count", removed)
			}
		}
	}
}

func (a *application) retentionInterval() time.Duration {
	if a.cfg.Scheduler.RetentionInterval > 0 {
		return a.cfg.Scheduler.RetentionInterval
	}
	return time.Hour
}

// shutdown stops intake first (HTTP, consumers), then drains the scheduler,
// then closes the database.
func (a *application) shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http server shutdown failed", "error", err)
	}
	if a.cancelLoops != nil {
		a.cancelLoops()
	}
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("event bus close failed", "error", err)
	}
	a.scheduler.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
}

// newEventBus builds the configured bus implementation.
func newEventBus(cfg config.BusConfig, logger *slog.Logger) (events.EventBus, error) {
	switch cfg.Kind {
	case "kafka":
		return events.NewKafkaBus(events.KafkaBusConfig{Brokers: cfg.Brokers}, logger), nil
	case "memory":
		return events.NewMemoryBus(logger), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

// runMigrations applies the embedded goose migrations.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
