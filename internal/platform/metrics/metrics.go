// Package metrics exposes Prometheus instrumentation for the event pipeline,
// scheduler and dispatcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the application's Prometheus metrics. A nil *Collector is
// valid and records nothing, which keeps instrumentation out of unit tests.
type Collector struct {
	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec
	eventsDuplicate *prometheus.CounterVec
	eventsDead      *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec

	remindersSent  prometheus.Counter
	jobsExecuted   prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsPending    prometheus.Gauge
	dispatchDelay  prometheus.Histogram
	executeLatency prometheus.Histogram
}

// NewCollector creates and registers the application metrics on a fresh
// registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recur_events_processed_total",
		Help: "Events handled successfully, by event type.",
	}, []string{"event_type"})
	c.eventsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recur_events_duplicate_total",
		Help: "Redelivered events skipped by the dedup store, by event type.",
	}, []string{"event_type"})
	c.eventsDead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recur_events_dead_lettered_total",
		Help: "Events moved to a dead letter topic, by source topic.",
	}, []string{"topic"})
	c.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recur_retries_total",
		Help: "Retry attempts scheduled, by event class.",
	}, []string{"class"})
	c.remindersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recur_reminders_sent_total",
		Help: "Reminder notifications delivered successfully.",
	})
	c.jobsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recur_jobs_executed_total",
		Help: "Scheduled jobs executed.",
	})
	c.jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recur_jobs_failed_total",
		Help: "Scheduled jobs whose handler returned an error.",
	})
	c.jobsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recur_jobs_pending",
		Help: "Jobs currently waiting in the scheduler queue.",
	})
	c.dispatchDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recur_dispatch_delay_seconds",
		Help:    "Delay between a job's scheduled fire time and actual dispatch.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})
	c.executeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recur_job_execute_seconds",
		Help:    "Job handler execution latency.",
		Buckets: prometheus.DefBuckets,
	})

	c.registry.MustRegister(
		c.eventsProcessed,
		c.eventsDuplicate,
		c.eventsDead,
		c.retriesTotal,
		c.remindersSent,
		c.jobsExecuted,
		c.jobsFailed,
		c.jobsPending,
		c.dispatchDelay,
		c.executeLatency,
	)
	return c
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordEventProcessed counts a successfully handled event.
func (c *Collector) RecordEventProcessed(eventType string) {
	if c == nil {
		return
	}
	c.eventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordEventDuplicate counts an event skipped as a redelivery.
func (c *Collector) RecordEventDuplicate(eventType string) {
	if c == nil {
		return
	}
	c.eventsDuplicate.WithLabelValues(eventType).Inc()
}

// RecordEventDead counts an event moved to a dead letter topic.
func (c *Collector) RecordEventDead(topic string) {
	if c == nil {
		return
	}
	c.eventsDead.WithLabelValues(topic).Inc()
}

// RecordRetry counts a scheduled retry attempt for an event class.
func (c *Collector) RecordRetry(class string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(class).Inc()
}

// RecordReminderSent counts a delivered reminder.
func (c *Collector) RecordReminderSent() {
	if c == nil {
		return
	}
	c.remindersSent.Inc()
}

// RecordJobExecuted counts an executed job and observes handler latency.
func (c *Collector) RecordJobExecuted(latencySeconds float64) {
	if c == nil {
		return
	}
	c.jobsExecuted.Inc()
	c.executeLatency.Observe(latencySeconds)
}

// RecordJobFailed counts a job whose handler returned an error.
func (c *Collector) RecordJobFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

// RecordDispatchDelay observes how far behind schedule a job fired.
func (c *Collector) RecordDispatchDelay(seconds float64) {
	if c == nil {
		return
	}
	c.dispatchDelay.Observe(seconds)
}

// SetJobsPending records the current scheduler queue depth.
func (c *Collector) SetJobsPending(n int) {
	if c == nil {
		return
	}
	c.jobsPending.Set(float64(n))
}
