// Package events defines the event model and the EventBus abstraction over a
// durable, partitioned log, with a Kafka-backed implementation for production
// and an in-memory implementation for tests and single-process deployments.
package events
