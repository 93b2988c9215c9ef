package events

import (
	"time"

	"github.com/google/uuid"
)

// TaskCompletedPayload carries the completed task's recurrence metadata so the
// processor can compute the successor without a read back to the task store.
type TaskCompletedPayload struct {
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	RecurrenceRule string         `json:"recurrence_rule,omitempty"`
	RecurrenceEnd  *time.Time     `json:"recurrence_end,omitempty"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	ReminderOffset *time.Duration `json:"reminder_offset,omitempty"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// TaskCreatedPayload announces a newly created task. Emitted by the task
// store for user-created tasks and by the recurring task processor for
// successor occurrences.
type TaskCreatedPayload struct {
	Title        string     `json:"title"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
}

// ReminderScheduledPayload carries everything the dispatcher needs to deliver
// the reminder at fire time without consulting the original event store.
type ReminderScheduledPayload struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ReminderAt  time.Time `json:"reminder_at"`
	DueAt       time.Time `json:"due_at"`
	Target      string    `json:"target"`
}
