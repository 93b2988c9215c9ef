package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskUserIDEmpty is returned when a task's user ID is empty or nil.
	ErrTaskUserIDEmpty = errors.New("task user ID cannot be empty")

	// ErrTaskTitleEmpty is returned when a task's title is empty.
	ErrTaskTitleEmpty = errors.New("task title cannot be empty")

	// ErrInvalidPriority is returned when a priority is not low, medium or high.
	ErrInvalidPriority = errors.New("priority must be low, medium or high")

	// ErrReminderNotConfigured is returned when reminder timing is requested
	// for a task that lacks a due date or reminder offset.
	ErrReminderNotConfigured = errors.New("task has no due date or reminder offset")
)

// Priority levels accepted by the external task store.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task models the slice of the externally-owned task record that the
// recurrence and reminder core reads and writes. The task store remains the
// source of truth; this struct is a snapshot carried in events and API calls.
type Task struct {
	ID             uuid.UUID      `json:"id"`
	UserID         uuid.UUID      `json:"user_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	RecurrenceRule string         `json:"recurrence_rule,omitempty"`
	RecurrenceEnd  *time.Time     `json:"recurrence_end,omitempty"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	ReminderOffset *time.Duration `json:"reminder_offset,omitempty"`
	ReminderSent   bool           `json:"reminder_sent"`
	Completed      bool           `json:"completed"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ParentTaskID   *uuid.UUID     `json:"parent_task_id,omitempty"`
}

// Validate checks the fields this core depends on.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}
	if t.UserID == uuid.Nil {
		return ErrTaskUserIDEmpty
	}
	if t.Title == "" {
		return ErrTaskTitleEmpty
	}
	if t.Priority != "" &&
		t.Priority != PriorityLow && t.Priority != PriorityMedium && t.Priority != PriorityHigh {
		return ErrInvalidPriority
	}
	return nil
}

// IsRecurring reports whether completing the task should generate a successor.
func (t *Task) IsRecurring() bool {
	return t.RecurrenceRule != ""
}

// ReminderAt returns the instant the task's reminder should fire
// (due_at - reminder_offset). Both fields must be present.
func (t *Task) ReminderAt() (time.Time, error) {
	if t.DueAt == nil || t.ReminderOffset == nil {
		return time.Time{}, ErrReminderNotConfigured
	}
	return t.DueAt.Add(-*t.ReminderOffset).UTC(), nil
}

// TaskSpec describes a task to be created through the external task store.
// Successor occurrences of recurring tasks are created with the completed
// occurrence's metadata and a freshly computed due date.
type TaskSpec struct {
	UserID         uuid.UUID      `json:"user_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	RecurrenceRule string         `json:"recurrence_rule,omitempty"`
	RecurrenceEnd  *time.Time     `json:"recurrence_end,omitempty"`
	DueAt          *time.Time     `json:"due_at,omitempty"`
	ReminderOffset *time.Duration `json:"reminder_offset,omitempty"`
	ParentTaskID   *uuid.UUID     `json:"parent_task_id,omitempty"`
}

// Validate checks that the spec is acceptable to the task store.
func (s *TaskSpec) Validate() error {
	if s.UserID == uuid.Nil {
		return ErrTaskUserIDEmpty
	}
	if s.Title == "" {
		return ErrTaskTitleEmpty
	}
	if s.Priority != "" &&
		s.Priority != PriorityLow && s.Priority != PriorityMedium && s.Priority != PriorityHigh {
		return ErrInvalidPriority
	}
	return nil
}
