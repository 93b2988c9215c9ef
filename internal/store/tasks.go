package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/domain"
)

// TaskStore is the external task CRUD collaborator. Implementations must
// enforce user_id isolation themselves; this core never reads or writes
// across users. Every call is expected to carry a bounded timeout.
type TaskStore interface {
	// CreateTask creates a new task and returns its ID.
	CreateTask(ctx context.Context, spec domain.TaskSpec) (uuid.UUID, error)

	// GetTask fetches the task's current state. Returns ErrTaskNotFound if
	// the task does not exist (e.g. it was deleted after an event was
	// published).
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error)

	// SetReminderSent marks the task's reminder as delivered. The write is
	// idempotent: marking an already-marked task succeeds.
	SetReminderSent(ctx context.Context, userID, taskID uuid.UUID) error
}
