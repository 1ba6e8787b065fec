/*
store.go - Persistence interface for tasks and completion logs

PURPOSE:
  The engine itself is pure; tasks and their completion logs are kept by an
  external collaborator. Store is that seam.

APPEND-ONLY COMPLETIONS:
  A completion is a fact ("occurrence marked done at T"). AppendCompletion is
  the only way to add one and there is no way to edit it. Saving a task
  replaces its definition, never the log written through AppendCompletion.

IMPLEMENTATIONS:
  - recurrence/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go:     SQLite

SEE ALSO:
  - api/handlers.go: Uses Store
*/
package recurrence

import (
	"context"
	"time"
)

type Store interface {
	// SaveTask creates or replaces a task definition. Completions already
	// logged for the task are kept; Completion entries on the passed
	// instances are appended to the log.
	SaveTask(ctx context.Context, task Task) error

	// GetTask returns the task with every instance's completion log merged
	// in, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (Task, error)

	// ListTasks returns all tasks ordered by creation time.
	ListTasks(ctx context.Context) ([]Task, error)

	// DeleteTask removes a task and its log, or returns ErrTaskNotFound.
	DeleteTask(ctx context.Context, id string) error

	// AppendCompletion logs a completion for instance index of a task.
	// Returns ErrTaskNotFound, ErrInstanceNotFound or ErrDuplicateCompletion.
	AppendCompletion(ctx context.Context, taskID string, index int, at time.Time) error
}
