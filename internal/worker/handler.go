package worker

import (
	"context"
	"errors"
)

// Task is a unit of periodic cleanup.
type Task interface {
	// Name identifies the task in logs and metrics labels.
	Name() string

	// Run performs one pass and reports how many rows it removed.
	// Returning a PermanentError stops the task from being scheduled again.
	Run(ctx context.Context) (int64, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	name string
	fn   func(ctx context.Context) (int64, error)
}

// NewTask wraps fn as a Task called name.
func NewTask(name string, fn func(ctx context.Context) (int64, error)) TaskFunc {
	return TaskFunc{name: name, fn: fn}
}

// Name implements Task.
func (t TaskFunc) Name() string { return t.name }

// Run implements Task.
func (t TaskFunc) Run(ctx context.Context) (int64, error) { return t.fn(ctx) }

// PermanentError wraps an error to indicate the task cannot succeed on a
// later run.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
