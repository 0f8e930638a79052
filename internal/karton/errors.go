package karton

import (
	"errors"
	"fmt"
)

var (
	// ErrBindsChanged stops a consumer whose registration was replaced by a
	// newer instance.
	ErrBindsChanged = errors.New("binds changed")

	// ErrTaskNotFound is returned when a claimed id has no task record.
	ErrTaskNotFound = errors.New("task not found")
)

// HandlerError wraps a failure (or recovered panic) of a task handler.
type HandlerError struct {
	UID string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle task %s: %v", e.UID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
