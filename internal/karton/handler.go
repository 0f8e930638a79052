package karton

import (
	"context"
	"fmt"

	"github.com/dohr-michael/karton/internal/task"
)

// Handler processes one task. The context carries the task as the current
// one, so tasks sent through the consumer become its children.
type Handler interface {
	Process(ctx context.Context, t *task.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t *task.Task) error

func (f HandlerFunc) Process(ctx context.Context, t *task.Task) error {
	return f(ctx, t)
}

// ContextHandler adapts a function that reads the task from its context
// with task.Current.
func ContextHandler(fn func(ctx context.Context) error) Handler {
	return HandlerFunc(func(ctx context.Context, _ *task.Task) error {
		return fn(ctx)
	})
}

func runHandler(ctx context.Context, h Handler, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{UID: t.UID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := h.Process(ctx, t); err != nil {
		return &HandlerError{UID: t.UID, Err: err}
	}
	return nil
}
