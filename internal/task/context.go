package task

import "context"

type currentKey struct{}

// WithCurrent returns a context in which t is the task being handled.
// Tasks sent under this context become children of t.
func WithCurrent(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, currentKey{}, t)
}

// Current returns the task being handled, or nil outside of a handler.
func Current(ctx context.Context) *Task {
	if t, ok := ctx.Value(currentKey{}).(*Task); ok {
		return t
	}
	return nil
}
