package karton

import (
	"context"
	"fmt"
	"sync"

	"github.com/dohr-michael/karton/internal/task"
)

// PreHook runs before the handler.
type PreHook func(ctx context.Context, t *task.Task) error

// PostHook runs after the handler and receives its error, if any.
type PostHook func(ctx context.Context, t *task.Task, handlerErr error) error

// HookFailure reports a hook that returned an error or panicked.
type HookFailure struct {
	Name string
	Err  error
}

func (f HookFailure) Error() string {
	return fmt.Sprintf("hook %s: %v", f.Name, f.Err)
}

type namedPre struct {
	name string
	fn   PreHook
}

type namedPost struct {
	name string
	fn   PostHook
}

// Hooks holds pre and post processing hooks run in registration order.
// A failing hook never prevents the others or the handler from running.
type Hooks struct {
	mu   sync.RWMutex
	pre  []namedPre
	post []namedPost
}

// AddPre registers a hook run before every task.
func (h *Hooks) AddPre(name string, fn PreHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pre = append(h.pre, namedPre{name: name, fn: fn})
}

// AddPost registers a hook run after every task.
func (h *Hooks) AddPost(name string, fn PostHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.post = append(h.post, namedPost{name: name, fn: fn})
}

// RunPre runs every pre-hook and returns the failures.
func (h *Hooks) RunPre(ctx context.Context, t *task.Task) []HookFailure {
	h.mu.RLock()
	hooks := append([]namedPre(nil), h.pre...)
	h.mu.RUnlock()

	var failures []HookFailure
	for _, hook := range hooks {
		if err := callHook(func() error { return hook.fn(ctx, t) }); err != nil {
			failures = append(failures, HookFailure{Name: hook.name, Err: err})
		}
	}
	return failures
}

// RunPost runs every post-hook and returns the failures.
func (h *Hooks) RunPost(ctx context.Context, t *task.Task, handlerErr error) []HookFailure {
	h.mu.RLock()
	hooks := append([]namedPost(nil), h.post...)
	h.mu.RUnlock()

	var failures []HookFailure
	for _, hook := range hooks {
		if err := callHook(func() error { return hook.fn(ctx, t, handlerErr) }); err != nil {
			failures = append(failures, HookFailure{Name: hook.name, Err: err})
		}
	}
	return failures
}

func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
