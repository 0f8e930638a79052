package karton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/heartbeat"
	"github.com/dohr-michael/karton/internal/task"
)

// Router resolves the identities a task must be delivered to.
type Router interface {
	Route(ctx context.Context, t *task.Task) ([]string, error)
}

// BindRouter routes a task to every registered identity with a matching
// bind. The task's origin never receives its own task. When HeartbeatMaxAge
// is set, non-persistent identities without a heartbeat are skipped.
type BindRouter struct {
	Broker          broker.Broker
	HeartbeatMaxAge time.Duration
}

// NewBindRouter creates a router reading the bind registry of b.
func NewBindRouter(b broker.Broker, heartbeatMaxAge time.Duration) *BindRouter {
	return &BindRouter{Broker: b, HeartbeatMaxAge: heartbeatMaxAge}
}

// Route returns the destination identities in sorted order.
func (r *BindRouter) Route(ctx context.Context, t *task.Task) ([]string, error) {
	regs, err := Registrations(ctx, r.Broker)
	if err != nil {
		return nil, err
	}

	origin, _ := t.Headers.Get(task.HeaderOrigin)
	var out []string
	for identity, reg := range regs {
		if identity == origin {
			continue
		}
		if _, ok := reg.Filters.Match(t); !ok {
			continue
		}
		if !reg.Persistent && r.HeartbeatMaxAge > 0 {
			status, _, err := heartbeat.Check(ctx, r.Broker, identity, r.HeartbeatMaxAge)
			if err != nil {
				slog.WarnContext(ctx, "heartbeat check failed", "identity", identity, "error", err)
			} else if status == heartbeat.StatusDead {
				slog.DebugContext(ctx, "skipping identity without heartbeat", "identity", identity)
				continue
			}
		}
		out = append(out, identity)
	}
	slices.Sort(out)
	return out, nil
}

// enqueue pushes uid onto the priority queue of every destination.
func enqueue(ctx context.Context, b broker.Broker, uid string, p task.Priority, destinations []string) error {
	for _, identity := range destinations {
		if err := b.RPush(ctx, QueueKey(p, identity), uid); err != nil {
			return fmt.Errorf("push task %s to %s: %w", uid, identity, err)
		}
	}
	return nil
}

// Dispatcher drains the unrouted queue, filled by producers that found no
// destination or that do not route themselves, and fans each task out to
// the identities bound to it at dispatch time.
type Dispatcher struct {
	broker      broker.Broker
	router      Router
	pollTimeout time.Duration
}

// NewDispatcher creates a dispatcher. A nil router defaults to a
// BindRouter without heartbeat checks.
func NewDispatcher(b broker.Broker, router Router, pollTimeout time.Duration) *Dispatcher {
	if router == nil {
		router = NewBindRouter(b, 0)
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Dispatcher{broker: b, router: router, pollTimeout: pollTimeout}
}

// Run dispatches tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "queue", KeyTasks)
	for {
		if ctx.Err() != nil {
			slog.Info("dispatcher stopped")
			return nil
		}

		_, uid, err := d.broker.BlockingPop(context.WithoutCancel(ctx), []string{KeyTasks}, d.pollTimeout)
		switch {
		case errors.Is(err, broker.ErrNil):
			continue
		case err != nil:
			slog.Error("pop unrouted task", "error", err)
			sleep(ctx, transportBackoff)
			continue
		}

		if err := d.Dispatch(context.WithoutCancel(ctx), uid); err != nil {
			slog.Error("dispatch task", "task_id", uid, "error", err)
		}
	}
}

// Dispatch routes one unrouted task. A task without a record, or without
// any destination, is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, uid string) error {
	data, err := d.broker.Get(ctx, TaskKey(uid))
	if errors.Is(err, broker.ErrNil) {
		slog.WarnContext(ctx, "task record not found, dropping", "task_id", uid)
		return nil
	}
	if err != nil {
		if perr := d.broker.RPush(ctx, KeyTasks, uid); perr != nil {
			slog.ErrorContext(ctx, "requeue task", "task_id", uid, "error", perr)
		}
		return fmt.Errorf("read task %s: %w", uid, err)
	}

	t, err := task.Deserialize([]byte(data))
	if err != nil {
		return deadLetter(ctx, d.broker, uid, "", err)
	}

	destinations, err := d.router.Route(ctx, t)
	if err != nil {
		if perr := d.broker.RPush(ctx, KeyTasks, uid); perr != nil {
			slog.ErrorContext(ctx, "requeue task", "task_id", uid, "error", perr)
		}
		return fmt.Errorf("route task %s: %w", uid, err)
	}
	if len(destinations) == 0 {
		slog.WarnContext(ctx, "no identity bound to task, dropping", "task_id", uid, "headers", t.Headers)
		return d.broker.Del(ctx, TaskKey(uid))
	}

	slog.InfoContext(ctx, "dispatching task", "task_id", uid, "destinations", destinations)
	return enqueue(ctx, d.broker, uid, t.Priority, destinations)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
