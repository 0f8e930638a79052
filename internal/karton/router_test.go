package karton

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/heartbeat"
	"github.com/dohr-michael/karton/internal/task"
)

func TestBindRouterSkipsIdentitiesWithoutHeartbeat(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory()
	register(t, b, "karton.alive", Registration{Filters: task.Binds{{"type": "sample"}}})
	register(t, b, "karton.gone", Registration{Filters: task.Binds{{"type": "sample"}}})
	register(t, b, "karton.persistent", Registration{Filters: task.Binds{{"type": "sample"}}, Persistent: true})

	hb, _ := json.Marshal(heartbeat.Heartbeat{Timestamp: time.Now()})
	b.HSet(ctx, heartbeat.Key, "karton.alive", string(hb))

	got, err := NewBindRouter(b, time.Minute).Route(ctx, task.New(task.Headers{"type": "sample"}))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"karton.alive", "karton.persistent"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory()
	d := NewDispatcher(b, nil, 20*time.Millisecond)

	t.Run("routes to bound identities", func(t *testing.T) {
		register(t, b, "karton.classifier", Registration{Filters: task.Binds{{"type": "sample"}}})
		tk := task.New(task.Headers{"type": "sample"}, task.WithPriority(task.PriorityLow))
		storeTask(t, b, tk)

		if err := d.Dispatch(ctx, tk.UID); err != nil {
			t.Fatal(err)
		}
		got, _ := b.LRange(ctx, QueueKey(task.PriorityLow, "karton.classifier"), 0, -1)
		if len(got) != 1 || got[0] != tk.UID {
			t.Errorf("got %v", got)
		}
	})

	t.Run("drops unbound task", func(t *testing.T) {
		tk := task.New(task.Headers{"type": "nobody"})
		storeTask(t, b, tk)

		if err := d.Dispatch(ctx, tk.UID); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Get(ctx, TaskKey(tk.UID)); !errors.Is(err, broker.ErrNil) {
			t.Errorf("record should be removed, got %v", err)
		}
	})

	t.Run("run drains unrouted queue", func(t *testing.T) {
		tk := task.New(task.Headers{"type": "sample"})
		storeTask(t, b, tk)
		b.RPush(ctx, KeyTasks, tk.UID)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- d.Run(runCtx) }()

		waitFor(t, func() bool {
			n, _ := b.LLen(ctx, QueueKey(task.PriorityNormal, "karton.classifier"))
			return n == 1
		})
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("Run: %v", err)
		}
	})
}
