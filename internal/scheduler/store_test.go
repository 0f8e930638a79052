package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
)

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore(broker.NewMemory())

	st, err := store.Get(ctx, "nightly")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.RunCount != 0 || !st.LastRunAt.IsZero() {
		t.Fatalf("got %+v, want zero state", st)
	}

	last := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	if err := store.Put(ctx, "nightly", RunState{RunCount: 2, LastRunAt: last}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	st, err = store.Get(ctx, "nightly")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.RunCount != 2 || !st.LastRunAt.Equal(last) {
		t.Fatalf("got %+v", st)
	}

	if err := store.Reset(ctx, "nightly"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	st, _ = store.Get(ctx, "nightly")
	if st.RunCount != 0 {
		t.Fatalf("got run count %d after reset, want 0", st.RunCount)
	}
}

func TestStateStore_Malformed(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory()
	if err := b.HSet(ctx, StateKey, "nightly", "{"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStateStore(b).Get(ctx, "nightly"); err == nil {
		t.Fatal("expected error for malformed state")
	}
}
