package task

import (
	"context"
	"encoding/json"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	tk := New(Headers{"type": "sample"})
	if tk.UID == "" {
		t.Fatal("expected non-empty UID")
	}
	if tk.Priority != PriorityNormal {
		t.Errorf("Priority: got %q, want %q", tk.Priority, PriorityNormal)
	}
	if tk.Root() != tk.UID {
		t.Errorf("Root: got %q, want own UID", tk.Root())
	}
	if New(nil).UID == tk.UID {
		t.Error("expected distinct UIDs")
	}
}

func TestSetParentAndRoot(t *testing.T) {
	root := New(Headers{"type": "sample"})
	child := New(Headers{"type": "sample", "kind": "raw"})
	grandchild := New(Headers{"type": "config"})

	child.SetParent(root)
	grandchild.SetParent(child)

	if child.ParentUID != root.UID {
		t.Errorf("child parent: got %q, want %q", child.ParentUID, root.UID)
	}
	if grandchild.ParentUID != child.UID {
		t.Errorf("grandchild parent: got %q, want %q", grandchild.ParentUID, child.UID)
	}
	if grandchild.Root() != root.UID {
		t.Errorf("grandchild root: got %q, want %q", grandchild.Root(), root.UID)
	}
}

func TestMergePersistentPayload(t *testing.T) {
	parent := New(Headers{"type": "sample"},
		WithPersistentPayload(Payload{"tag": "parent-tag", "campaign": "x"}))
	child := New(Headers{"type": "sample"},
		WithPayload(Payload{"tag": "child-tag", "own": 1}))

	child.MergePersistentPayload(parent)

	if child.Payload["tag"] != "child-tag" {
		t.Errorf("child payload should win: got %v", child.Payload["tag"])
	}
	if child.Payload["campaign"] != "x" {
		t.Errorf("campaign: got %v, want x", child.Payload["campaign"])
	}
	if child.PayloadPersistent["campaign"] != "x" {
		t.Errorf("persistent campaign should propagate further: got %v", child.PayloadPersistent["campaign"])
	}
	if child.Payload["own"] != 1 {
		t.Errorf("own: got %v, want 1", child.Payload["own"])
	}
}

func TestPriorityUnmarshal(t *testing.T) {
	var p Priority
	if err := json.Unmarshal([]byte(`"high"`), &p); err != nil || p != PriorityHigh {
		t.Errorf("high: got (%q, %v)", p, err)
	}
	if err := json.Unmarshal([]byte(`""`), &p); err != nil || p != PriorityNormal {
		t.Errorf("empty: got (%q, %v)", p, err)
	}
	if err := json.Unmarshal([]byte(`"urgent"`), &p); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestPrioritiesOrder(t *testing.T) {
	got := Priorities()
	want := []Priority{PriorityHigh, PriorityNormal, PriorityLow}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Priorities()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCurrentContext(t *testing.T) {
	ctx := context.Background()
	if Current(ctx) != nil {
		t.Fatal("expected no current task")
	}
	tk := New(Headers{"type": "sample"})
	inner := WithCurrent(ctx, tk)
	if Current(inner) != tk {
		t.Error("expected current task from context")
	}
	if Current(ctx) != nil {
		t.Error("outer context must be unchanged")
	}
}
