package karton

import (
	"context"
	"testing"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/task"
)

func TestRegistrationEncodeDeterministic(t *testing.T) {
	reg := Registration{
		Filters: task.Binds{{"type": "sample", "kind": "raw"}},
		Info:    "classifier",
		Version: "1.0.0",
	}
	got, err := reg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"filters":[{"kind":"raw","type":"sample"}],"info":"classifier","persistent":false,"version":"1.0.0"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	again, _ := Registration{
		Filters: task.Binds{{"kind": "raw", "type": "sample"}},
		Info:    "classifier",
		Version: "1.0.0",
	}.Encode()
	if again != got {
		t.Errorf("equal registrations encoded differently: %s vs %s", again, got)
	}

	empty, _ := Registration{}.Encode()
	if empty != `{"filters":[],"info":"","persistent":false,"version":""}` {
		t.Errorf("empty: got %s", empty)
	}
}

func TestRegisterSwaps(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory()

	_, existed, err := Register(ctx, b, "karton.a", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("first registration should not report a previous value")
	}

	old, existed, err := Register(ctx, b, "karton.a", "v2")
	if err != nil {
		t.Fatal(err)
	}
	if !existed || old != "v1" {
		t.Errorf("got (%q, %v), want (v1, true)", old, existed)
	}

	live, err := CurrentRegistration(ctx, b, "karton.a")
	if err != nil || live != "v2" {
		t.Errorf("CurrentRegistration: got (%q, %v)", live, err)
	}
	missing, err := CurrentRegistration(ctx, b, "karton.none")
	if err != nil || missing != "" {
		t.Errorf("CurrentRegistration missing: got (%q, %v)", missing, err)
	}
}

func TestRegistrationsSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory()
	register(t, b, "karton.a", Registration{Filters: task.Binds{{"type": "x"}}})
	b.HSet(ctx, KeyBinds, "karton.garbage", "{not json")

	regs, err := Registrations(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 {
		t.Fatalf("got %d registrations, want 1", len(regs))
	}
	if regs["karton.a"].Filters[0]["type"] != "x" {
		t.Errorf("filters: got %v", regs["karton.a"].Filters)
	}
}
