package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/logs"
	"github.com/dohr-michael/karton/internal/task"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"type=sample", "note=a=b", "empty="})
	if err != nil {
		t.Fatalf("parsePairs: %v", err)
	}
	if got["type"] != "sample" || got["note"] != "a=b" || got["empty"] != "" {
		t.Fatalf("got %v", got)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parsePairs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseBinds(t *testing.T) {
	binds, err := parseBinds([]string{"type=sample, kind=!raw", "type=config"})
	if err != nil {
		t.Fatalf("parseBinds: %v", err)
	}
	if len(binds) != 2 {
		t.Fatalf("got %d binds, want 2", len(binds))
	}
	if binds[0]["kind"] != "!raw" || binds[1]["type"] != "config" {
		t.Fatalf("got %v", binds)
	}
}

func TestLoopExit(t *testing.T) {
	if err := loopExit("karton.test", fmt.Errorf("loop: %w", karton.ErrBindsChanged)); err != nil {
		t.Errorf("binds changed: got %v, want nil", err)
	}
	if err := loopExit("karton.test", nil); err != nil {
		t.Errorf("clean shutdown: got %v, want nil", err)
	}
	boom := errors.New("boom")
	if err := loopExit("karton.test", boom); !errors.Is(err, boom) {
		t.Errorf("other error: got %v, want %v", err, boom)
	}
}

func TestFormatEntry(t *testing.T) {
	tk := task.New(task.Headers{"type": "sample"})
	data, err := task.Serialize(tk)
	if err != nil {
		t.Fatal(err)
	}

	line := formatEntry(logs.Entry{
		Type:     logs.TypeLog,
		Level:    "INFO",
		Message:  "classified",
		Identity: "karton.classifier",
		Task:     json.RawMessage(data),
		Attrs:    map[string]any{"b": 2, "a": "x"},
	})
	want := "karton.classifier INFO task=" + tk.UID + " classified a=x b=2"
	if !strings.HasSuffix(line, want) {
		t.Fatalf("got %q, want suffix %q", line, want)
	}

	op := formatEntry(logs.Entry{Type: "operation", Status: task.StateFinished, Identity: "karton.classifier"})
	if !strings.HasSuffix(op, "karton.classifier operation Finished") {
		t.Fatalf("got %q", op)
	}
}

func TestStateLine(t *testing.T) {
	got := stateLine(map[string]task.State{"b": task.StateFinished, "a": task.StateStarted})
	if want := "a=Started b=Finished"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
