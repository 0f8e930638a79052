package karton

import (
	"testing"

	"github.com/dohr-michael/karton/internal/task"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{TaskKey("abc"), "karton.task:abc"},
		{StateKey("abc"), "karton.state:abc"},
		{QueueKey(task.PriorityHigh, "karton.classifier"), "karton.queue.high:karton.classifier"},
		{QueueKey(task.PriorityLow, "x"), "karton.queue.low:x"},
		{string(MetricProduced), "karton.metrics.produced"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestConsumerQueuesOrder(t *testing.T) {
	got := ConsumerQueues("karton.classifier")
	want := []string{
		"karton.queue.high:karton.classifier",
		"karton.queue.normal:karton.classifier",
		"karton.queue.low:karton.classifier",
		"karton.classifier",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d queues, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
