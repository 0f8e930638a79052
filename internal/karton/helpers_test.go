package karton

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/task"
)

// recordingBroker logs writes so tests can assert their order.
type recordingBroker struct {
	broker.Broker

	mu  sync.Mutex
	ops []string
}

func (r *recordingBroker) Set(ctx context.Context, key, value string) error {
	r.record("set " + key)
	return r.Broker.Set(ctx, key, value)
}

func (r *recordingBroker) RPush(ctx context.Context, key string, values ...string) error {
	r.record("rpush " + key)
	return r.Broker.RPush(ctx, key, values...)
}

func (r *recordingBroker) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingBroker) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// flakyBroker fails Get on task records.
type flakyBroker struct {
	broker.Broker
}

var errTransport = errors.New("connection reset")

func (f *flakyBroker) Get(ctx context.Context, key string) (string, error) {
	if strings.HasPrefix(key, taskKeyPrefix) {
		return "", errTransport
	}
	return f.Broker.Get(ctx, key)
}

func register(t *testing.T, b broker.Broker, identity string, reg Registration) {
	t.Helper()
	reg.Version = Version
	value, err := reg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Register(context.Background(), b, identity, value); err != nil {
		t.Fatal(err)
	}
}

func operations(t *testing.T, b broker.Broker) []Operation {
	t.Helper()
	raw, err := b.LRange(context.Background(), KeyOperations, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]Operation, len(raw))
	for i, v := range raw {
		if err := json.Unmarshal([]byte(v), &out[i]); err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
	}
	return out
}

func statuses(ops []Operation) []task.State {
	out := make([]task.State, len(ops))
	for i, op := range ops {
		out[i] = op.Status
	}
	return out
}

func metric(t *testing.T, b broker.Broker, m Metric, identity string) int64 {
	t.Helper()
	all, err := ReadMetrics(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	return all[m][identity]
}

func storeTask(t *testing.T, b broker.Broker, tk *task.Task) {
	t.Helper()
	data, err := task.Serialize(tk)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(context.Background(), TaskKey(tk.UID), string(data)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
