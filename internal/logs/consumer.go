package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/task"
)

// Entry is one element of the log or operations stream.
type Entry struct {
	Type     string          `json:"type"`
	Level    string          `json:"level,omitempty"`
	Message  string          `json:"message,omitempty"`
	Status   task.State      `json:"status,omitempty"`
	Identity string          `json:"identity"`
	Time     time.Time       `json:"time,omitzero"`
	Task     json.RawMessage `json:"task,omitempty"`
	Attrs    map[string]any  `json:"attrs,omitempty"`
}

// DecodeEntry parses a stream element. A task field holding a JSON string
// (a record encoded twice) is unwrapped into the record itself.
func DecodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal log entry: %w", err)
	}
	if e.Type == "" {
		return Entry{}, errors.New("log entry without type")
	}

	raw := bytes.TrimSpace(e.Task)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Entry{}, fmt.Errorf("unmarshal log entry task: %w", err)
		}
		e.Task = json.RawMessage(inner)
	}
	if len(e.Task) > 0 && !json.Valid(e.Task) {
		return Entry{}, errors.New("log entry task is not valid JSON")
	}
	return e, nil
}

// ParsedTask decodes the task attached to the entry, or returns nil.
func (e Entry) ParsedTask() (*task.Task, error) {
	if len(e.Task) == 0 || string(e.Task) == "null" {
		return nil, nil
	}
	return task.Deserialize(e.Task)
}

// Consumer drains the log stream and the operations stream.
type Consumer struct {
	broker      broker.Broker
	keys        []string
	pollTimeout time.Duration
	stderr      io.Writer
}

// NewConsumer creates a consumer popping from the log and operations
// streams.
func NewConsumer(b broker.Broker, pollTimeout time.Duration) *Consumer {
	if pollTimeout <= 0 {
		pollTimeout = karton.DefaultPollTimeout
	}
	return &Consumer{
		broker:      b,
		keys:        []string{karton.KeyLogs, karton.KeyOperations},
		pollTimeout: pollTimeout,
		stderr:      os.Stderr,
	}
}

// Run hands every decoded entry to fn until ctx is cancelled. Entries that
// cannot be decoded are reported on stderr and skipped.
func (c *Consumer) Run(ctx context.Context, fn func(Entry)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, value, err := c.broker.BlockingPop(context.WithoutCancel(ctx), c.keys, c.pollTimeout)
		switch {
		case errors.Is(err, broker.ErrNil):
			continue
		case err != nil:
			slog.Error("pop log entry", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		entry, err := DecodeEntry([]byte(value))
		if err != nil {
			fmt.Fprintf(c.stderr, "logs: skipping entry: %v\n", err)
			continue
		}
		fn(entry)
	}
}
