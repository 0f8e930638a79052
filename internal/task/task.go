// Package task defines the unit of work routed between producers and consumers.
package task

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
)

// Priority determines which queue a task is pushed to.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities returns every priority in drain order.
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityNormal, PriorityLow}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown priorities; an empty value decodes as normal.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*p = PriorityNormal
		return nil
	}
	if !Priority(s).Valid() {
		return fmt.Errorf("unknown priority %q", s)
	}
	*p = Priority(s)
	return nil
}

// State is a lifecycle marker reported alongside a task.
type State string

const (
	StateStarted  State = "Started"
	StateFinished State = "Finished"
)

// Task is the serializable unit of work.
type Task struct {
	UID               string    `json:"uid"`
	ParentUID         string    `json:"parent_uid,omitempty"`
	RootUID           string    `json:"root_uid,omitempty"`
	Headers           Headers   `json:"headers"`
	Payload           Payload   `json:"payload"`
	PayloadPersistent Payload   `json:"payload_persistent"`
	Priority          Priority  `json:"priority"`
	LastUpdate        time.Time `json:"last_update"`
	Asynchronous      bool      `json:"asynchronic"`
}

// UnmarshalJSON accepts last_update as an RFC 3339 string or as epoch
// seconds.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var aux struct {
		plain
		LastUpdate json.RawMessage `json:"last_update"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := parseLastUpdate(aux.LastUpdate)
	if err != nil {
		return err
	}
	*t = Task(aux.plain)
	t.LastUpdate = ts
	return nil
}

func parseLastUpdate(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("last_update: %w", err)
		}
		return ts, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("last_update: %w", err)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
}

// Normalize fills the defaults of a task that was not built with New and
// validates its priority and headers.
func (t *Task) Normalize() error {
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: unknown priority %q", t.UID, t.Priority)
	}
	headers, err := t.Headers.normalize()
	if err != nil {
		return fmt.Errorf("task %s: %w", t.UID, err)
	}
	t.Headers = headers
	if t.Payload == nil {
		t.Payload = Payload{}
	}
	if t.PayloadPersistent == nil {
		t.PayloadPersistent = Payload{}
	}
	return nil
}

// Option configures a task built with New.
type Option func(*Task)

// WithPayload sets payload fields.
func WithPayload(p Payload) Option {
	return func(t *Task) { maps.Copy(t.Payload, p) }
}

// WithPersistentPayload sets fields that are propagated to every descendant.
// They are visible in the task's own payload too.
func WithPersistentPayload(p Payload) Option {
	return func(t *Task) {
		maps.Copy(t.PayloadPersistent, p)
		maps.Copy(t.Payload, p)
	}
}

// WithPriority sets the priority. It is overridden when the task is sent
// from within another task.
func WithPriority(p Priority) Option {
	return func(t *Task) { t.Priority = p }
}

// WithAsynchronous marks the task as completed outside of the handler call.
func WithAsynchronous() Option {
	return func(t *Task) { t.Asynchronous = true }
}

// New creates a root task with a fresh UID and normal priority.
func New(headers Headers, opts ...Option) *Task {
	t := &Task{
		UID:               GenerateUID(),
		Headers:           Headers{},
		Payload:           Payload{},
		PayloadPersistent: Payload{},
		Priority:          PriorityNormal,
	}
	maps.Copy(t.Headers, headers)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GenerateUID creates a unique task identifier.
func GenerateUID() string {
	return uuid.New().String()
}

// Root returns the UID of the first ancestor.
func (t *Task) Root() string {
	if t.RootUID == "" {
		return t.UID
	}
	return t.RootUID
}

// SetParent links t as a child of parent.
func (t *Task) SetParent(parent *Task) {
	t.ParentUID = parent.UID
	t.RootUID = parent.Root()
}

// MergePersistentPayload copies the parent's persistent fields into t.
// Fields already present on t are kept.
func (t *Task) MergePersistentPayload(parent *Task) {
	if t.Payload == nil {
		t.Payload = Payload{}
	}
	if t.PayloadPersistent == nil {
		t.PayloadPersistent = Payload{}
	}
	for k, v := range parent.PayloadPersistent {
		if _, ok := t.Payload[k]; !ok {
			t.Payload[k] = v
		}
		if _, ok := t.PayloadPersistent[k]; !ok {
			t.PayloadPersistent[k] = v
		}
	}
}

// IsAsynchronous reports whether finishing the task is deferred past its handler.
func (t *Task) IsAsynchronous() bool {
	return t.Asynchronous
}
