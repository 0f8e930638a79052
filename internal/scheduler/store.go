package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
)

// StateKey is the broker hash holding the run state of every entry.
const StateKey = "karton.schedule"

// RunState is the persisted part of an entry.
type RunState struct {
	RunCount  int       `json:"run_count"`
	LastRunAt time.Time `json:"last_run_at"`
	Disabled  bool      `json:"disabled,omitempty"`
}

// StateStore persists run state in the broker so a restarted scheduler
// keeps counting runs and honoring cooldowns.
type StateStore struct {
	broker broker.Broker
}

// NewStateStore creates a store on b.
func NewStateStore(b broker.Broker) *StateStore {
	return &StateStore{broker: b}
}

// Get returns the state of an entry; a missing entry yields a zero state.
func (s *StateStore) Get(ctx context.Context, name string) (RunState, error) {
	data, err := s.broker.HGet(ctx, StateKey, name)
	if errors.Is(err, broker.ErrNil) {
		return RunState{}, nil
	}
	if err != nil {
		return RunState{}, fmt.Errorf("read schedule state %s: %w", name, err)
	}
	var st RunState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return RunState{}, fmt.Errorf("unmarshal schedule state %s: %w", name, err)
	}
	return st, nil
}

// Put writes the state of an entry.
func (s *StateStore) Put(ctx context.Context, name string, st RunState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal schedule state: %w", err)
	}
	if err := s.broker.HSet(ctx, StateKey, name, string(data)); err != nil {
		return fmt.Errorf("write schedule state %s: %w", name, err)
	}
	return nil
}

// Reset forgets the state of an entry.
func (s *StateStore) Reset(ctx context.Context, name string) error {
	if err := s.broker.HDel(ctx, StateKey, name); err != nil {
		return fmt.Errorf("reset schedule state %s: %w", name, err)
	}
	return nil
}
