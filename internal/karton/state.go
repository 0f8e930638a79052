package karton

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/task"
)

// OperationType tags entries of the operations stream.
const OperationType = "operation"

// Operation is a state transition pushed to the operations stream. Task
// holds the serialized task as a JSON string.
type Operation struct {
	Status   task.State `json:"status"`
	Identity string     `json:"identity"`
	Task     string     `json:"task"`
	Type     string     `json:"type"`
}

// DeclareState records that identity moved t to state.
func DeclareState(ctx context.Context, b broker.Broker, t *task.Task, state task.State, identity string) error {
	if err := b.HSet(ctx, StateKey(t.UID), identity, string(state)); err != nil {
		return fmt.Errorf("set state of %s: %w", t.UID, err)
	}

	data, err := task.Serialize(t)
	if err != nil {
		return err
	}
	op, err := json.Marshal(Operation{
		Status:   state,
		Identity: identity,
		Task:     string(data),
		Type:     OperationType,
	})
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	if err := b.RPush(ctx, KeyOperations, string(op)); err != nil {
		return fmt.Errorf("push operation for %s: %w", t.UID, err)
	}
	return nil
}

// States returns the state of a task per identity.
func States(ctx context.Context, b broker.Broker, uid string) (map[string]task.State, error) {
	raw, err := b.HGetAll(ctx, StateKey(uid))
	if err != nil {
		return nil, fmt.Errorf("get states of %s: %w", uid, err)
	}
	out := make(map[string]task.State, len(raw))
	for identity, s := range raw {
		out[identity] = task.State(s)
	}
	return out, nil
}
