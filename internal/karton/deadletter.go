package karton

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/karton/internal/broker"
)

// DeadLetter is a task id whose record could not be decoded.
type DeadLetter struct {
	UID      string `json:"uid"`
	Identity string `json:"identity"`
	Error    string `json:"error"`
}

func deadLetter(ctx context.Context, b broker.Broker, uid, identity string, cause error) error {
	slog.ErrorContext(ctx, "malformed task record, moved to dead letters", "task_id", uid, "error", cause)

	data, err := json.Marshal(DeadLetter{UID: uid, Identity: identity, Error: cause.Error()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := b.RPush(ctx, KeyDeadLetter, string(data)); err != nil {
		return fmt.Errorf("push dead letter %s: %w", uid, err)
	}
	return cause
}

// DeadLetters returns every dead letter, oldest first.
func DeadLetters(ctx context.Context, b broker.Broker) ([]DeadLetter, error) {
	raw, err := b.LRange(ctx, KeyDeadLetter, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, v := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(v), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}
