package karton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/task"
)

// Version is reported in every registration.
const Version = "0.1.0"

// Registration is the bind registry entry of a consumer identity. Field
// order is alphabetical and bind maps are encoded with sorted keys, so two
// registrations are equal exactly when their encodings are.
type Registration struct {
	Filters    task.Binds `json:"filters"`
	Info       string     `json:"info"`
	Persistent bool       `json:"persistent"`
	Version    string     `json:"version"`
}

// Encode returns the registry value.
func (r Registration) Encode() (string, error) {
	if r.Filters == nil {
		r.Filters = task.Binds{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal registration: %w", err)
	}
	return string(data), nil
}

// DecodeRegistration parses a registry value.
func DecodeRegistration(value string) (Registration, error) {
	var r Registration
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return Registration{}, fmt.Errorf("unmarshal registration: %w", err)
	}
	return r, nil
}

// Register atomically replaces the registration of identity and returns the
// previous value.
func Register(ctx context.Context, b broker.Broker, identity, value string) (old string, existed bool, err error) {
	old, existed, err = b.HSwap(ctx, KeyBinds, identity, value)
	if err != nil {
		return "", false, fmt.Errorf("register %s: %w", identity, err)
	}
	return old, existed, nil
}

// CurrentRegistration returns the live registry value of identity, or ""
// when there is none.
func CurrentRegistration(ctx context.Context, b broker.Broker, identity string) (string, error) {
	v, err := b.HGet(ctx, KeyBinds, identity)
	if errors.Is(err, broker.ErrNil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get registration of %s: %w", identity, err)
	}
	return v, nil
}

// Registrations returns every registered identity. Unreadable entries are
// skipped.
func Registrations(ctx context.Context, b broker.Broker) (map[string]Registration, error) {
	raw, err := b.HGetAll(ctx, KeyBinds)
	if err != nil {
		return nil, fmt.Errorf("get binds: %w", err)
	}
	out := make(map[string]Registration, len(raw))
	for identity, value := range raw {
		r, err := DecodeRegistration(value)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable registration", "identity", identity, "error", err)
			continue
		}
		out[identity] = r
	}
	return out, nil
}

// Unregister removes identity from the bind registry.
func Unregister(ctx context.Context, b broker.Broker, identity string) error {
	if err := b.HDel(ctx, KeyBinds, identity); err != nil {
		return fmt.Errorf("unregister %s: %w", identity, err)
	}
	return nil
}
