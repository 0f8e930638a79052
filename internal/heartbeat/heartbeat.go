// Package heartbeat provides liveness detection for consumer identities.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
)

// Key is the broker hash holding one heartbeat per identity.
const Key = "karton.heartbeats"

// Status represents the liveness state of an identity.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Heartbeat is the data written for an identity.
type Heartbeat struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer periodically writes the heartbeat of an identity.
type Writer struct {
	broker   broker.Broker
	identity string
	interval time.Duration
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a heartbeat writer for identity. A zero interval
// defaults to 30s.
func NewWriter(b broker.Broker, identity string, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Writer{
		broker:   b,
		identity: identity,
		interval: interval,
	}
}

// Start begins writing heartbeats in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	// Write initial heartbeat immediately
	w.write(ctx)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.broker.HDel(ctx, Key, w.identity); err != nil {
		slog.Warn("remove heartbeat", "identity", w.identity, "error", err)
	}
}

func (w *Writer) write(ctx context.Context) {
	host, _ := os.Hostname()
	hb := Heartbeat{
		PID:       os.Getpid(),
		Host:      host,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}

	data, err := json.Marshal(hb)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	if err := w.broker.HSet(ctx, Key, w.identity, string(data)); err != nil {
		slog.Warn("write heartbeat", "identity", w.identity, "error", err)
	}
}

// Check reads the heartbeat of identity and returns its liveness status.
// maxAge determines how old a heartbeat can be before it's considered stale.
func Check(ctx context.Context, b broker.Broker, identity string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := b.HGet(ctx, Key, identity)
	if err != nil {
		if errors.Is(err, broker.ErrNil) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	hb, err := decode(data)
	if err != nil {
		return StatusDead, nil, err
	}
	return statusOf(hb, maxAge), hb, nil
}

// Entry is the heartbeat of one identity with its status.
type Entry struct {
	Identity  string     `json:"identity"`
	Status    Status     `json:"status"`
	Heartbeat *Heartbeat `json:"heartbeat"`
}

// All returns the heartbeat of every identity that wrote one.
func All(ctx context.Context, b broker.Broker, maxAge time.Duration) ([]Entry, error) {
	raw, err := b.HGetAll(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("read heartbeats: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for identity, data := range raw {
		hb, err := decode(data)
		if err != nil {
			entries = append(entries, Entry{Identity: identity, Status: StatusDead})
			continue
		}
		entries = append(entries, Entry{Identity: identity, Status: statusOf(hb, maxAge), Heartbeat: hb})
	}
	return entries, nil
}

func decode(data string) (*Heartbeat, error) {
	var hb Heartbeat
	if err := json.Unmarshal([]byte(data), &hb); err != nil {
		return nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}

func statusOf(hb *Heartbeat, maxAge time.Duration) Status {
	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale
	}
	return StatusAlive
}
