package broker

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Broker. It backs tests and single-process setups.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]string
	lists  map[string][]string
	hashes map[string]map[string]string
	closed bool

	// notify is closed and replaced on every push to wake blocked pops.
	notify chan struct{}
}

// NewMemory creates an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]string),
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		notify: make(chan struct{}),
	}
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.lists, k)
		delete(m.hashes, k)
	}
	return nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	lo, hi, ok := lrangeBounds(start, stop, int64(len(list)))
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo)
	copy(out, list[lo:hi])
	return out, nil
}

func (m *Memory) BlockingPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		for _, k := range keys {
			if list := m.lists[k]; len(list) > 0 {
				v := list[0]
				if len(list) == 1 {
					delete(m.lists, k)
				} else {
					m.lists[k] = list[1:]
				}
				m.mu.Unlock()
				return k, v, nil
			}
		}
		if m.closed {
			m.mu.Unlock()
			return "", "", ErrClosed
		}
		wake := m.notify
		m.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return "", "", ErrNil
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hset(key, field, value)
	return nil
}

func (m *Memory) hset(key, field, value string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	maps.Copy(out, m.hashes[key])
	return out, nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}

func (m *Memory) HIncrBy(_ context.Context, key, field string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if v, ok := m.hashes[key][field]; ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = parsed
	}
	cur += n
	m.hset(key, field, strconv.FormatInt(cur, 10))
	return cur, nil
}

func (m *Memory) HSwap(_ context.Context, key, field, value string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.hashes[key][field]
	m.hset(key, field, value)
	return old, existed, nil
}

// Close wakes blocked pops; the broker stays readable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.notify)
		m.notify = make(chan struct{})
	}
	return nil
}
