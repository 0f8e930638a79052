// Package broker is the shared coordination store: keys, lists, hashes and
// counters reachable by every producer and consumer.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned when a key, field or list element does not exist, and
// by BlockingPop when the timeout elapses.
var ErrNil = errors.New("broker: nil")

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker: closed")

// Broker is the set of atomic operations the routing layer relies on.
type Broker interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// BlockingPop removes the head of the first non-empty list, scanning keys
	// in order. It returns ErrNil once timeout elapses with every list empty.
	BlockingPop(ctx context.Context, keys []string, timeout time.Duration) (key, value string, err error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	// HSwap atomically writes value and returns the previous one.
	HSwap(ctx context.Context, key, field, value string) (old string, existed bool, err error)

	Close() error
}

// lrangeBounds converts Redis-style inclusive, possibly negative indices to
// slice bounds for a list of length n.
func lrangeBounds(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop + 1, true
}
