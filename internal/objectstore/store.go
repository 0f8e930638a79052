// Package objectstore stores oversized task payloads as bucketed blobs.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist (yet).
var ErrNotFound = errors.New("object not found")

// Store is bucket/key blob storage. Objects are immutable once written.
type Store interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Remove(ctx context.Context, bucket, key string) error
}
