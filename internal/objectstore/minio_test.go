package objectstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

// TestMinio runs against a live S3 endpoint given as
// KARTON_TEST_MINIO=endpoint,access,secret.
func TestMinio(t *testing.T) {
	spec := os.Getenv("KARTON_TEST_MINIO")
	if spec == "" {
		t.Skip("KARTON_TEST_MINIO not set")
	}
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		t.Fatalf("KARTON_TEST_MINIO: want endpoint,access,secret")
	}

	ctx := context.Background()
	m, err := NewMinio(MinioOptions{Endpoint: parts[0], AccessKey: parts[1], SecretKey: parts[2]})
	if err != nil {
		t.Fatalf("NewMinio: %v", err)
	}
	if err := m.EnsureBucket(ctx, "karton-test"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}

	if _, err := m.Get(ctx, "karton-test", "missing-object"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
	if err := m.Put(ctx, "karton-test", "obj", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := m.Get(ctx, "karton-test", "obj")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := readAll(t, rc); got != "data" {
		t.Errorf("content: got %q, want %q", got, "data")
	}
	if err := m.Remove(ctx, "karton-test", "obj"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
