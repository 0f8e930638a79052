package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Sealed encrypts objects at rest with age before handing them to the
// underlying store.
type Sealed struct {
	inner     Store
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewSealed wraps inner so every object is encrypted for identity.
func NewSealed(inner Store, identity *age.X25519Identity) *Sealed {
	return &Sealed{
		inner:     inner,
		identity:  identity,
		recipient: identity.Recipient(),
	}
}

// LoadIdentity reads an age X25519 private key from the given file.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}

	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected identity type in %s", path)
	}
	return id, nil
}

func (s *Sealed) Put(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return fmt.Errorf("age encrypt init: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("age encrypt close: %w", err)
	}
	return s.inner.Put(ctx, bucket, key, &buf, int64(buf.Len()))
}

func (s *Sealed) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := s.inner.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	plain, err := age.Decrypt(rc, s.identity)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("age decrypt %s/%s: %w", bucket, key, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{plain, rc}, nil
}

func (s *Sealed) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return s.inner.Exists(ctx, bucket, key)
}

func (s *Sealed) Remove(ctx context.Context, bucket, key string) error {
	return s.inner.Remove(ctx, bucket, key)
}
