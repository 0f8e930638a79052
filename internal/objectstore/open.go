package objectstore

import (
	"context"
	"fmt"

	"github.com/dohr-michael/karton/internal/config"
)

// Open creates the store selected by cfg, sealed with age when an identity
// file is configured.
func Open(ctx context.Context, cfg config.ObjectStoreConfig) (Store, error) {
	var store Store
	switch cfg.Driver {
	case "fs":
		store = NewFS(cfg.Dir)
	case "minio":
		m, err := NewMinio(MinioOptions{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx, cfg.Bucket); err != nil {
			return nil, err
		}
		store = m
	default:
		return nil, fmt.Errorf("unknown object store driver %q", cfg.Driver)
	}

	if cfg.AgeIdentity != "" {
		id, err := LoadIdentity(cfg.AgeIdentity)
		if err != nil {
			return nil, err
		}
		store = NewSealed(store, id)
	}
	return store, nil
}
