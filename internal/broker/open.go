package broker

import (
	"context"
	"fmt"

	"github.com/dohr-michael/karton/internal/config"
)

// Open creates the broker selected by cfg. clientName identifies the
// connection on the server side, where supported.
func Open(ctx context.Context, cfg config.BrokerConfig, clientName string) (Broker, error) {
	switch cfg.Driver {
	case "redis":
		return OpenRedis(ctx, RedisOptions{
			Addr:       cfg.Addr,
			Username:   cfg.Username,
			Password:   cfg.Password,
			DB:         cfg.DB,
			ClientName: clientName,
		})
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
