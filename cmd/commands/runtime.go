package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/config"
	"github.com/dohr-michael/karton/internal/logs"
	"github.com/dohr-michael/karton/internal/objectstore"
)

// env holds what every command shares: the live config, the logger level
// and the backends.
type env struct {
	reloader *config.Reloader
	level    *slog.LevelVar
	broker   broker.Broker
	store    objectstore.Store
}

func (e *env) cfg() *config.Config {
	return e.reloader.Current()
}

// setup loads the config, connects the broker, and installs the logger.
// identity names the broker connection and, when log forwarding is enabled,
// the log records. withStore also opens the object store.
func setup(ctx context.Context, cmd *cli.Command, identity string, withStore bool) (*env, error) {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config not found, using defaults", "path", configPath)
		cfg = config.Default()
	case err != nil:
		return nil, err
	}

	debug := cmd.Bool("debug")
	e := &env{
		reloader: config.NewReloader(configPath, config.DotenvPath(), cfg),
		level:    new(slog.LevelVar),
	}
	e.level.Set(levelFor(cfg, debug))

	e.broker, err = broker.Open(ctx, cfg.Broker, identity)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}

	var handler slog.Handler = logs.NewHandler(e.level, cfg.Log.Format, os.Stderr)
	if cfg.Log.Forward && identity != "" {
		handler = logs.NewForwarder(handler, e.broker, identity)
	}
	slog.SetDefault(slog.New(handler))

	if withStore {
		e.store, err = objectstore.Open(ctx, cfg.ObjectStore)
		if err != nil {
			e.broker.Close()
			return nil, fmt.Errorf("open object store: %w", err)
		}
	}

	e.reloader.OnReload(func(c *config.Config) {
		e.level.Set(levelFor(c, debug))
	})
	go e.watchReload(ctx)
	return e, nil
}

// watchReload reloads the config on SIGHUP until ctx is done.
func (e *env) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := e.reloader.Reload(); err != nil {
				slog.Error("reload failed", "error", err)
			}
		}
	}
}

func (e *env) close() {
	if err := e.broker.Close(); err != nil {
		slog.Warn("close broker", "error", err)
	}
}

func levelFor(cfg *config.Config, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return logs.ParseLevel(cfg.Log.Level)
}
