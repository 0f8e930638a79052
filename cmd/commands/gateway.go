package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/gateway"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/logs"
	"github.com/dohr-michael/karton/internal/scheduler"
)

const eventBufferSize = 1024

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the HTTP status API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-logs",
				Usage: "Do not drain the log stream into the event bus",
			},
			&cli.BoolFlag{
				Name:  "no-schedule",
				Usage: "Do not run the configured schedule",
			},
		},
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd, "karton.gateway", true)
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.cfg()

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	bus := events.NewBus(eventBufferSize)
	defer bus.Close()

	maxAge := cfg.Consumer.HeartbeatMaxAge.Duration()
	producer := karton.NewProducer(karton.ProducerConfig{
		Identity: "karton.gateway",
		Broker:   e.broker,
		Store:    e.store,
		Bucket:   cfg.ObjectStore.Bucket,
		Router:   karton.NewBindRouter(e.broker, maxAge),
	})

	if !cmd.Bool("no-logs") {
		consumer := logs.NewConsumer(e.broker, cfg.Consumer.PollTimeout.Duration())
		go consumer.Run(ctx, gateway.Bridge(bus))
	}

	if len(cfg.Schedule) > 0 && !cmd.Bool("no-schedule") {
		sched, err := scheduler.New(scheduler.Config{
			Sender:  producer,
			Bus:     bus,
			Entries: cfg.Schedule,
			State:   scheduler.NewStateStore(e.broker),
		})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	server := gateway.NewServer(gateway.Options{
		Bus:             bus,
		Broker:          e.broker,
		Tasks:           gateway.NewTaskService(producer, bus),
		HeartbeatMaxAge: maxAge,
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
