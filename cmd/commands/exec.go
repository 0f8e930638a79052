package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/shell"
	"github.com/dohr-michael/karton/internal/task"
)

// NewExecCommand returns the exec subcommand.
func NewExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Consume tasks by running a shell script for each",
		ArgsUsage: "<script>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "identity",
				Usage:    "Consumer identity",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "bind",
				Usage: "Bind as comma-separated key=value pairs (repeatable, e.g. type=sample,kind=!raw)",
			},
			&cli.StringFlag{
				Name:  "info",
				Usage: "Free-form description published with the registration",
			},
			&cli.BoolFlag{
				Name:  "persistent",
				Usage: "Keep the queue bound while the consumer is down",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Script timeout per task",
			},
		},
		Action: runExec,
	}
}

func runExec(ctx context.Context, cmd *cli.Command) error {
	script := cmd.Args().First()
	if script == "" {
		return fmt.Errorf("script path is required")
	}

	binds, err := parseBinds(cmd.StringSlice("bind"))
	if err != nil {
		return err
	}

	identity := cmd.String("identity")
	e, err := setup(ctx, cmd, identity, true)
	if err != nil {
		return err
	}
	defer e.close()

	handler, err := shell.New(shell.Config{
		Script:  script,
		Timeout: cmd.Duration("timeout"),
		Store:   e.store,
	})
	if err != nil {
		return err
	}

	cfg := e.cfg()
	consumer, err := karton.NewConsumer(karton.ConsumerConfig{
		Identity:          identity,
		Info:              cmd.String("info"),
		Binds:             binds,
		Persistent:        cmd.Bool("persistent"),
		Handler:           handler,
		Broker:            e.broker,
		Store:             e.store,
		Bucket:            cfg.ObjectStore.Bucket,
		Router:            karton.NewBindRouter(e.broker, cfg.Consumer.HeartbeatMaxAge.Duration()),
		PollTimeout:       cfg.Consumer.PollTimeout.Duration(),
		HeartbeatInterval: cfg.Consumer.HeartbeatInterval.Duration(),
	})
	if err != nil {
		return err
	}
	return loopExit(identity, consumer.Loop(ctx))
}

// loopExit treats a consumer replaced by a newer instance as a clean exit.
func loopExit(identity string, err error) error {
	if errors.Is(err, karton.ErrBindsChanged) {
		slog.Info("consumer replaced by a newer instance, exiting", "identity", identity)
		return nil
	}
	return err
}

// parseBinds turns "type=sample,kind=raw" flags into binds.
func parseBinds(args []string) (task.Binds, error) {
	binds := make(task.Binds, 0, len(args))
	for _, arg := range args {
		pairs, err := parsePairs(splitList(arg))
		if err != nil {
			return nil, fmt.Errorf("--bind: %w", err)
		}
		binds = append(binds, task.Bind(pairs))
	}
	return binds, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
