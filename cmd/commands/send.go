package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/task"
)

// NewSendCommand returns the send subcommand.
func NewSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Publish a task",
		ArgsUsage: "[task.yaml]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "identity",
				Usage: "Producer identity",
				Value: "karton.cli",
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Task header as key=value (repeatable, overrides the task file)",
			},
			&cli.StringSliceFlag{
				Name:  "payload",
				Usage: "String payload field as key=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "resource",
				Usage: "File resource as name=path (repeatable)",
			},
			&cli.StringFlag{
				Name:  "priority",
				Usage: "Task priority: high, normal or low",
			},
		},
		Action: runSend,
	}
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	t, err := buildTask(cmd)
	if err != nil {
		return err
	}

	e, err := setup(ctx, cmd, cmd.String("identity"), true)
	if err != nil {
		return err
	}
	defer e.close()

	producer := karton.NewProducer(karton.ProducerConfig{
		Identity: cmd.String("identity"),
		Broker:   e.broker,
		Store:    e.store,
		Bucket:   e.cfg().ObjectStore.Bucket,
		Router:   karton.NewBindRouter(e.broker, e.cfg().Consumer.HeartbeatMaxAge.Duration()),
	})
	if err := producer.Send(ctx, t); err != nil {
		return err
	}

	fmt.Println(t.UID)
	return nil
}

// buildTask assembles a task from the optional task file and the flags.
func buildTask(cmd *cli.Command) (*task.Task, error) {
	file := &task.File{Headers: task.Headers{}}
	if path := cmd.Args().First(); path != "" {
		var err error
		if file, err = task.LoadFile(path); err != nil {
			return nil, err
		}
	}

	headers, err := parsePairs(cmd.StringSlice("header"))
	if err != nil {
		return nil, fmt.Errorf("--header: %w", err)
	}
	for k, v := range headers {
		file.Headers[k] = v
	}
	if len(file.Headers) == 0 {
		return nil, fmt.Errorf("a task file or at least one --header is required")
	}

	payload, err := parsePairs(cmd.StringSlice("payload"))
	if err != nil {
		return nil, fmt.Errorf("--payload: %w", err)
	}
	if len(payload) > 0 && file.Payload == nil {
		file.Payload = map[string]any{}
	}
	for k, v := range payload {
		file.Payload[k] = v
	}

	resources, err := parsePairs(cmd.StringSlice("resource"))
	if err != nil {
		return nil, fmt.Errorf("--resource: %w", err)
	}
	if len(resources) > 0 && file.Resources == nil {
		file.Resources = map[string]task.FileResource{}
	}
	for name, path := range resources {
		file.Resources[name] = task.FileResource{Path: path}
	}

	if p := task.Priority(cmd.String("priority")); p != "" {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown priority %q", p)
		}
		file.Priority = p
	}

	return file.Build()
}

// parsePairs splits key=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[k] = v
	}
	return out, nil
}
