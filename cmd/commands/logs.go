package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/logs"
)

// NewLogsCommand returns the logs subcommand.
func NewLogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Drain and print the shared log and operations streams",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print entries as JSON lines",
			},
		},
		Action: runLogs,
	}
}

func runLogs(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd, "", false)
	if err != nil {
		return err
	}
	defer e.close()

	asJSON := cmd.Bool("json")
	enc := json.NewEncoder(os.Stdout)
	consumer := logs.NewConsumer(e.broker, e.cfg().Consumer.PollTimeout.Duration())
	return consumer.Run(ctx, func(entry logs.Entry) {
		if asJSON {
			enc.Encode(entry)
			return
		}
		fmt.Println(formatEntry(entry))
	})
}

func formatEntry(e logs.Entry) string {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := ts.Format(time.TimeOnly) + " " + e.Identity

	uid := ""
	if t, err := e.ParsedTask(); err == nil && t != nil {
		uid = " task=" + t.UID
	}

	if e.Type != logs.TypeLog {
		return fmt.Sprintf("%s %s%s %s", prefix, e.Type, uid, e.Status)
	}

	line := fmt.Sprintf("%s %s%s %s", prefix, e.Level, uid, e.Message)
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, e.Attrs[k])
	}
	return line
}
