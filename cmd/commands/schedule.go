package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/scheduler"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run and inspect the configured schedule",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Send tasks on cron and interval triggers",
				Action: runScheduleRun,
			},
			{
				Name:   "list",
				Usage:  "List schedule entries and their run state",
				Action: runScheduleList,
			},
			{
				Name:      "trigger",
				Usage:     "Fire an entry now",
				ArgsUsage: "<name>",
				Action:    runScheduleTrigger,
			},
			{
				Name:      "reset",
				Usage:     "Forget the run state of an entry",
				ArgsUsage: "<name>",
				Action:    runScheduleReset,
			},
		},
		DefaultCommand: "list",
	}
}

// newScheduler builds a scheduler without an event bus: event triggers
// only fire inside the gateway, which owns the log stream.
func newScheduler(ctx context.Context, cmd *cli.Command) (*env, *scheduler.Scheduler, error) {
	e, err := setup(ctx, cmd, "karton.scheduler", true)
	if err != nil {
		return nil, nil, err
	}
	cfg := e.cfg()
	producer := karton.NewProducer(karton.ProducerConfig{
		Identity: "karton.scheduler",
		Broker:   e.broker,
		Store:    e.store,
		Bucket:   cfg.ObjectStore.Bucket,
		Router:   karton.NewBindRouter(e.broker, cfg.Consumer.HeartbeatMaxAge.Duration()),
	})
	sched, err := scheduler.New(scheduler.Config{
		Sender:  producer,
		Entries: cfg.Schedule,
		State:   scheduler.NewStateStore(e.broker),
	})
	if err != nil {
		e.close()
		return nil, nil, err
	}
	return e, sched, nil
}

func runScheduleRun(ctx context.Context, cmd *cli.Command) error {
	e, sched, err := newScheduler(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	for _, entry := range sched.Entries() {
		if entry.OnEvent != nil {
			slog.Warn("event trigger ignored outside the gateway", "entry", entry.Name, "event", entry.OnEvent.Event)
		}
	}
	return sched.Run(ctx)
}

func runScheduleList(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd, "", false)
	if err != nil {
		return err
	}
	defer e.close()
	store := scheduler.NewStateStore(e.broker)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRIGGER\tTASK FILE\tRUNS\tLAST RUN")
	for _, entry := range e.cfg().Schedule {
		trigger := "-"
		switch {
		case entry.Cron != "":
			trigger = "cron " + entry.Cron
		case entry.Interval > 0:
			trigger = "every " + entry.Interval.Duration().String()
		case entry.OnEvent != nil:
			trigger = "on " + entry.OnEvent.Event
		}

		st, err := store.Get(ctx, entry.Name)
		if err != nil {
			return err
		}
		runs := fmt.Sprint(st.RunCount)
		if entry.MaxRuns > 0 {
			runs += fmt.Sprintf("/%d", entry.MaxRuns)
		}
		last := "-"
		if !st.LastRunAt.IsZero() {
			last = st.LastRunAt.Local().Format(time.DateTime)
		}
		if entry.Disabled {
			trigger += " (disabled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", entry.Name, trigger, entry.TaskFile, runs, last)
	}
	return w.Flush()
}

func runScheduleTrigger(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("entry name is required")
	}
	e, sched, err := newScheduler(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	uid, err := sched.Trigger(ctx, name)
	if err != nil {
		return err
	}
	fmt.Println(uid)
	return nil
}

func runScheduleReset(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("entry name is required")
	}
	e, err := setup(ctx, cmd, "", false)
	if err != nil {
		return err
	}
	defer e.close()
	return scheduler.NewStateStore(e.broker).Reset(ctx, name)
}
