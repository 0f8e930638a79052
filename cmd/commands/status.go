package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/heartbeat"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/task"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show bound consumers, queue depths and metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "task",
				Usage: "Show the record and states of one task instead",
			},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd, "", false)
	if err != nil {
		return err
	}
	defer e.close()
	b := e.broker

	if uid := cmd.String("task"); uid != "" {
		return printTask(ctx, b, uid)
	}

	regs, err := karton.Registrations(ctx, b)
	if err != nil {
		return err
	}
	beats, err := heartbeat.All(ctx, b, e.cfg().Consumer.HeartbeatMaxAge.Duration())
	if err != nil {
		return err
	}
	alive := make(map[string]heartbeat.Entry, len(beats))
	for _, hb := range beats {
		alive[hb.Identity] = hb
	}

	identities := make([]string, 0, len(regs))
	for id := range regs {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tVERSION\tPERSISTENT\tHEARTBEAT\tHIGH\tNORMAL\tLOW\tLEGACY")
	for _, id := range identities {
		reg := regs[id]
		depths := make([]int64, 0, 4)
		for _, q := range karton.ConsumerQueues(id) {
			n, err := b.LLen(ctx, q)
			if err != nil {
				return err
			}
			depths = append(depths, n)
		}

		hb := string(heartbeat.StatusDead)
		if entry, ok := alive[id]; ok && entry.Heartbeat != nil {
			hb = string(entry.Status)
			switch entry.Status {
			case heartbeat.StatusAlive:
				hb += " (up " + entry.Heartbeat.Uptime + ")"
			case heartbeat.StatusStale:
				hb += " (" + time.Since(entry.Heartbeat.Timestamp).Truncate(time.Second).String() + " ago)"
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%d\t%d\t%d\n",
			id, reg.Version, reg.Persistent, hb, depths[0], depths[1], depths[2], depths[3])
	}
	w.Flush()

	unrouted, err := b.LLen(ctx, karton.KeyTasks)
	if err != nil {
		return err
	}
	letters, err := karton.DeadLetters(ctx, b)
	if err != nil {
		return err
	}
	fmt.Printf("\nUnrouted: %d  Dead letters: %d\n\n", unrouted, len(letters))

	metrics, err := karton.ReadMetrics(ctx, b)
	if err != nil {
		return err
	}
	return printMetrics(metrics)
}

func printMetrics(metrics map[karton.Metric]map[string]int64) error {
	seen := map[string]bool{}
	for _, byID := range metrics {
		for id := range byID {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tPRODUCED\tCONSUMED\tERRORED")
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", id,
			metrics[karton.MetricProduced][id],
			metrics[karton.MetricConsumed][id],
			metrics[karton.MetricErrored][id])
	}
	return w.Flush()
}

func printTask(ctx context.Context, b broker.Broker, uid string) error {
	states, err := karton.States(ctx, b, uid)
	if err != nil {
		return err
	}

	data, err := b.Get(ctx, karton.TaskKey(uid))
	switch {
	case errors.Is(err, broker.ErrNil):
		fmt.Printf("Task %s: no record\n", uid)
	case err != nil:
		return err
	default:
		t, err := task.Deserialize([]byte(data))
		if err != nil {
			return err
		}
		fmt.Printf("Task %s\n  headers:  %v\n  priority: %s\n  root:     %s\n", t.UID, t.Headers, t.Priority, t.Root())
	}
	fmt.Printf("  states:   %s\n", stateLine(states))
	return nil
}

// stateLine renders the states of a task, sorted by identity.
func stateLine(states map[string]task.State) string {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	line := ""
	for i, id := range ids {
		if i > 0 {
			line += " "
		}
		line += id + "=" + string(states[id])
	}
	return line
}
