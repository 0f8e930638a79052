package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/karton"
)

// NewSystemCommand returns the system subcommand.
func NewSystemCommand() *cli.Command {
	return &cli.Command{
		Name:  "system",
		Usage: "Route tasks from the unrouted queue to bound consumers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd, "karton.system", false)
			if err != nil {
				return err
			}
			defer e.close()

			cfg := e.cfg()
			router := karton.NewBindRouter(e.broker, cfg.Consumer.HeartbeatMaxAge.Duration())
			return karton.NewDispatcher(e.broker, router, cfg.Consumer.PollTimeout.Duration()).Run(ctx)
		},
	}
}
