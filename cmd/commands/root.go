// Package commands implements the karton CLI.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/karton/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "karton",
		Usage: "Distributed task routing for analysis pipelines",
		// --bind values carry their own comma-separated pairs.
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewSendCommand(),
			NewExecCommand(),
			NewSystemCommand(),
			NewStatusCommand(),
			NewLogsCommand(),
			NewGatewayCommand(),
			NewScheduleCommand(),
		},
	}
}
