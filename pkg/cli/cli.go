// Package cli provides the command-line interface for the aiqa agent.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml (default: <home>/config.yaml if present)",
		EnvVars: []string{"AIQA_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Device driver (simulation, mock, appium)",
		EnvVars: []string{"AIQA_DRIVER"},
	},
	&cli.StringFlag{
		Name:    "appium-url",
		Usage:   "Appium server URL (for appium driver)",
		EnvVars: []string{"APPIUM_URL"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path (default: <home>/logs/aiqa.log)",
		EnvVars: []string{"AIQA_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"AIQA_VERBOSE"},
	},
	&cli.Float64Flag{
		Name:    "failure-rate",
		Usage:   "Simulated step failure rate (0-1, simulation driver only)",
		EnvVars: []string{"AIQA_FAILURE_RATE"},
	},
	&cli.Int64Flag{
		Name:    "seed",
		Usage:   "Seed for simulated failures (0 = random)",
		EnvVars: []string{"AIQA_SEED"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Execute runs the CLI.
func Execute() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "aiqa",
		Usage:   "AI-assisted mobile UI test agent",
		Version: Version,
		Description: `aiqa turns free-text test commands into step plans, runs them on a
device (or in simulation), replans around failures and reports the outcome.

Examples:
  aiqa plan "search for laptop"
  aiqa run "search for laptop"
  aiqa validate --category smoke --output report.html
  aiqa --driver appium --appium-url http://127.0.0.1:4723 serve`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			runCommand,
			validateCommand,
			reportsCommand,
			planCommand,
		},
	}
}
