package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// cliUser owns sessions started from the command line.
const cliUser = "cli"

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Plan and execute a single command",
	ArgsUsage: "<command>",
	Description: `Generate a plan for a free-text command and execute it, replanning
around failed steps. Exits non-zero unless the run completes.

Examples:
  aiqa run "search for laptop"
  aiqa --seed 7 --failure-rate 0.5 run "add item to cart and checkout"`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "suite",
			Usage: "Suite name recorded on the session",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Abort the run after this long (0 = no limit)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the run result as JSON",
		},
	},
	Action: runSession,
}

func runSession(c *cli.Context) error {
	command := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if command == "" {
		return fmt.Errorf("a command is required")
	}

	a, err := newAgent(c, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	asJSON := c.Bool("json")
	if !asJSON {
		printBanner(os.Stdout, command)
	}
	res, err := a.controller.Run(ctx, cliUser, command, c.String("suite"))
	if res == nil {
		return err
	}

	if asJSON {
		if encErr := writeJSON(os.Stdout, res); encErr != nil {
			return encErr
		}
	} else {
		printRunResult(os.Stdout, res)
	}

	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if res.Snapshot.Status != core.RunCompleted {
		return runFailure(res.Snapshot.LastFailure)
	}
	return nil
}

func runFailure(lastFailure string) error {
	if lastFailure == "" {
		return core.ErrRunFailed
	}
	return core.ErrRunFailed.WithMessage(lastFailure)
}
