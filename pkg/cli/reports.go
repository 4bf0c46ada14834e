package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/aiqa-agent/pkg/report"
)

var reportsCommand = &cli.Command{
	Name:  "reports",
	Usage: "List and export stored validation reports",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List stored reports, newest first",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of reports (0 = all)",
					Value: 20,
				},
			},
			Action: listReports,
		},
		{
			Name:      "show",
			Usage:     "Export a stored report",
			ArgsUsage: "<report-id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "format",
					Usage: "Export format (json, html)",
					Value: string(report.FormatJSON),
				},
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "Write to a file instead of stdout",
				},
			},
			Action: showReport,
		},
	},
}

func openStoreFromFlags(c *cli.Context) (*report.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return openReportStore(cfg)
}

func listReports(c *cli.Context) error {
	store, err := openStoreFromFlags(c)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	printReportList(os.Stdout, entries)
	return nil
}

func showReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one report id is required")
	}
	format, err := report.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	store, err := openStoreFromFlags(c)
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	out := c.String("output")
	if out == "" {
		return report.Export(os.Stdout, r, format)
	}
	f, err := os.Create(out) //#nosec G304 -- user-provided output path
	if err != nil {
		return err
	}
	if err := report.Export(f, r, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
