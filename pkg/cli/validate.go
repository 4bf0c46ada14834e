package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/validation"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Run the validation catalog and report the success rate",
	Description: `Run test cases from the validation catalog one at a time and
aggregate a report. The report is appended to the report store and,
with --output, written to a .json or .html file.

Examples:
  aiqa validate
  aiqa validate --case smoke-001 --case integration-002
  aiqa validate --category smoke --output smoke.html
  aiqa validate --catalog testcases.yaml --list`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "case",
			Usage: "Test case id to run (repeatable; default: all)",
		},
		&cli.StringFlag{
			Name:  "category",
			Usage: "Only run test cases in this category",
		},
		&cli.StringFlag{
			Name:    "catalog",
			Usage:   "Test case catalog YAML (default: <home>/testcases.yaml, else built-in)",
			EnvVars: []string{"AIQA_CATALOG"},
		},
		&cli.StringFlag{
			Name:  "suite",
			Usage: "Suite name recorded in the report",
			Value: report.DefaultSuite,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the report to a file (.json or .html)",
		},
		&cli.BoolFlag{
			Name:  "no-store",
			Usage: "Don't append the report to the report store",
		},
		&cli.BoolFlag{
			Name:  "list",
			Usage: "List the selected test cases and exit",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	catalog, err := validation.LoadCatalog(catalogPath(c.String("catalog"), cfg))
	if err != nil {
		return err
	}
	cases, err := selectCases(catalog, c.StringSlice("case"), c.String("category"))
	if err != nil {
		return err
	}
	if c.Bool("list") {
		for _, tc := range cases {
			fmt.Printf("%-18s %-10s %-8s %s\n", tc.ID, tc.Category, tc.Complexity, tc.Name)
		}
		return nil
	}

	a, err := newAgent(c, !c.Bool("no-store"))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hcfg := validation.ConfigFrom(a.cfg)
	hcfg.Suite = c.String("suite")
	harness := validation.New(a.controller, hcfg, a.store)

	printBanner(os.Stdout, fmt.Sprintf("validating %d test cases", len(cases)))
	r, runErr := harness.Run(ctx, cases)
	if r == nil {
		return runErr
	}
	printReportSummary(os.Stdout, r)

	if out := c.String("output"); out != "" {
		if err := ensureParentDir(out); err != nil {
			return err
		}
		if err := report.WriteFile(out, r); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("  Report: %s\n", out)
	}
	if a.store != nil {
		fmt.Printf("  Stored as %s\n", r.ID)
	}
	fmt.Println()

	if runErr != nil {
		logger.Warn("Validation run ended early: %v", runErr)
		return fmt.Errorf("validation interrupted: %w", runErr)
	}
	if !r.MVPTargets.Meets80PercentTarget {
		return fmt.Errorf("success rate %.1f%% is below the %.0f%% target",
			r.Summary.SuccessRate, r.MVPTargets.SuccessRateTarget)
	}
	return nil
}

// selectCases picks cases by category or id; neither selects all.
func selectCases(catalog *validation.Catalog, ids []string, category string) ([]report.TestCase, error) {
	if category == "" {
		return catalog.Select(ids...)
	}
	cases := catalog.Category(category)
	if len(ids) > 0 {
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		filtered := cases[:0:0]
		for _, tc := range cases {
			if keep[tc.ID] {
				filtered = append(filtered, tc)
			}
		}
		cases = filtered
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no test cases match category %q", category)
	}
	return cases, nil
}
