package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/aiqa-agent/pkg/plan"
)

var planCommand = &cli.Command{
	Name:      "plan",
	Usage:     "Show the plan generated for a command without running it",
	ArgsUsage: "<command>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format (json, yaml)",
			Value: "json",
		},
		&cli.StringFlag{
			Name:  "templates",
			Usage: "Plan templates YAML (default: built-in templates)",
		},
	},
	Action: showPlan,
}

func showPlan(c *cli.Context) error {
	command := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if command == "" {
		return fmt.Errorf("a command is required")
	}
	gen, err := loadGenerator(c.String("templates"))
	if err != nil {
		return err
	}
	p, err := gen.Generate(command)
	if err != nil {
		return err
	}
	return writePlan(os.Stdout, p, c.String("format"))
}

func loadGenerator(path string) (*plan.Generator, error) {
	if path == "" {
		return plan.NewGenerator(), nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided templates file
	if err != nil {
		return nil, err
	}
	return plan.NewGeneratorFromYAML(data)
}

func writePlan(w io.Writer, p *plan.Plan, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		return writeJSON(w, p)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
