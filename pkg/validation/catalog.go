package validation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is an ordered set of test cases.
type Catalog struct {
	Cases []report.TestCase
}

// DefaultCatalog returns the built-in smoke and integration cases.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		// built-in catalog is validated by tests
		panic(err)
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided catalog file
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML list of test cases.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cases []report.TestCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}

	seen := make(map[string]bool, len(cases))
	for i, tc := range cases {
		switch {
		case tc.ID == "":
			return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("test case %d has no id", i))
		case seen[tc.ID]:
			return nil, core.ErrInvalidConfig.WithMessage("duplicate test case id: " + tc.ID)
		case len(tc.Commands) == 0:
			return nil, core.ErrInvalidConfig.WithMessage("test case " + tc.ID + " has no commands")
		}
		for _, cmd := range tc.Commands {
			if strings.TrimSpace(cmd) == "" {
				return nil, core.ErrInvalidConfig.WithMessage("test case " + tc.ID + " has an empty command")
			}
		}
		seen[tc.ID] = true
	}
	return &Catalog{Cases: cases}, nil
}

// Select returns the cases with the given ids, in catalog order. No ids
// selects every case.
func (c *Catalog) Select(ids ...string) ([]report.TestCase, error) {
	if len(ids) == 0 {
		return append([]report.TestCase(nil), c.Cases...), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []report.TestCase
	for _, tc := range c.Cases {
		if want[tc.ID] {
			out = append(out, tc)
			delete(want, tc.ID)
		}
	}
	for id := range want {
		return nil, core.ErrInvalidConfig.WithMessage("unknown test case: " + id)
	}
	return out, nil
}

// Category returns the cases of one category (smoke, integration, ...).
func (c *Catalog) Category(category string) []report.TestCase {
	var out []report.TestCase
	for _, tc := range c.Cases {
		if strings.EqualFold(tc.Category, category) {
			out = append(out, tc)
		}
	}
	return out
}
