package plan

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is a keyword-selected plan skeleton.
type Template struct {
	Name         string   `yaml:"name"`
	Confidence   float64  `yaml:"confidence"`
	RequiresAuth bool     `yaml:"requiresAuth"`
	Keywords     []string `yaml:"keywords"`
	Steps        []Step   `yaml:"steps"`
}

// PinnedSelector binds a UI label to a preferred selector.
type PinnedSelector struct {
	Match string // label text looked for in step descriptions
	Type  string // id, text, xpath, accessibility, className
	Value string
}

// Marker renders the selector hint appended to step descriptions.
func (p PinnedSelector) Marker() string {
	return fmt.Sprintf("[Using pinned selector: %s=%q]", p.Type, p.Value)
}

// Generator maps a free-text command onto a plan template.
type Generator struct {
	templates []Template

	mu     sync.RWMutex
	pinned []PinnedSelector
}

// NewGenerator returns a generator over the built-in templates.
func NewGenerator() *Generator {
	g, err := NewGeneratorFromYAML(defaultTemplates)
	if err != nil {
		// built-in templates are validated by tests
		panic(err)
	}
	return g
}

// NewGeneratorFromYAML parses a template list.
func NewGeneratorFromYAML(data []byte) (*Generator, error) {
	var templates []Template
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, core.ErrInvalidPlan.WithCause(err)
	}
	if len(templates) == 0 {
		return nil, core.ErrInvalidPlan.WithMessage("no plan templates")
	}
	for _, t := range templates {
		// typing steps without text are filled from the command at Generate
		p := Plan{Confidence: t.Confidence, Steps: fillText(t.Steps, "query")}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return &Generator{templates: templates}, nil
}

// Pin registers a preferred selector for steps mentioning p.Match.
func (g *Generator) Pin(p PinnedSelector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinned = append(g.pinned, p)
}

// Analyze returns the name of the template the command selects.
func (g *Generator) Analyze(command string) string {
	return g.match(command).Name
}

func (g *Generator) match(command string) Template {
	cmd := strings.ToLower(command)
	var fallback *Template
	for i := range g.templates {
		t := &g.templates[i]
		if len(t.Keywords) == 0 {
			if fallback == nil {
				fallback = t
			}
			continue
		}
		for _, kw := range t.Keywords {
			if strings.Contains(cmd, kw) {
				return *t
			}
		}
	}
	if fallback != nil {
		return *fallback
	}
	return g.templates[len(g.templates)-1]
}

var quotedOrQuery = regexp.MustCompile(`search query|'.*?'`)

// Generate builds a plan for the command.
func (g *Generator) Generate(command string) (*Plan, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, core.ErrInvalidPlan.WithMessage("command is empty")
	}

	t := g.match(command)
	logger.Debug("plan: command %q matched template %s", command, t.Name)

	query := `"` + leadingWords(command, 3) + `"`

	g.mu.RLock()
	pinned := append([]PinnedSelector(nil), g.pinned...)
	g.mu.RUnlock()

	p := &Plan{
		Command:    command,
		Confidence: t.Confidence,
		Steps:      make([]Step, len(t.Steps)),
	}
	for i, s := range t.Steps {
		if strings.Contains(s.Description, "search") || strings.Contains(s.Description, "Type") {
			s.Description = quotedOrQuery.ReplaceAllLiteralString(s.Description, query)
		} else {
			s.Description = applyPinned(s.Description, pinned)
		}
		p.Steps[i] = s
	}
	p.Steps = fillText(p.Steps, strings.Trim(query, `"`))
	p.Describe(t.RequiresAuth)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func applyPinned(desc string, pinned []PinnedSelector) string {
	lower := strings.ToLower(desc)
	for _, p := range pinned {
		if p.Match != "" && strings.Contains(lower, strings.ToLower(p.Match)) {
			desc += " " + p.Marker()
		}
	}
	return desc
}

// fillText returns steps with every typing step carrying explicit text,
// taken from the description's quoted text or else query.
func fillText(steps []Step, query string) []Step {
	out := append([]Step(nil), steps...)
	for i := range out {
		if out[i].IsTyping() && out[i].Text == "" {
			if t := out[i].TypedText(); t != "" {
				out[i].Text = t
			} else {
				out[i].Text = query
			}
		}
	}
	return out
}

func leadingWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
