package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"time"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	Title string // Report title (default: report's test suite)
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Report        *Report
	Executions    []ExecutionHTMLData
	TotalDuration string
	StatusClass   map[Status]string
	JSONData      template.JS // full report, read back by ParseHTML
}

// ExecutionHTMLData contains execution data formatted for HTML.
type ExecutionHTMLData struct {
	Execution
	StatusClass string
	DurationStr string
	Steps       []StepHTMLData
}

// StepHTMLData contains step data formatted for HTML.
type StepHTMLData struct {
	Step
	StatusClass string
	DurationStr string
}

const dataElementID = "report-data"

// RenderHTML renders r as a self-contained HTML document. The document
// embeds the full report value so it can be decoded again with ParseHTML.
func RenderHTML(r *Report, cfg HTMLConfig) ([]byte, error) {
	if cfg.Title == "" {
		cfg.Title = r.TestSuite
	}
	data, err := buildHTMLData(r, cfg)
	if err != nil {
		return nil, err
	}
	html, err := renderHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return []byte(html), nil
}

// ParseHTML extracts the report embedded in a document made by RenderHTML.
func ParseHTML(doc []byte) (*Report, error) {
	open := []byte(`<script id="` + dataElementID + `" type="application/json">`)
	start := bytes.Index(doc, open)
	if start < 0 {
		return nil, fmt.Errorf("no embedded report data")
	}
	rest := doc[start+len(open):]
	end := bytes.Index(rest, []byte("</script>"))
	if end < 0 {
		return nil, fmt.Errorf("unterminated report data")
	}
	return DecodeJSON(bytes.NewReader(rest[:end]))
}

func buildHTMLData(r *Report, cfg HTMLConfig) (HTMLData, error) {
	statusClass := map[Status]string{
		StatusPassed:  "passed",
		StatusFailed:  "failed",
		StatusSkipped: "skipped",
		StatusRunning: "running",
		StatusPending: "pending",
	}

	execs := make([]ExecutionHTMLData, len(r.Executions))
	for i, e := range r.Executions {
		steps := make([]StepHTMLData, len(e.Steps))
		for j, s := range e.Steps {
			steps[j] = StepHTMLData{
				Step:        s,
				StatusClass: statusClass[s.Status],
				DurationStr: formatDuration(s.Duration),
			}
		}
		execs[i] = ExecutionHTMLData{
			Execution:   e,
			StatusClass: statusClass[e.Status],
			DurationStr: formatDuration(e.Duration),
			Steps:       steps,
		}
	}

	// encoding/json escapes <, > and & so the payload cannot close the script tag
	jsonBytes, err := json.Marshal(r)
	if err != nil {
		return HTMLData{}, fmt.Errorf("encode report: %w", err)
	}

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   r.GeneratedAt.Format("2006-01-02 15:04:05"),
		Report:        r,
		Executions:    execs,
		TotalDuration: formatDuration(r.Summary.TotalDuration),
		StatusClass:   statusClass,
		JSONData:      template.JS(jsonBytes),
	}, nil
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
		"ms":  func(v float64) string { return fmt.Sprintf("%.0fms", v) },
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --failed: #ef4444;
            --skipped: #eab308;
            --running: #06b6d4;
            --pending: #6b7280;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }
        .header { background: var(--bg-secondary); border-bottom: 1px solid var(--border-color); padding: 16px 24px; }
        .header h1 { font-size: 18px; font-weight: 600; }
        .header .meta { font-size: 12px; color: var(--text-muted); }
        .cards { display: flex; gap: 12px; padding: 16px 24px; }
        .card { flex: 1; border: 1px solid var(--border-color); border-radius: 6px; padding: 12px; text-align: center; }
        .card .value { font-size: 22px; font-weight: 700; }
        .card .label { font-size: 11px; color: var(--text-muted); text-transform: uppercase; }
        .verdict { margin: 0 24px 16px; padding: 10px 12px; border-radius: 6px; font-size: 13px; }
        .verdict.meets { background: rgba(34, 197, 94, 0.1); color: var(--passed); }
        .verdict.misses { background: rgba(239, 68, 68, 0.08); color: var(--failed); }
        .execution { margin: 0 24px 16px; border: 1px solid var(--border-color); border-radius: 6px; }
        .execution summary { padding: 10px 12px; cursor: pointer; display: flex; gap: 12px; align-items: center; }
        .execution .name { flex: 1; font-weight: 600; }
        .badge { font-size: 11px; padding: 2px 8px; border-radius: 10px; color: white; }
        .badge.passed { background: var(--passed); }
        .badge.failed { background: var(--failed); }
        .badge.skipped { background: var(--skipped); }
        .badge.running { background: var(--running); }
        .badge.pending { background: var(--pending); }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        th, td { text-align: left; padding: 6px 12px; border-top: 1px solid var(--border-color); }
        th { color: var(--text-muted); font-weight: 500; }
        .error { color: var(--failed); font-size: 12px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.Title}}</h1>
        <div class="meta">{{.Report.ID}} &middot; generated {{.GeneratedAt}} &middot; {{.TotalDuration}}</div>
    </div>

    <div class="cards">
        <div class="card"><div class="value">{{.Report.Summary.TotalTests}}</div><div class="label">Tests</div></div>
        <div class="card"><div class="value">{{.Report.Summary.Passed}}</div><div class="label">Passed</div></div>
        <div class="card"><div class="value">{{.Report.Summary.Failed}}</div><div class="label">Failed</div></div>
        <div class="card"><div class="value">{{pct .Report.Summary.SuccessRate}}</div><div class="label">Success Rate</div></div>
        <div class="card"><div class="value">{{ms .Report.Performance.AvgStepDuration}}</div><div class="label">Avg Step</div></div>
        <div class="card"><div class="value">{{ms .Report.Performance.ScreenshotCaptureAvg}}</div><div class="label">Avg Screenshot</div></div>
    </div>

    {{with .Report.MVPTargets}}
    <div class="verdict {{if .Meets80PercentTarget}}meets{{else}}misses{{end}}">
        Target: &ge;{{pct .SuccessRateTarget}} success rate | Actual: {{pct .SuccessRateActual}}
        {{if .Meets80PercentTarget}}(target met){{else}}(target missed){{end}}
    </div>
    {{end}}

    {{range .Executions}}
    <details class="execution" {{if eq .Status "failed"}}open{{end}}>
        <summary>
            <span class="name">{{.TestCase.Name}}</span>
            <span class="meta">{{.TestCase.ID}} &middot; {{.TestCase.Category}} &middot; {{.TestCase.Complexity}}</span>
            <span>{{.DurationStr}}</span>
            <span class="badge {{.StatusClass}}">{{.Status}}</span>
        </summary>
        <table>
            <tr><th>#</th><th>Command</th><th>Action</th><th>Duration</th><th>Replans</th><th>Status</th></tr>
            {{range .Steps}}
            <tr>
                <td>{{.StepNumber}}</td>
                <td>{{.Description}}{{if .Error}}<div class="error">{{.Error}}</div>{{end}}</td>
                <td>{{.Action}}</td>
                <td>{{.DurationStr}}</td>
                <td>{{.Replans}}</td>
                <td><span class="badge {{.StatusClass}}">{{.Status}}</span></td>
            </tr>
            {{end}}
        </table>
        {{range .Errors}}<div class="error" style="padding: 6px 12px;">{{.}}</div>{{end}}
    </details>
    {{end}}

    <script id="report-data" type="application/json">{{.JSONData}}</script>
</body>
</html>
`
