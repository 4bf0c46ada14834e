package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/report"
	"github.com/devicelab-dev/aiqa-agent/pkg/session"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner(w io.Writer, what string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %saiqa %s%s %s- %s%s\n", color(colorBold), Version, color(colorReset), color(colorGray), what, color(colorReset))
	fmt.Fprintln(w, strings.Repeat("─", 60))
}

// printSetupStep prints a setup step with spinner-style prefix
func printSetupStep(msg string) {
	fmt.Printf("  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(msg string) {
	fmt.Printf("  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

// printStep prints one executed step of a session.
func printStep(w io.Writer, idx int, step executor.StepRecord) {
	durMs := step.Duration.Milliseconds()
	durStr := formatDuration(durMs)
	desc := step.Description
	if step.Recovery {
		desc += color(colorGray) + " (recovery)" + color(colorReset)
	}

	switch step.Status {
	case core.StatusCompleted:
		symbol, symbolColor, durColor := "✓", color(colorGreen), ""
		if step.Interrupted {
			symbol, symbolColor = "‖", color(colorCyan)
		} else if durMs >= slowThresholdMs {
			symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
		}
		fmt.Fprintf(w, "  %2d %s%s%s %s %s(%s)%s\n",
			idx+1, symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
	case core.StatusFailed:
		fmt.Fprintf(w, "  %2d %s✗%s %s (%s)\n", idx+1, color(colorRed), color(colorReset), desc, durStr)
		if step.Error != "" {
			fmt.Fprintf(w, "       %s╰─%s %s\n", color(colorGray), color(colorReset), step.Error)
		}
	default:
		fmt.Fprintf(w, "  %2d %s-%s %s\n", idx+1, color(colorGray), color(colorReset), desc)
	}
}

// printRunResult prints the steps and outcome of a single session.
func printRunResult(w io.Writer, res *session.RunResult) {
	for i, step := range res.Steps {
		printStep(w, i, step)
	}
	fmt.Fprintln(w, strings.Repeat("─", 60))

	snap := res.Snapshot
	statusColor := color(colorGreen)
	if snap.Status != core.RunCompleted {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(w, "  %s%s%s  %d/%d steps, %d replans, %s\n",
		statusColor, strings.ToUpper(string(snap.Status)), color(colorReset),
		snap.CurrentStep, snap.TotalSteps, snap.ReplanAttempts,
		formatDuration(res.Duration.Milliseconds()))
	if snap.LastFailure != "" {
		fmt.Fprintf(w, "  %slast failure:%s %s\n", color(colorGray), color(colorReset), snap.LastFailure)
	}
	fmt.Fprintln(w)
}

// printReportSummary prints a validation report as a table.
func printReportSummary(w io.Writer, r *report.Report) {
	tableWidth := 84
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-18s %-34s %8s %6s %10s\n", "Case", "Name", "Status", "Steps", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, e := range r.Executions {
		status, statusColor := "✓ PASS", color(colorGreen)
		switch e.Status {
		case report.StatusFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		case report.StatusSkipped:
			status, statusColor = "- SKIP", color(colorCyan)
		}
		fmt.Fprintf(w, "  %-18s %-34s %s%8s%s %6d %10s\n",
			truncate(e.TestCase.ID, 18), truncate(e.TestCase.Name, 34),
			statusColor, status, color(colorReset),
			len(e.Steps), formatDuration(e.Duration))
		for _, msg := range e.Errors {
			fmt.Fprintf(w, "    %s╰─%s %s\n", color(colorGray), color(colorReset), msg)
		}
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	target := color(colorGreen) + "meets" + color(colorReset)
	if !r.MVPTargets.Meets80PercentTarget {
		target = color(colorRed) + "below" + color(colorReset)
	}
	fmt.Fprintf(w, "  %s%d/%d passed%s (%.1f%%, %s the %.0f%% target) in %s\n",
		color(colorBold), r.Summary.Passed, r.Summary.TotalTests, color(colorReset),
		r.Summary.SuccessRate, target, r.MVPTargets.SuccessRateTarget,
		formatDuration(r.Summary.TotalDuration))
	fmt.Fprintf(w, "  avg step %s, avg replanning %s, avg screenshot %s\n",
		formatDuration(int64(r.Performance.AvgStepDuration)),
		formatDuration(int64(r.Performance.AvgReplanningTime)),
		formatDuration(int64(r.Performance.ScreenshotCaptureAvg)))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

// printReportList prints stored report entries.
func printReportList(w io.Writer, entries []report.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No reports stored")
		return
	}
	fmt.Fprintf(w, "%-42s %-20s %6s %8s  %s\n", "ID", "Generated", "Tests", "Success", "Suite")
	for _, e := range entries {
		mark := color(colorGreen) + "✓" + color(colorReset)
		if !e.Meets {
			mark = color(colorRed) + "✗" + color(colorReset)
		}
		fmt.Fprintf(w, "%-42s %-20s %6d %7.1f%% %s %s\n",
			e.ID, e.GeneratedAt.Local().Format(time.DateTime), e.TotalTests, e.SuccessRate, mark, e.TestSuite)
	}
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
