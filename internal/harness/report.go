package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gowebpki/jcs"
)

// Report is the machine-readable form of a run.
type Report struct {
	Suites  []SuiteResult `json:"suites"`
	Summary Summary       `json:"summary"`
}

// NewReport builds a report over suites.
func NewReport(suites []SuiteResult) Report {
	if suites == nil {
		suites = []SuiteResult{}
	}
	return Report{Suites: suites, Summary: Totals(suites)}
}

// MarshalReport encodes the report as RFC 8785 canonical JSON, so equal
// runs produce byte-identical reports.
func MarshalReport(suites []SuiteResult) ([]byte, error) {
	data, err := json.Marshal(NewReport(suites))
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report: %w", err)
	}
	return out, nil
}

func statusIcon(s Status) string {
	switch s {
	case StatusPassed:
		return "✓"
	case StatusFailed:
		return "✗"
	case StatusError:
		return "!"
	default:
		return "○"
	}
}

// WriteSuiteHeader writes the line announcing a scenario file.
func WriteSuiteHeader(w io.Writer, file string) {
	fmt.Fprintf(w, "\nRunning: %s\n", file)
}

// WriteResult writes one scenario line followed by its failures. Verbose
// output adds filesystem changes and unused choices.
func WriteResult(w io.Writer, r TestResult, verbose bool) {
	if r.Status == StatusSkipped {
		fmt.Fprintf(w, "  %s %s (skipped)\n", statusIcon(r.Status), r.Scenario)
		return
	}

	line := fmt.Sprintf("  %s %s (%dms)", statusIcon(r.Status), r.Scenario, r.Duration.Milliseconds())
	if len(r.Attempts) > 0 {
		passed := 0
		for _, a := range r.Attempts {
			if a.Status == StatusPassed {
				passed++
			}
		}
		line += fmt.Sprintf(" [%d/%d attempts passed]", passed, len(r.Attempts))
	}
	fmt.Fprintln(w, line)

	for _, a := range r.FailedAssertions() {
		fmt.Fprintf(w, "    → %s: %s\n", a.Description, a.Message)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "    → Error: %s\n", r.Error)
	}
	if r.AgentStatus != "" && !r.AgentSuccess {
		fmt.Fprintf(w, "    → Agent status: %s\n", r.AgentStatus)
	}
	if !verbose {
		return
	}

	for _, p := range r.Changes.Added {
		fmt.Fprintf(w, "    + %s\n", p)
	}
	for _, p := range r.Changes.Modified {
		fmt.Fprintf(w, "    ~ %s\n", p)
	}
	for _, p := range r.Changes.Removed {
		fmt.Fprintf(w, "    - %s\n", p)
	}
	for _, m := range r.UnusedChoices {
		fmt.Fprintf(w, "    ? unused choice: %q\n", m)
	}
	if len(r.Events) > 0 {
		fmt.Fprintf(w, "    %d filesystem event(s)\n", len(r.Events))
	}
	if r.CostUSD > 0 || r.Turns > 0 {
		fmt.Fprintf(w, "    cost $%.4f, %d turn(s), %d tool call(s)\n", r.CostUSD, r.Turns, len(r.ToolCalls))
	}
}

// WriteSummary writes the totals block.
func WriteSummary(w io.Writer, total Summary) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nTest Summary\n%s\n\n", rule, rule)
	fmt.Fprintf(w, "Total: %d tests\n", total.Total)
	fmt.Fprintf(w, "  ✓ Passed: %d\n", total.Passed)
	if total.Failed > 0 {
		fmt.Fprintf(w, "  ✗ Failed: %d\n", total.Failed)
	}
	if total.Errored > 0 {
		fmt.Fprintf(w, "  ! Errored: %d\n", total.Errored)
	}
	if total.Skipped > 0 {
		fmt.Fprintf(w, "  ○ Skipped: %d\n", total.Skipped)
	}
	if total.CostUSD > 0 {
		fmt.Fprintf(w, "  Cost: $%.4f\n", total.CostUSD)
	}
	fmt.Fprintln(w)
}

// WriteText writes the full human-readable report.
func WriteText(w io.Writer, suites []SuiteResult, verbose bool) {
	for _, s := range suites {
		WriteSuiteHeader(w, s.File)
		for _, r := range s.Results {
			WriteResult(w, r, verbose)
		}
	}
	WriteSummary(w, Totals(suites))
}
