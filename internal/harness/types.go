package harness

import (
	"time"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/validate"
)

// Status is the terminal state of a scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// DryRunOutput is the output recorded for scenarios in dry-run mode.
const DryRunOutput = "[dry run]"

// TestResult is the outcome of one scenario. For repeated scenarios it
// carries the details of one representative attempt: the last one when the
// scenario passed, otherwise the first attempt that did not pass.
type TestResult struct {
	Scenario   string            `json:"scenario"`
	Status     Status            `json:"status"`
	Duration   time.Duration     `json:"duration_ns"`
	Assertions []validate.Result `json:"assertions"`
	Error      string            `json:"error,omitempty"`
	Output     string            `json:"output,omitempty"`
	Changes    fixture.Diff      `json:"changes"`

	// AgentStatus is the agent's terminal status string; AgentSuccess is
	// true only for success or completed. Scenario status still comes from
	// the assertions.
	AgentStatus  string `json:"agent_status,omitempty"`
	AgentSuccess bool   `json:"agent_success,omitempty"`

	CostUSD       float64                `json:"cost_usd"`
	Turns         int                    `json:"turns"`
	ToolCalls     []agent.ToolCall       `json:"tool_calls,omitempty"`
	Questions     []agent.QuestionRecord `json:"questions,omitempty"`
	UnusedChoices []string               `json:"unused_choices,omitempty"`
	Events        []fixture.Event        `json:"file_events,omitempty"`
	RunID         string                 `json:"run_id,omitempty"`

	// Attempts summarizes every attempt of a repeated scenario.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Attempt is the summary of one run of a repeated scenario.
type Attempt struct {
	Number   int           `json:"number"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	RunID    string        `json:"run_id,omitempty"`
}

// FailedAssertions returns the assertion results that did not pass.
func (r *TestResult) FailedAssertions() []validate.Result {
	var out []validate.Result
	for _, a := range r.Assertions {
		if !a.Passed {
			out = append(out, a)
		}
	}
	return out
}

// Summary counts scenario outcomes.
type Summary struct {
	Total   int     `json:"total"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Errored int     `json:"errored"`
	CostUSD float64 `json:"cost_usd"`
}

// Add folds one result into the summary.
func (s *Summary) Add(r TestResult) {
	s.Total++
	s.CostUSD += r.CostUSD
	for _, a := range r.Assertions {
		s.CostUSD += a.CostUSD
	}
	switch r.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	case StatusError:
		s.Errored++
	}
}

// Merge adds the counts of other.
func (s *Summary) Merge(other Summary) {
	s.Total += other.Total
	s.Passed += other.Passed
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Errored += other.Errored
	s.CostUSD += other.CostUSD
}

// OK reports whether nothing failed or errored.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}

// SuiteResult is the outcome of one scenario file.
type SuiteResult struct {
	Name      string        `json:"name"`
	File      string        `json:"file"`
	Type      FileType      `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	Results   []TestResult  `json:"results"`
	Summary   Summary       `json:"summary"`
}

// Totals sums the summaries of suites.
func Totals(suites []SuiteResult) Summary {
	var total Summary
	for _, s := range suites {
		total.Merge(s.Summary)
	}
	return total
}
