package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/skillcheck/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	Scenario string
	Limit    int
}

// RunSummary is one line of the run listing.
type RunSummary struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	File      string    `json:"file"`
	Attempt   int       `json:"attempt"`
	Status    string    `json:"status"`
	CostUSD   float64   `json:"cost_usd"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Inspect journaled scenario runs",
		Long: `Inspect runs recorded by "skillcheck run --journal".

Without a run ID, lists recent runs. With a run ID (or a unique prefix),
shows the full trace of that run: tool calls in order, questions and
the scripted answers, assertion verdicts, and filesystem changes.

Examples:
  skillcheck trace --journal runs.db
  skillcheck trace --journal runs.db --scenario "creates spec" --limit 5
  skillcheck trace --journal runs.db 0192f4
  skillcheck trace --journal runs.db 0192f4 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite run journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "list only runs of this scenario")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "list at most this many recent runs (0 for all)")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// Opening a missing path would create an empty journal.
	if _, err := os.Stat(opts.Journal); err != nil {
		_ = out.Error(ErrCodeJournal, fmt.Sprintf("journal not found: %s", opts.Journal), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Journal)
	if err != nil {
		_ = out.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if len(args) == 1 {
		return showRun(ctx, j, args[0], out)
	}
	return listRuns(ctx, j, opts, out)
}

func listRuns(ctx context.Context, j *journal.Journal, opts *TraceOptions, out *OutputFormatter) error {
	runs, err := j.ListRuns(ctx, journal.ListOptions{Scenario: opts.Scenario, Limit: opts.Limit})
	if err != nil {
		_ = out.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = RunSummary{
			ID:        r.ID,
			Scenario:  r.Scenario,
			File:      r.File,
			Attempt:   r.Attempt,
			Status:    r.Status,
			CostUSD:   r.CostUSD,
			Turns:     r.Turns,
			StartedAt: r.StartedAt,
		}
	}
	if out.JSON() {
		return out.Success(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out.Writer, "No runs recorded.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(out.Writer, "%s  %-7s  %s  %s", s.ID, s.Status, s.StartedAt.UTC().Format(time.RFC3339), s.Scenario)
		if s.Attempt > 1 {
			fmt.Fprintf(out.Writer, " (attempt %d)", s.Attempt)
		}
		fmt.Fprintf(out.Writer, "  [%s]\n", s.File)
	}
	return nil
}

func showRun(ctx context.Context, j *journal.Journal, id string, out *OutputFormatter) error {
	run, err := j.ReadRun(ctx, id)
	if err != nil {
		_ = out.Error(ErrCodeJournal, err.Error(), nil)
		if journal.IsNotFound(err) {
			return WrapExitError(ExitFailure, "run not found", err)
		}
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if out.JSON() {
		return out.Success(run)
	}
	writeRun(out.Writer, run)
	return nil
}

// writeRun renders a run trace as text.
func writeRun(w io.Writer, run *journal.Run) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  Scenario: %s (%s, attempt %d)\n", run.Scenario, run.File, run.Attempt)
	fmt.Fprintf(w, "  Fixture:  %s\n", run.Fixture)
	fmt.Fprintf(w, "  Command:  %s\n", run.Command)
	fmt.Fprintf(w, "  Status:   %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", run.Error)
	}
	if run.AgentStatus != "" {
		fmt.Fprintf(w, "  Agent:    %s\n", run.AgentStatus)
	}
	if run.SessionID != "" {
		fmt.Fprintf(w, "  Session:  %s\n", run.SessionID)
	}
	fmt.Fprintf(w, "  Cost:     $%.4f, %d turn(s), %dms\n", run.CostUSD, run.Turns, run.Duration.Milliseconds())

	if len(run.ToolCalls) > 0 {
		fmt.Fprintf(w, "\nTool calls (%d):\n", len(run.ToolCalls))
		for i, tc := range run.ToolCalls {
			fmt.Fprintf(w, "  %d. %s %s\n", i+1, tc.Tool, compact(string(tc.Input), 120))
		}
	}

	if len(run.Questions) > 0 {
		fmt.Fprintf(w, "\nQuestions (%d):\n", len(run.Questions))
		for _, q := range run.Questions {
			for _, item := range q.Questions {
				answer := q.Answers[item.Header]
				if answer == "" {
					answer = "(unanswered)"
				}
				fmt.Fprintf(w, "  ? %s\n    → %s\n", item.Question, answer)
			}
		}
	}

	if len(run.Assertions) > 0 {
		fmt.Fprintf(w, "\nAssertions (%d):\n", len(run.Assertions))
		for _, a := range run.Assertions {
			icon := "✓"
			if !a.Passed {
				icon = "✗"
			}
			fmt.Fprintf(w, "  %s %s: %s\n", icon, a.Description, a.Message)
		}
	}

	if !run.Changes.Empty() {
		fmt.Fprintln(w, "\nChanges:")
		for _, p := range run.Changes.Added {
			fmt.Fprintf(w, "  + %s\n", p)
		}
		for _, p := range run.Changes.Modified {
			fmt.Fprintf(w, "  ~ %s\n", p)
		}
		for _, p := range run.Changes.Removed {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}

	if len(run.Events) > 0 {
		fmt.Fprintf(w, "\nFilesystem events (%d):\n", len(run.Events))
		for _, ev := range run.Events {
			fmt.Fprintf(w, "  %-6s %s\n", ev.Op, ev.Path)
		}
	}
}

// compact flattens s to one line of at most n runes.
func compact(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
