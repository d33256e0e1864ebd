package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/harness"
	"github.com/roach88/skillcheck/internal/journal"
	"github.com/roach88/skillcheck/internal/judge"
	"github.com/roach88/skillcheck/internal/validate"
)

// APIKeyEnv gates non-dry runs unless --oauth is set.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// Error codes produced by the CLI itself. Scenario file errors carry the
// harness LoadError codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeCredentials = "E002"
	ErrCodeJournal     = "E003"
	ErrCodeFailed      = "E004"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	TestsDir       string
	ProjectRoot    string
	Assets         []string
	Suite          string
	File           string
	Filter         string
	Scenario       string
	DryRun         bool
	Timeout        time.Duration
	Model          string
	MaxBudget      float64
	MaxTurns       int
	PermissionMode string
	OAuth          bool
	JudgeProvider  string
	JudgeModel     string
	JudgeRegion    string
	ClaudeBin      string
	Journal        string
	Report         string
	Watch          bool

	// Test seams. Nil means the real implementation.
	runtime agent.Runtime
	judge   judge.Client
	getenv  func(string) string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	def := harness.DefaultRunnerConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios against the agent",
		Long: `Run scenario files from <tests-dir>/scenarios.

Every scenario runs in a fresh copy of its fixture from
<tests-dir>/fixtures. Scenarios run one at a time; a scenario file that
fails to load aborts the run before anything executes.

Exit codes:
  0 - All scenarios passed
  1 - A scenario failed or errored, a file failed to load, or
      ANTHROPIC_API_KEY is missing
  2 - Invalid flags

Examples:
  skillcheck run
  skillcheck run --suite contracts --scenario "creates spec"
  skillcheck run --file contracts/specification.yml --model sonnet
  skillcheck run --dry-run
  skillcheck run --journal runs.db --report report.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.TestsDir, "tests-dir", def.TestsDir, "directory holding fixtures/ and scenarios/")
	f.StringVar(&opts.ProjectRoot, "project-root", ".", "project whose agent assets are linked into every fixture copy")
	f.StringSliceVar(&opts.Assets, "asset", nil, "project asset to link into fixture copies (repeatable; default: "+fmt.Sprint(fixture.DefaultAssets)+")")
	f.StringVar(&opts.Suite, "suite", "", "run only scenario files under scenarios/<suite>")
	f.StringVar(&opts.File, "file", "", "run one scenario file (relative to scenarios/)")
	f.StringVar(&opts.Filter, "filter", "", "glob on scenario file names, without extension")
	f.StringVar(&opts.Scenario, "scenario", "", "run only the scenario with this name")
	f.BoolVar(&opts.DryRun, "dry-run", false, "set up and tear down fixtures without running the agent")
	f.DurationVar(&opts.Timeout, "timeout", def.Timeout, "per-scenario agent timeout")
	f.StringVar(&opts.Model, "model", def.Model, "agent model alias or ID")
	f.Float64Var(&opts.MaxBudget, "max-budget", def.MaxBudgetUSD, "advisory spend cap per scenario, in USD")
	f.IntVar(&opts.MaxTurns, "max-turns", def.MaxTurns, "advisory turn cap per scenario")
	f.StringVar(&opts.PermissionMode, "permission-mode", string(def.PermissionMode), "agent permission mode")
	f.BoolVar(&opts.OAuth, "oauth", false, "authenticate the agent through its own login instead of "+APIKeyEnv)
	f.StringVar(&opts.JudgeProvider, "judge-provider", string(judge.ProviderAnthropic), "semantic judge backend (anthropic|bedrock)")
	f.StringVar(&opts.JudgeModel, "judge-model", judge.DefaultModel, "default model for semantic assertions")
	f.StringVar(&opts.JudgeRegion, "judge-region", "", "AWS region for the bedrock judge")
	f.StringVar(&opts.ClaudeBin, "claude-bin", agent.DefaultClaudeBin, "agent CLI binary")
	f.StringVar(&opts.Journal, "journal", "", "SQLite run journal (default: in-memory)")
	f.StringVar(&opts.Report, "report", "", "write the canonical JSON report to this file")
	f.BoolVar(&opts.Watch, "watch", false, "record filesystem events while the agent runs")

	return cmd
}

func runScenarios(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	provider, err := judge.ParseProvider(opts.JudgeProvider)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if !harness.ValidModel(opts.Model) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid model %q: must be one of %v or a claude- model ID", opts.Model, harness.ModelAliases()))
	}

	getenv := opts.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if !opts.DryRun && !opts.OAuth && getenv(APIKeyEnv) == "" {
		msg := APIKeyEnv + " environment variable is required (or use --oauth, or --dry-run)"
		_ = out.Error(ErrCodeCredentials, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		_ = out.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to open journal", err)
	}
	defer j.Close()

	validator, err := buildValidator(ctx, opts, provider, logger)
	if err != nil {
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to set up judge", err)
	}

	cfg := harness.DefaultRunnerConfig()
	cfg.TestsDir = opts.TestsDir
	cfg.Selection = harness.Selection{Suite: opts.Suite, File: opts.File, Filter: opts.Filter}
	cfg.Scenario = opts.Scenario
	cfg.DryRun = opts.DryRun
	cfg.Timeout = opts.Timeout
	cfg.Model = opts.Model
	cfg.MaxBudgetUSD = opts.MaxBudget
	cfg.MaxTurns = opts.MaxTurns
	cfg.PermissionMode = agent.PermissionMode(opts.PermissionMode)

	iso := fixture.NewIsolator(cfg.FixturesDir(),
		fixture.WithProjectAssets(opts.ProjectRoot, opts.Assets...),
		fixture.WithLogger(logger),
	)
	defer iso.CleanupAll()

	rt := opts.runtime
	if rt == nil {
		rt = agent.NewClaudeCLI(opts.ClaudeBin, agent.WithClaudeLogger(logger))
	}

	runnerOpts := []harness.Option{
		harness.WithValidator(validator),
		harness.WithJournal(j),
		harness.WithLogger(logger),
		harness.WithWatch(opts.Watch),
	}
	if !out.JSON() {
		w := out.Writer
		runnerOpts = append(runnerOpts, harness.WithProgress(harness.Progress{
			Suite:  func(_ *harness.ScenarioFile, file string) { harness.WriteSuiteHeader(w, file) },
			Result: func(r harness.TestResult) { harness.WriteResult(w, r, opts.Verbose) },
		}))
		if opts.DryRun {
			fmt.Fprintln(w, "Dry run: fixtures are set up and torn down, the agent is not invoked.")
		}
	}

	runner := harness.NewRunner(cfg, iso, rt, runnerOpts...)
	suites, runErr := runner.Run(ctx)

	var le *harness.LoadError
	var nf *harness.ScenarioNotFoundError
	switch {
	case errors.As(runErr, &le):
		_ = out.Error(le.Code, le.Error(), nil)
		return WrapExitError(ExitFailure, "failed to load scenarios", runErr)
	case errors.As(runErr, &nf):
		_ = out.Error(harness.ErrCodeNotFound, nf.Error(), nil)
		return WrapExitError(ExitFailure, "failed to load scenarios", runErr)
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		_ = out.Error(ErrCodeGeneric, runErr.Error(), nil)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}

	if opts.Report != "" {
		if err := writeReport(opts.Report, suites); err != nil {
			logger.Error("report not written", "path", opts.Report, "error", err)
		}
	}

	total := harness.Totals(suites)
	report := harness.NewReport(suites)
	if out.JSON() {
		if total.OK() && runErr == nil {
			if err := out.Success(report); err != nil {
				return err
			}
		} else {
			_ = out.Failure(ErrCodeFailed, failureMessage(total, runErr), report)
		}
	} else {
		if len(suites) == 0 {
			fmt.Fprintln(out.Writer, "No scenarios found.")
		}
		harness.WriteSummary(out.Writer, total)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run interrupted", runErr)
	}
	if !total.OK() {
		return NewExitError(ExitFailure, failureMessage(total, nil))
	}
	return nil
}

func buildValidator(ctx context.Context, opts *RunOptions, provider judge.Provider, logger *slog.Logger) (*validate.Validator, error) {
	if opts.DryRun {
		return validate.New(validate.WithLogger(logger)), nil
	}
	client := opts.judge
	if client == nil {
		switch provider {
		case judge.ProviderBedrock:
			b, err := judge.NewBedrock(ctx, opts.JudgeRegion)
			if err != nil {
				return nil, err
			}
			client = b
		default:
			client = judge.NewAnthropic()
		}
	}
	ev := judge.NewEvaluator(client,
		judge.WithModel(opts.JudgeModel),
		judge.WithLogger(logger),
	)
	return validate.New(validate.WithEvaluator(ev), validate.WithLogger(logger)), nil
}

func writeReport(path string, suites []harness.SuiteResult) error {
	data, err := harness.MarshalReport(suites)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func failureMessage(total harness.Summary, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("run interrupted: %v", runErr)
	}
	return fmt.Sprintf("%d of %d scenario(s) failed, %d errored", total.Failed, total.Total, total.Errored)
}
