package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/journal"
	"github.com/roach88/skillcheck/internal/judge"
	"github.com/roach88/skillcheck/internal/validate"
)

// RunnerConfig holds run-wide settings. Scenario config overrides Timeout
// and Model per scenario.
type RunnerConfig struct {
	// TestsDir holds the fixtures/ and scenarios/ directories.
	TestsDir string

	Selection Selection

	// Scenario restricts runs to scenarios with this exact name.
	Scenario string

	// DryRun sets up and tears down fixtures without running the agent.
	DryRun bool

	Timeout        time.Duration
	Model          string
	MaxBudgetUSD   float64
	MaxTurns       int
	PermissionMode agent.PermissionMode

	// MaxParallelAssertions bounds assertion fan-out. Zero means unbounded.
	MaxParallelAssertions int
}

// DefaultRunnerConfig returns the runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		TestsDir:              "tests",
		Timeout:               180 * time.Second,
		Model:                 "opus",
		MaxBudgetUSD:          2.0,
		MaxTurns:              50,
		PermissionMode:        agent.PermissionAcceptEdits,
		MaxParallelAssertions: 8,
	}
}

// FixturesDir is where fixture IDs are resolved.
func (c RunnerConfig) FixturesDir() string {
	return filepath.Join(c.TestsDir, "fixtures")
}

// ScenariosDir is where scenario files are discovered.
func (c RunnerConfig) ScenariosDir() string {
	return filepath.Join(c.TestsDir, "scenarios")
}

// ModelID resolves a model alias (opus, sonnet, haiku) to a model ID.
// Other names pass through unchanged.
func ModelID(name string) string {
	return judge.AnthropicModelID(name)
}

// ModelAliases lists the accepted model aliases.
func ModelAliases() []string {
	return judge.Aliases()
}

// ValidModel reports whether name is an alias or a claude model ID.
func ValidModel(name string) bool {
	for _, a := range ModelAliases() {
		if strings.EqualFold(name, a) {
			return true
		}
	}
	return strings.HasPrefix(name, "claude-")
}

// Progress receives results as they are produced.
type Progress struct {
	// Suite is called before the scenarios of a file run.
	Suite func(sf *ScenarioFile, file string)
	// Result is called after each scenario, skipped ones included.
	Result func(r TestResult)
}

// Runner executes scenarios sequentially, each attempt in its own working
// copy of the fixture.
//
// Thread-safety: a Runner runs one scenario at a time; do not share it
// across goroutines.
type Runner struct {
	cfg       RunnerConfig
	isolator  *fixture.Isolator
	runtime   agent.Runtime
	validator *validate.Validator
	journal   *journal.Journal
	logger    *slog.Logger
	now       func() time.Time
	watch     bool
	progress  Progress
}

// Option configures a Runner.
type Option func(*Runner)

// WithValidator sets the assertion validator. Default: validate.New()
// without a judge, so semantic assertions fail.
func WithValidator(v *validate.Validator) Option {
	return func(r *Runner) {
		r.validator = v
	}
}

// WithJournal records every attempt in j.
func WithJournal(j *journal.Journal) Option {
	return func(r *Runner) {
		r.journal = j
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithClock replaces time.Now for durations and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithWatch records filesystem activity in the working copy while the
// agent runs.
func WithWatch(enabled bool) Option {
	return func(r *Runner) {
		r.watch = enabled
	}
}

// WithProgress sets progress callbacks.
func WithProgress(p Progress) Option {
	return func(r *Runner) {
		r.progress = p
	}
}

// NewRunner creates a Runner. Zero fields of cfg take DefaultRunnerConfig
// values.
func NewRunner(cfg RunnerConfig, iso *fixture.Isolator, rt agent.Runtime, opts ...Option) *Runner {
	def := DefaultRunnerConfig()
	if cfg.TestsDir == "" {
		cfg.TestsDir = def.TestsDir
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxBudgetUSD <= 0 {
		cfg.MaxBudgetUSD = def.MaxBudgetUSD
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = def.PermissionMode
	}

	r := &Runner{
		cfg:      cfg,
		isolator: iso,
		runtime:  rt,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = validate.New(validate.WithLogger(r.logger))
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() RunnerConfig {
	return r.cfg
}

// Load discovers and loads the selected scenario files. Any load error is
// returned before anything runs.
func (r *Runner) Load() ([]*ScenarioFile, error) {
	paths, err := FindScenarioFiles(r.cfg.ScenariosDir(), r.cfg.Selection)
	if err != nil {
		return nil, err
	}
	files := make([]*ScenarioFile, 0, len(paths))
	for _, p := range paths {
		sf, err := LoadScenarioFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, sf)
	}
	r.logger.Info("found scenario files", "count", len(files))
	return files, nil
}

// Run loads the selected scenario files and runs them in order. A load
// error aborts before any scenario runs. If ctx is cancelled, the suites
// completed so far are returned with ctx.Err().
func (r *Runner) Run(ctx context.Context) ([]SuiteResult, error) {
	files, err := r.Load()
	if err != nil {
		return nil, err
	}
	if !r.cfg.DryRun {
		r.logger.Info("run settings", "model", r.cfg.Model, "max_budget_usd", r.cfg.MaxBudgetUSD, "max_turns", r.cfg.MaxTurns)
	}

	suites := make([]SuiteResult, 0, len(files))
	for _, sf := range files {
		if err := ctx.Err(); err != nil {
			return suites, err
		}
		suites = append(suites, r.RunFile(ctx, sf))
	}
	return suites, ctx.Err()
}

// RunFile runs the scenarios of one file and aggregates their results.
func (r *Runner) RunFile(ctx context.Context, sf *ScenarioFile) SuiteResult {
	start := r.now()
	file := r.relPath(sf.Path)
	suite := SuiteResult{
		Name:      sf.Name,
		File:      file,
		Type:      sf.Type,
		Timestamp: start.UTC(),
		Results:   []TestResult{},
	}
	if r.progress.Suite != nil {
		r.progress.Suite(sf, file)
	}
	r.logger.Debug("running scenario file", "file", file)

	for _, sc := range r.selectScenarios(sf.Scenarios) {
		if ctx.Err() != nil {
			break
		}
		res := r.RunScenario(ctx, file, sc)
		suite.Results = append(suite.Results, res)
		suite.Summary.Add(res)
		if r.progress.Result != nil {
			r.progress.Result(res)
		}
	}

	suite.Duration = r.now().Sub(start)
	return suite
}

// selectScenarios applies the name filter, then keeps only focused
// scenarios if any are focused.
func (r *Runner) selectScenarios(all []Scenario) []*Scenario {
	var picked []*Scenario
	focused := false
	for i := range all {
		sc := &all[i]
		if r.cfg.Scenario != "" && sc.Name != r.cfg.Scenario {
			continue
		}
		picked = append(picked, sc)
		focused = focused || sc.Focused()
	}
	if !focused {
		return picked
	}
	out := picked[:0]
	for _, sc := range picked {
		if sc.Focused() {
			out = append(out, sc)
		}
	}
	return out
}

// RunScenario runs one scenario, repeating it per its config. file labels
// journal entries.
func (r *Runner) RunScenario(ctx context.Context, file string, sc *Scenario) TestResult {
	if sc.Skipped() {
		r.logger.Debug("scenario skipped", "scenario", sc.Name)
		return TestResult{Scenario: sc.Name, Status: StatusSkipped, Assertions: []validate.Result{}}
	}

	runs, need := sc.Attempts()
	if runs == 1 {
		return r.runAttempt(ctx, file, sc, 1)
	}

	start := r.now()
	var (
		attempts []Attempt
		last     TestResult
		firstBad *TestResult
		passes   int
		errored  int
		cost     float64
	)
	for n := 1; n <= runs; n++ {
		if n > 1 && ctx.Err() != nil {
			break
		}
		res := r.runAttempt(ctx, file, sc, n)
		attempts = append(attempts, Attempt{
			Number:   n,
			Status:   res.Status,
			Duration: res.Duration,
			Error:    res.Error,
			RunID:    res.RunID,
		})
		cost += res.CostUSD
		switch res.Status {
		case StatusPassed:
			passes++
		case StatusError:
			errored++
		}
		if res.Status != StatusPassed && firstBad == nil {
			bad := res
			firstBad = &bad
		}
		last = res
	}

	// Cancellation between attempts leaves fewer than runs attempts.
	interrupted := len(attempts) < runs
	tally := fmt.Sprintf("%d/%d attempts passed, need %d", passes, runs, need)
	if interrupted {
		tally += " (interrupted)"
	}

	out := last
	switch {
	case passes >= need:
		out.Status = StatusPassed
	case firstBad == nil:
		out.Status = StatusError
		out.Error = tally
	case errored == len(attempts):
		out = *firstBad
		out.Status = StatusError
	default:
		out = *firstBad
		out.Status = StatusFailed
		if out.Error == "" || interrupted {
			out.Error = tally
		}
	}
	out.Attempts = attempts
	out.CostUSD = cost
	out.Duration = r.now().Sub(start)
	r.logger.Debug("repeated scenario finished", "scenario", sc.Name, "passed", passes, "runs", len(attempts), "need", need)
	return out
}

// runAttempt runs one isolated attempt:
//
//	setup -> snapshot -> preconditions -> execute -> diff -> validate -> teardown
//
// Teardown runs on every path out of setup.
func (r *Runner) runAttempt(ctx context.Context, file string, sc *Scenario, attempt int) (res TestResult) {
	start := r.now()
	res = TestResult{Scenario: sc.Name, Assertions: []validate.Result{}}
	var exec *agent.Result
	defer func() {
		res.Duration = r.now().Sub(start)
		r.record(ctx, file, sc, attempt, start, &res, exec)
	}()

	workDir, err := r.isolator.Setup(ctx, sc.Fixture)
	if err != nil {
		return r.errored(res, fmt.Errorf("fixture setup: %w", err))
	}
	defer func() {
		if err := r.isolator.Teardown(workDir); err != nil {
			r.logger.Warn("fixture teardown failed", "dir", workDir, "error", err)
		}
	}()

	baseline, err := fixture.CaptureState(workDir)
	if err != nil {
		return r.errored(res, fmt.Errorf("capture fixture state: %w", err))
	}

	if r.cfg.DryRun {
		res.Status = StatusPassed
		res.Output = DryRunOutput
		return res
	}

	vctx := &validate.Context{
		WorkDir:    workDir,
		FixtureDir: filepath.Join(r.isolator.FixturesRoot(), filepath.FromSlash(sc.Fixture)),
		Baseline:   baseline,
	}

	if len(sc.Preconditions) > 0 {
		pre := r.validateAll(ctx, sc.Preconditions, vctx)
		for _, p := range pre {
			if !p.Passed {
				res.Assertions = pre
				return r.errored(res, fmt.Errorf("precondition failed: %s", p.Message))
			}
		}
	}

	var activity *fixture.Activity
	if r.watch {
		if activity, err = fixture.Watch(workDir); err != nil {
			r.logger.Warn("filesystem watch unavailable", "dir", workDir, "error", err)
		}
	}

	executor := agent.NewExecutor(r.runtime, r.agentConfig(sc, workDir), r.logger)
	r.logger.Debug("executing", "command", sc.Prompt(), "dir", workDir, "choices", len(sc.Choices))
	exec = executor.Execute(ctx, sc.Prompt(), sc.Choices)

	if activity != nil {
		res.Events = activity.Stop()
		for _, werr := range activity.Errors() {
			r.logger.Warn("filesystem watch error", "dir", workDir, "error", werr)
		}
	}
	res.Output = exec.Output
	res.AgentStatus = exec.Status
	res.AgentSuccess = exec.Success
	res.CostUSD = exec.CostUSD
	res.Turns = exec.Turns
	res.ToolCalls = exec.ToolCalls
	res.Questions = exec.Questions
	for _, c := range exec.UnusedChoices {
		res.UnusedChoices = append(res.UnusedChoices, c.Match)
	}
	r.logger.Debug("execution finished",
		"status", exec.Status,
		"cost_usd", exec.CostUSD,
		"turns", exec.Turns,
		"tool_calls", len(exec.ToolCalls),
		"questions", len(exec.Questions),
	)

	changes, err := fixture.CompareState(workDir, baseline)
	if err != nil {
		return r.errored(res, fmt.Errorf("compare fixture state: %w", err))
	}
	res.Changes = changes

	if exec.Error != "" {
		return r.errored(res, errors.New(exec.Error))
	}

	vctx.Output = exec.Output
	vctx.ToolCalls = exec.ToolCalls
	vctx.Questions = exec.Questions

	checks := make(assertion.List, 0, len(sc.Assertions)+len(sc.Invariants))
	checks = append(checks, sc.Assertions...)
	for _, inv := range sc.Invariants {
		checks = append(checks, assertion.Unchanged{Pattern: inv})
	}
	res.Assertions = r.validateAll(ctx, checks, vctx)

	res.Status = StatusPassed
	for _, a := range res.Assertions {
		if !a.Passed {
			res.Status = StatusFailed
			break
		}
	}
	return res
}

// validateAll evaluates assertions concurrently and returns results in
// declaration order.
func (r *Runner) validateAll(ctx context.Context, list assertion.List, vctx *validate.Context) []validate.Result {
	results := make([]validate.Result, len(list))
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.MaxParallelAssertions > 0 {
		g.SetLimit(r.cfg.MaxParallelAssertions)
	}
	for i, a := range list {
		g.Go(func() error {
			results[i] = r.validator.Validate(gctx, a, vctx)
			return nil
		})
	}
	_ = g.Wait() // Validate never fails
	return results
}

func (r *Runner) agentConfig(sc *Scenario, workDir string) agent.Config {
	model := r.cfg.Model
	timeout := r.cfg.Timeout
	if c := sc.Config; c != nil {
		if c.Model != "" {
			model = c.Model
		}
		if c.Timeout > 0 {
			timeout = time.Duration(c.Timeout)
		}
	}
	return agent.Config{
		WorkDir:        workDir,
		Model:          ModelID(model),
		MaxTurns:       r.cfg.MaxTurns,
		MaxBudgetUSD:   r.cfg.MaxBudgetUSD,
		PermissionMode: r.cfg.PermissionMode,
		Timeout:        timeout,
	}
}

func (r *Runner) errored(res TestResult, err error) TestResult {
	res.Status = StatusError
	res.Error = err.Error()
	r.logger.Debug("scenario error", "scenario", res.Scenario, "error", err)
	return res
}

// record journals one attempt. Journal failures are logged, never fatal.
func (r *Runner) record(ctx context.Context, file string, sc *Scenario, attempt int, startedAt time.Time, res *TestResult, exec *agent.Result) {
	if r.journal == nil {
		return
	}
	run := &journal.Run{
		File:      file,
		Scenario:  sc.Name,
		Fixture:   sc.Fixture,
		Command:   sc.Prompt(),
		Attempt:   attempt,
		Status:    string(res.Status),
		Error:     res.Error,
		Output:    res.Output,
		CostUSD:   res.CostUSD,
		Turns:     res.Turns,
		Duration:  res.Duration,
		StartedAt: startedAt,
		Changes:   res.Changes,
		ToolCalls: res.ToolCalls,
		Questions: res.Questions,
		Events:    res.Events,
	}
	if exec != nil {
		run.SessionID = exec.SessionID
		run.AgentStatus = exec.Status
		run.AgentSuccess = exec.Success
	}
	for _, a := range res.Assertions {
		run.Assertions = append(run.Assertions, journal.AssertionRecord{
			Kind:        string(a.Kind),
			Description: a.Description,
			Passed:      a.Passed,
			Message:     a.Message,
			CostUSD:     a.CostUSD,
		})
	}
	if _, err := r.journal.WriteRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("journal write failed", "scenario", sc.Name, "error", err)
		return
	}
	res.RunID = run.ID
}

// relPath labels a scenario file relative to the tests directory.
func (r *Runner) relPath(path string) string {
	rel, err := filepath.Rel(r.cfg.TestsDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
