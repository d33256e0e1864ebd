package harness

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/choice"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/journal"
	"github.com/roach88/skillcheck/internal/judge"
	"github.com/roach88/skillcheck/internal/testutil"
	"github.com/roach88/skillcheck/internal/validate"
)

var discussionFixture = map[string]string{
	"minimal/has-discussion/docs/discussion/auth.md": "# Auth discussion\n\nWe talked about login.\n",
	"minimal/empty/README.md":                        "empty project\n",
}

// newTestRunner builds a runner over a fresh tests dir. Working copies are
// created under a dedicated temp root so tests can check they are removed.
func newTestRunner(t *testing.T, rt agent.Runtime, opts ...Option) (*Runner, string) {
	t.Helper()
	testsDir := testutil.TestsDir(t, discussionFixture, nil)
	tempRoot := t.TempDir()

	iso := fixture.NewIsolator(filepath.Join(testsDir, "fixtures"), fixture.WithTempRoot(tempRoot))
	cfg := DefaultRunnerConfig()
	cfg.TestsDir = testsDir
	cfg.Timeout = 5 * time.Second

	clock := testutil.NewStepClock(10 * time.Millisecond)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewRunner(cfg, iso, rt, opts...), tempRoot
}

// parseScenarios parses a scenario file body for tests.
func parseScenarios(t *testing.T, content string) *ScenarioFile {
	t.Helper()
	sf, err := ParseScenarioFile("scenarios/test.yaml", []byte(content))
	require.NoError(t, err)
	return sf
}

func onlyScenario(t *testing.T, content string) *Scenario {
	t.Helper()
	sf := parseScenarios(t, content)
	require.Len(t, sf.Scenarios, 1)
	return &sf.Scenarios[0]
}

// assertCleanedUp checks that no working copy is left under tempRoot.
func assertCleanedUp(t *testing.T, tempRoot string) {
	t.Helper()
	entries, err := os.ReadDir(tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "working copies left behind")
}

func TestRunScenario_MinimalPasses(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Say("I found one discussion about auth."),
		testutil.Finish("success", 0.05, 2),
	)
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: minimal
type: contract
scenarios:
  - name: reads discussion
    fixture: minimal/has-discussion
    command: /workflow/status
    assertions:
      - output_contains: discussion
      - tool_count: { tool: AskUserQuestion, count: 0 }
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusPassed, res.Status, "error: %s, assertions: %+v", res.Error, res.Assertions)
	require.Len(t, res.Assertions, 2)
	assert.True(t, res.Assertions[0].Passed)
	assert.True(t, res.Assertions[1].Passed)
	assert.Equal(t, "I found one discussion about auth.", res.Output)
	assert.Equal(t, 0.05, res.CostUSD)
	assert.Equal(t, 2, res.Turns)
	assert.True(t, res.Changes.Empty())
	assert.Positive(t, res.Duration)

	reqs := rt.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/workflow/status", reqs[0].Prompt)
	assert.Equal(t, ModelID("opus"), reqs[0].Model)
	assert.Equal(t, agent.PermissionAcceptEdits, reqs[0].PermissionMode)
	assert.NoDirExists(t, reqs[0].WorkDir)
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_ChoicesAndFiles(t *testing.T) {
	spec := "---\ntopic: auth\nstatus: draft\n---\n# Auth\n\n## Summary\nLogin flow.\n"
	rt := testutil.NewFakeRuntime(
		testutil.Session("sess-42"),
		testutil.Ask("q1", choice.Question{Question: "Which discussion should I use?", Header: "Discussion"}),
		testutil.WriteFiles(map[string]string{"docs/specification/auth.md": spec}),
		testutil.UseTool("w1", "Write", map[string]any{"file_path": "docs/specification/auth.md"}),
		testutil.Say("Wrote the specification."),
		testutil.Finish("success", 0.2, 5),
	)
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: spec
type: contract
scenarios:
  - name: creates spec
    fixture: minimal/has-discussion
    command: /workflow/start-specification
    args: auth
    choices:
      - match: which discussion
        answer: auth
      - match: never asked
        answer: nothing
    assertions:
      - exists: docs/specification/auth.md
      - has_frontmatter:
          path: docs/specification/auth.md
          required: [topic]
          values: { status: draft }
      - has_sections:
          path: docs/specification/auth.md
          sections: ["## Summary"]
      - tool_called: { tool: Write, input: { file_path: docs/specification/auth.md } }
      - tool_count: { tool: AskUserQuestion, count: 1 }
    invariants:
      - "docs/discussion/**"
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	require.Equal(t, StatusPassed, res.Status, "error: %s, failed: %+v", res.Error, res.FailedAssertions())
	assert.Len(t, res.Assertions, 6, "invariants are validated as unchanged assertions")
	assert.Equal(t, "unchanged", string(res.Assertions[5].Kind))

	assert.Equal(t, []string{"docs/specification/auth.md"}, res.Changes.Added)
	assert.Empty(t, res.Changes.Modified)
	require.Len(t, res.Questions, 1)
	assert.Equal(t, map[string]string{"Discussion": "auth"}, res.Questions[0].Answers)
	assert.Equal(t, []string{"never asked"}, res.UnusedChoices)
	assert.Equal(t, "/workflow/start-specification auth", rt.Requests()[0].Prompt)
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_InvariantViolated(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.WriteFiles(map[string]string{"docs/discussion/auth.md": "rewritten\n"}),
		testutil.Finish("success", 0, 1),
	)
	r, _ := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: inv
type: contract
scenarios:
  - name: must not touch discussion
    fixture: minimal/has-discussion
    command: /noop
    invariants: ["docs/discussion/**"]
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.FailedAssertions(), 1)
	assert.Equal(t, "1 file changed: docs/discussion/auth.md", res.FailedAssertions()[0].Message)
	assert.Equal(t, []string{"docs/discussion/auth.md"}, res.Changes.Modified)
}

func TestRunScenario_Timeout(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Say("thinking"),
		testutil.Hang(),
	)
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: slow
type: integration
scenarios:
  - name: hangs
    fixture: minimal/empty
    command: /slow
    config: { timeout: 50ms }
    assertions:
      - output_contains: done
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, agent.ErrTimeoutMessage, res.Error)
	assert.Empty(t, res.Assertions, "assertions are not evaluated after an execution error")
	assert.Equal(t, "thinking", res.Output)
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_StreamFailure(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Fail(errors.New("transport closed")))
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: broken
type: contract
scenarios:
  - {name: fails, fixture: minimal/empty, command: /x, assertions: [{exists: README.md}]}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "transport closed", res.Error)
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_AgentStatusReported(t *testing.T) {
	j, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	rt := testutil.NewFakeRuntime(
		testutil.Say("partial work"),
		testutil.Finish("error_max_turns", 0.1, 50),
	)
	r, tempRoot := newTestRunner(t, rt, WithJournal(j))

	sc := onlyScenario(t, `
name: turns
type: contract
scenarios:
  - {name: ran out, fixture: minimal/empty, command: /x, assertions: [{exists: README.md}]}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusPassed, res.Status, "assertions decide the scenario status")
	assert.Empty(t, res.Error)
	assert.Equal(t, "error_max_turns", res.AgentStatus)
	assert.False(t, res.AgentSuccess)
	assert.Equal(t, 50, res.Turns)

	var buf bytes.Buffer
	WriteResult(&buf, res, false)
	assert.Contains(t, buf.String(), "Agent status: error_max_turns")

	run, err := j.ReadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "error_max_turns", run.AgentStatus)
	assert.False(t, run.AgentSuccess)
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_MissingFixture(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: missing
type: contract
scenarios:
  - {name: no fixture, fixture: nope/none, command: /x, assertions: [{exists: a}]}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "fixture setup")
	assert.Contains(t, res.Error, "nope/none")
	assert.Empty(t, rt.Requests())
}

func TestRunScenario_DryRun(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 1, 1))
	r, tempRoot := newTestRunner(t, rt)
	r.cfg.DryRun = true

	sc := onlyScenario(t, `
name: dry
type: contract
scenarios:
  - {name: dry, fixture: minimal/has-discussion, command: /x, assertions: [{exists: nothing-here}]}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, DryRunOutput, res.Output)
	assert.Empty(t, res.Assertions)
	assert.Empty(t, rt.Requests(), "agent must not run in dry-run mode")
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_Skip(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: skip
type: contract
scenarios:
  - {name: later, fixture: nope/none, command: /x, assertions: [{exists: a}], config: {skip: true}}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Zero(t, res.Duration)
	assert.Empty(t, rt.Requests())
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_PreconditionFailed(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, tempRoot := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: pre
type: contract
scenarios:
  - name: needs discussion
    fixture: minimal/empty
    command: /x
    preconditions:
      - exists: docs/discussion/*.md
    assertions: [{exists: README.md}]
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "precondition failed: docs/discussion/*.md does not exist", res.Error)
	require.Len(t, res.Assertions, 1)
	assert.False(t, res.Assertions[0].Passed)
	assert.Empty(t, rt.Requests())
	assertCleanedUp(t, tempRoot)
}

func TestRunScenario_ScenarioOverrides(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)

	sc := onlyScenario(t, `
name: cfg
type: contract
scenarios:
  - {name: fast, fixture: minimal/empty, command: /x, assertions: [{exists: README.md}], config: {model: haiku}}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)
	require.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, ModelID("haiku"), rt.Requests()[0].Model)
	assert.Equal(t, 50, rt.Requests()[0].MaxTurns)
	assert.Equal(t, 2.0, rt.Requests()[0].MaxBudgetUSD)
}

// cyclingRuntime answers each query with the next output in turn.
type cyclingRuntime struct {
	mu      sync.Mutex
	calls   int
	outputs []string
}

func (c *cyclingRuntime) Query(ctx context.Context, req agent.Request) iter.Seq2[agent.Event, error] {
	c.mu.Lock()
	out := c.outputs[c.calls%len(c.outputs)]
	c.calls++
	c.mu.Unlock()

	return func(yield func(agent.Event, error) bool) {
		if !yield(agent.Event{Kind: agent.EventAssistant, Text: []string{out}}, nil) {
			return
		}
		yield(agent.Event{Kind: agent.EventResult, Subtype: agent.StatusSuccess, CostUSD: 0.1, Turns: 1}, nil)
	}
}

func TestRunScenario_RepeatPolicy(t *testing.T) {
	tests := []struct {
		name      string
		threshold string
		status    Status
		errMsg    string
	}{
		{name: "two of three", threshold: "2/3", status: StatusPassed},
		{name: "all required", threshold: "", status: StatusFailed, errMsg: "2/3 attempts passed, need 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &cyclingRuntime{outputs: []string{"ok", "nope", "ok"}}
			r, tempRoot := newTestRunner(t, rt)

			cfg := &ScenarioConfig{Runs: 3, PassThreshold: tt.threshold}
			sc := &Scenario{
				Name:       "flaky",
				Fixture:    "minimal/empty",
				Command:    "/x",
				Assertions: mustAssertions(t, `[{output_contains: ok}]`),
				Config:     cfg,
			}
			res := r.RunScenario(context.Background(), "test.yaml", sc)

			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.errMsg, res.Error)
			require.Len(t, res.Attempts, 3)
			assert.Equal(t, []Status{StatusPassed, StatusFailed, StatusPassed},
				[]Status{res.Attempts[0].Status, res.Attempts[1].Status, res.Attempts[2].Status})
			assert.InDelta(t, 0.3, res.CostUSD, 1e-9)
			assert.Equal(t, 3, rt.calls)
			assertCleanedUp(t, tempRoot)
		})
	}
}

// cancellingJudge passes every criterion and cancels the run while judging.
type cancellingJudge struct {
	cancel context.CancelFunc
}

func (j cancellingJudge) Complete(context.Context, judge.Request) (judge.Response, error) {
	j.cancel()
	return judge.Response{Text: testutil.JudgeReply(true)}, nil
}

func TestRunScenario_RepeatInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := &cyclingRuntime{outputs: []string{"ok"}}
	v := validate.New(validate.WithEvaluator(judge.NewEvaluator(cancellingJudge{cancel: cancel})))
	r, tempRoot := newTestRunner(t, rt, WithValidator(v))

	sc := &Scenario{
		Name:       "interrupted",
		Fixture:    "minimal/empty",
		Command:    "/x",
		Assertions: mustAssertions(t, `[{semantic: {criteria: ["says ok"]}}]`),
		Config:     &ScenarioConfig{Runs: 3},
	}

	var res TestResult
	require.NotPanics(t, func() { res = r.RunScenario(ctx, "test.yaml", sc) })

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "1/3 attempts passed, need 3 (interrupted)", res.Error)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, StatusPassed, res.Attempts[0].Status)
	assertCleanedUp(t, tempRoot)
}

func TestRunFile_OnlyAndSummary(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Say("discussion"), testutil.Finish("success", 0.01, 1))
	r, _ := newTestRunner(t, rt)

	sf := parseScenarios(t, `
name: focus
type: contract
scenarios:
  - {name: a, fixture: minimal/empty, command: /a, assertions: [{output_contains: discussion}]}
  - {name: b, fixture: minimal/empty, command: /b, assertions: [{output_contains: discussion}], config: {only: true}}
  - {name: c, fixture: minimal/empty, command: /c, assertions: [{output_contains: missing}], config: {only: true}}
  - {name: d, fixture: minimal/empty, command: /d, assertions: [{exists: a}]}
`)
	suite := r.RunFile(context.Background(), sf)

	require.Len(t, suite.Results, 2)
	assert.Equal(t, "b", suite.Results[0].Scenario)
	assert.Equal(t, "c", suite.Results[1].Scenario)
	assert.Equal(t, Summary{Total: 2, Passed: 1, Failed: 1, CostUSD: 0.02}, suite.Summary)
	assert.False(t, suite.Summary.OK())
	assert.Equal(t, "focus", suite.Name)
	assert.Equal(t, testutil.Epoch, suite.Timestamp)
}

func TestRunFile_ScenarioFilter(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)
	r.cfg.Scenario = "b"

	sf := parseScenarios(t, `
name: filter
type: contract
scenarios:
  - {name: a, fixture: minimal/empty, command: /a, assertions: [{exists: README.md}]}
  - {name: b, fixture: minimal/empty, command: /b, assertions: [{exists: README.md}]}
`)
	suite := r.RunFile(context.Background(), sf)

	require.Len(t, suite.Results, 1)
	assert.Equal(t, "b", suite.Results[0].Scenario)
	assert.Equal(t, "/b", rt.Requests()[0].Prompt)
}

func TestRun_DiscoversAndReports(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Say("discussion"), testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)
	testutil.WriteTree(t, r.cfg.ScenariosDir(), map[string]string{
		"contracts/one.yml": `
name: one
type: contract
scenarios:
  - {name: a, fixture: minimal/empty, command: /a, assertions: [{output_contains: discussion}]}
`,
		"integration/two.yaml": `
name: two
type: integration
scenarios:
  - {name: b, fixture: minimal/empty, command: /b, assertions: [{output_contains: discussion}]}
`,
	})

	var seen []string
	r.progress = Progress{
		Suite:  func(_ *ScenarioFile, file string) { seen = append(seen, file) },
		Result: func(res TestResult) { seen = append(seen, res.Scenario) },
	}

	suites, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, suites, 2)
	assert.Equal(t, "scenarios/contracts/one.yml", suites[0].File)
	assert.Equal(t, TypeIntegration, suites[1].Type)
	assert.Equal(t, []string{"scenarios/contracts/one.yml", "a", "scenarios/integration/two.yaml", "b"}, seen)
	assert.True(t, Totals(suites).OK())
}

func TestRun_LoadErrorIsFatal(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)
	testutil.WriteTree(t, r.cfg.ScenariosDir(), map[string]string{
		"a-good.yml": "name: good\ntype: contract\nscenarios:\n  - {name: a, fixture: minimal/empty, command: /a, assertions: [{exists: x}]}\n",
		"b-bad.yml":  "name: bad\ntype: contract\nscenarios:\n  - {name: a, fixture: minimal/empty, command: /a, assertions: [{exist: x}]}\n",
	})

	suites, err := r.Run(context.Background())
	require.Error(t, err)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeInvalidAssertion, le.Code)
	assert.Nil(t, suites)
	assert.Empty(t, rt.Requests(), "no scenario may run after a load error")
}

func TestRun_Cancelled(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	r, _ := newTestRunner(t, rt)
	testutil.WriteTree(t, r.cfg.ScenariosDir(), map[string]string{
		"one.yml": "name: one\ntype: contract\nscenarios:\n  - {name: a, fixture: minimal/empty, command: /a, assertions: [{exists: x}]}\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	suites, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, suites)
}

func TestRunScenario_Journaled(t *testing.T) {
	j, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	rt := testutil.NewFakeRuntime(
		testutil.Session("sess-7"),
		testutil.Ask("q1", choice.Question{Question: "Proceed?", Header: "Go"}),
		testutil.Say("done with discussion"),
		testutil.Finish("success", 0.3, 4),
	)
	r, _ := newTestRunner(t, rt, WithJournal(j))

	sc := onlyScenario(t, `
name: j
type: contract
scenarios:
  - name: journaled
    fixture: minimal/has-discussion
    command: /go
    choices: [{match: proceed, answer: "yes"}]
    assertions:
      - output_contains: discussion
      - exists: missing.md
`)
	res := r.RunScenario(context.Background(), "contracts/j.yml", sc)
	require.Equal(t, StatusFailed, res.Status)
	require.NotEmpty(t, res.RunID)

	run, err := j.ReadRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "contracts/j.yml", run.File)
	assert.Equal(t, "journaled", run.Scenario)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "sess-7", run.SessionID)
	assert.Equal(t, "success", run.AgentStatus)
	assert.True(t, run.AgentSuccess)
	assert.Equal(t, 1, run.Attempt)
	require.Len(t, run.Assertions, 2)
	assert.True(t, run.Assertions[0].Passed)
	assert.False(t, run.Assertions[1].Passed)
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, agent.AskUserQuestionTool, run.ToolCalls[0].Tool)
	require.Len(t, run.Questions, 1)
	assert.Equal(t, map[string]string{"Go": "yes"}, run.Questions[0].Answers)
}

func TestRunScenario_SemanticCost(t *testing.T) {
	fj := &testutil.FakeJudge{Verdicts: []bool{true, true}}
	v := validate.New(validate.WithEvaluator(judge.NewEvaluator(fj)))
	rt := testutil.NewFakeRuntime(testutil.Say("A thorough discussion summary."), testutil.Finish("success", 0.5, 3))
	r, _ := newTestRunner(t, rt, WithValidator(v))

	sc := onlyScenario(t, `
name: sem
type: contract
scenarios:
  - name: judged
    fixture: minimal/empty
    command: /summarize
    assertions:
      - semantic:
          criteria: ["Summarizes the discussion", "Is concise"]
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	require.Equal(t, StatusPassed, res.Status, "failed: %+v", res.FailedAssertions())
	require.Len(t, fj.Requests(), 1)
	assert.Contains(t, fj.Requests()[0].Prompt, "A thorough discussion summary.")
	assert.Positive(t, res.Assertions[0].CostUSD)

	var s Summary
	s.Add(res)
	assert.InDelta(t, 0.5+res.Assertions[0].CostUSD, s.CostUSD, 1e-9)
}

func TestRunScenario_Watch(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.WriteFiles(map[string]string{"notes/today.md": "hi\n"}),
		testutil.Finish("success", 0, 1),
	)
	r, tempRoot := newTestRunner(t, rt, WithWatch(true))

	sc := onlyScenario(t, `
name: watch
type: contract
scenarios:
  - {name: writes, fixture: minimal/empty, command: /w, assertions: [{exists: notes/today.md}]}
`)
	res := r.RunScenario(context.Background(), "test.yaml", sc)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, []string{"notes/today.md"}, res.Changes.Added)
	assertCleanedUp(t, tempRoot)
}

func mustAssertions(t *testing.T, list string) assertion.List {
	t.Helper()
	sf := parseScenarios(t, "name: x\ntype: contract\nscenarios:\n  - {name: x, fixture: f, command: /c, assertions: "+list+"}\n")
	return sf.Scenarios[0].Assertions
}
