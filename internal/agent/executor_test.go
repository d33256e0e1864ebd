package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/choice"
	"github.com/roach88/skillcheck/internal/testutil"
)

func newExecutor(rt agent.Runtime, timeout time.Duration) *agent.Executor {
	return agent.NewExecutor(rt, agent.Config{WorkDir: "/work", Timeout: timeout}, nil)
}

func TestExecute_CollectsOutputAndResult(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Session("sess-1"),
		testutil.Say("Looking at the discussion.", "Done."),
		testutil.Say("Next step: plan."),
		testutil.Finish("success", 0.42, 3),
	)

	res := newExecutor(rt, time.Second).Execute(context.Background(), "/inspect", nil)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "Looking at the discussion.\nDone.\nNext step: plan.", res.Output)
	assert.Equal(t, 0.42, res.CostUSD)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, "sess-1", res.SessionID)

	reqs := rt.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/inspect", reqs[0].Prompt)
	assert.Equal(t, "/work", reqs[0].WorkDir)
	assert.Equal(t, agent.PermissionAcceptEdits, reqs[0].PermissionMode)
	assert.Equal(t, 50, reqs[0].MaxTurns)
	assert.Equal(t, []string{"project"}, reqs[0].SettingSources)
}

func TestExecute_StatusClassification(t *testing.T) {
	tests := []struct {
		subtype string
		status  string
		success bool
	}{
		{"success", "success", true},
		{"", "completed", true},
		{"error_max_turns", "error_max_turns", false},
		{"error_during_execution", "error_during_execution", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			rt := testutil.NewFakeRuntime(testutil.Finish(tt.subtype, 0, 1))
			res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.success, res.Success)
		})
	}
}

func TestExecute_StreamWithoutResultIsUnknown(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Say("partial"))
	res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)

	assert.False(t, res.Success)
	assert.Equal(t, agent.StatusUnknown, res.Status)
	assert.Equal(t, "partial", res.Output)
}

func TestExecute_ScriptedAnswersSubstituted(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Ask("q1",
			choice.Question{Header: "Topic", Question: "What topic should we discuss?"},
			choice.Question{Header: "Areas", Question: "Which areas?", MultiSelect: true},
		),
		testutil.Finish("success", 0, 1),
	)
	choices := []choice.Choice{
		{Match: "topic", Answer: choice.Answer{"Authentication"}},
		{Match: "areas", Answer: choice.Answer{"Login", "Signup"}},
		{Match: "never", Answer: choice.Answer{"unused"}},
	}

	res := newExecutor(rt, time.Second).Execute(context.Background(), "/discuss", choices)

	require.Len(t, res.Questions, 1)
	assert.Equal(t, map[string]string{"Topic": "Authentication", "Areas": "Login, Signup"}, res.Questions[0].Answers)
	assert.Len(t, res.Questions[0].Questions, 2)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, agent.AskUserQuestionTool, res.ToolCalls[0].Tool)
	assert.True(t, res.ToolCalls[0].Intercepted)
	assert.Equal(t, 1, res.CountTool(agent.AskUserQuestionTool))

	require.Len(t, res.UnusedChoices, 1)
	assert.Equal(t, "never", res.UnusedChoices[0].Match)

	decisions := rt.Decisions()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Allow)
	var updated struct {
		Questions []map[string]any  `json:"questions"`
		Answers   map[string]string `json:"answers"`
	}
	require.NoError(t, json.Unmarshal(decisions[0].UpdatedInput, &updated))
	assert.Len(t, updated.Questions, 2)
	assert.Equal(t, "What topic should we discuss?", updated.Questions[0]["question"])
	assert.Equal(t, "Authentication", updated.Answers["Topic"])
}

func TestExecute_OtherToolsApprovedUnchanged(t *testing.T) {
	input := map[string]string{"file_path": "docs/spec.md", "content": "# Spec"}
	rt := testutil.NewFakeRuntime(
		testutil.UseTool("t1", "Write", input),
		testutil.Finish("success", 0, 1),
	)

	res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)

	decisions := rt.Decisions()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Allow)
	assert.JSONEq(t, `{"file_path":"docs/spec.md","content":"# Spec"}`, string(decisions[0].UpdatedInput))

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Write", res.ToolCalls[0].Tool)
	assert.Equal(t, 0, res.CountTool(agent.AskUserQuestionTool))
	assert.Empty(t, res.Questions)
}

func TestExecute_StreamedToolUseDeduplicated(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Step{Event: &agent.Event{
			Kind: agent.EventAssistant,
			ToolUses: []agent.ToolUse{
				{ID: "t1", Name: "Write", Input: json.RawMessage(`{"file_path":"a.md"}`)},
				{ID: "t2", Name: "Read", Input: json.RawMessage(`{"file_path":"b.md"}`)},
			},
		}},
		testutil.UseTool("t1", "Write", map[string]string{"file_path": "a.md"}),
		testutil.Finish("success", 0, 1),
	)

	res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)

	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "Write", res.ToolCalls[0].Tool)
	assert.True(t, res.ToolCalls[0].Intercepted)
	assert.Equal(t, "Read", res.ToolCalls[1].Tool)
	assert.False(t, res.ToolCalls[1].Intercepted)
}

func TestExecute_Timeout(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Say("thinking"),
		testutil.UseTool("t1", "Write", map[string]string{"file_path": "a.md"}),
		testutil.Hang(),
	)

	start := time.Now()
	res := newExecutor(rt, 50*time.Millisecond).Execute(context.Background(), "x", nil)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "Execution timeout", res.Error)
	// Partial capture survives the timeout.
	assert.Equal(t, "thinking", res.Output)
	assert.Len(t, res.ToolCalls, 1)
}

func TestExecute_StreamErrorBecomesFailure(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Say("hi"), testutil.Fail(errors.New("connection reset")))
	res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "connection reset", res.Error)
	assert.Equal(t, "hi", res.Output)
}

func TestExecute_PanicRecovered(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Step{Panic: "boom"})
	res := newExecutor(rt, time.Second).Execute(context.Background(), "x", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "boom")
}

func TestExecute_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := testutil.NewFakeRuntime(testutil.Hang())

	res := newExecutor(rt, time.Minute).Execute(ctx, "x", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "context canceled")
}

func TestExecute_InterceptorNotShared(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.Ask("q1", choice.Question{Header: "Topic", Question: "Topic?"}),
		testutil.Finish("success", 0, 1),
	)
	choices := []choice.Choice{{Match: "topic", Answer: choice.Answer{"auth"}}}
	e := newExecutor(rt, time.Second)

	first := e.Execute(context.Background(), "x", choices)
	second := e.Execute(context.Background(), "x", choices)

	assert.Equal(t, "auth", first.Questions[0].Answers["Topic"])
	assert.Equal(t, "auth", second.Questions[0].Answers["Topic"])
}

func TestNewExecutor_Defaults(t *testing.T) {
	cfg := agent.NewExecutor(nil, agent.Config{}, nil).Config()
	def := agent.DefaultConfig()

	assert.Equal(t, def.Model, cfg.Model)
	assert.Equal(t, def.Timeout, cfg.Timeout)
	assert.Equal(t, def.MaxBudgetUSD, cfg.MaxBudgetUSD)
	assert.Equal(t, agent.PermissionAcceptEdits, cfg.PermissionMode)
}
