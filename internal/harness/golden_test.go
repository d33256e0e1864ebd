package harness

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/testutil"
	"github.com/roach88/skillcheck/internal/validate"
)

func suiteOf(name, file string, typ FileType, results ...TestResult) SuiteResult {
	s := SuiteResult{Name: name, File: file, Type: typ, Timestamp: testutil.Epoch, Results: results}
	for _, r := range results {
		s.Summary.Add(r)
	}
	return s
}

func TestGolden_MixedReport(t *testing.T) {
	suites := []SuiteResult{
		suiteOf("spec", "scenarios/contracts/spec.yml", TypeContract,
			TestResult{Scenario: "creates spec", Status: StatusPassed, Duration: 1200 * time.Millisecond, CostUSD: 0.5},
			TestResult{
				Scenario: "keeps discussion",
				Status:   StatusFailed,
				Duration: 800 * time.Millisecond,
				Assertions: []validate.Result{
					{Kind: assertion.KindExists, Description: "exists docs/spec.md", Passed: true},
					{Kind: assertion.KindUnchanged, Description: "unchanged docs/discussion/**", Message: "1 file changed: docs/discussion/auth.md"},
				},
			},
			TestResult{Scenario: "later", Status: StatusSkipped},
		),
		suiteOf("flow", "scenarios/integration/flow.yml", TypeIntegration,
			TestResult{Scenario: "times out", Status: StatusError, Duration: 5 * time.Second, Error: "Execution timeout"},
			TestResult{
				Scenario: "flaky",
				Status:   StatusFailed,
				Duration: 3 * time.Second,
				Error:    "2/3 attempts passed, need 3",
				Assertions: []validate.Result{
					{Kind: assertion.KindOutputContains, Description: `output_contains ["ok"]`, Message: `output does not contain "ok"`},
				},
				Attempts: []Attempt{
					{Number: 1, Status: StatusPassed},
					{Number: 2, Status: StatusFailed},
					{Number: 3, Status: StatusPassed},
				},
			},
		),
	}

	AssertGolden(t, "report_mixed", suites, false)
	assert.False(t, Totals(suites).OK())
}

func TestGolden_RunNotes(t *testing.T) {
	rt := testutil.NewFakeRuntime(
		testutil.WriteFiles(map[string]string{"notes.md": "# Notes\n"}),
		testutil.Say("Saved your notes."),
		testutil.Finish("success", 0.0123, 2),
	)
	r, _ := newTestRunner(t, rt)

	sf, err := ParseScenarioFile(filepath.Join(r.Config().ScenariosDir(), "notes.yaml"), []byte(`
name: notes
type: contract
scenarios:
  - name: writes notes
    fixture: minimal/empty
    command: /notes
    assertions:
      - exists: notes.md
      - output_contains: notes
`))
	require.NoError(t, err)

	suite := RunWithGolden(t, r, sf, "run_notes")
	assert.True(t, suite.Summary.OK())
	assert.Equal(t, "scenarios/notes.yaml", suite.File)
}

func TestGolden_JSONReport(t *testing.T) {
	suite := SuiteResult{
		Name:      "notes",
		File:      "scenarios/notes.yaml",
		Type:      TypeContract,
		Timestamp: testutil.Epoch,
		Duration:  30 * time.Millisecond,
		Results: []TestResult{{
			Scenario: "a",
			Status:   StatusPassed,
			Duration: 10 * time.Millisecond,
			Assertions: []validate.Result{
				{Kind: assertion.KindExists, Description: "exists notes.md", Passed: true, Message: "notes.md exists (1 match)"},
			},
			Changes: fixture.Diff{Added: []string{"notes.md"}},
			CostUSD: 0.25,
			Turns:   2,
		}},
	}
	suite.Summary.Add(suite.Results[0])

	require.NoError(t, AssertJSONGolden(t, "report_json", []SuiteResult{suite}))
}

func TestMarshalReport_Deterministic(t *testing.T) {
	suites := []SuiteResult{suiteOf("x", "scenarios/x.yml", TypeContract,
		TestResult{Scenario: "b", Status: StatusFailed, Error: "boom", Turns: 3},
		TestResult{Scenario: "a", Status: StatusPassed, CostUSD: 0.1},
	)}

	first, err := MarshalReport(suites)
	require.NoError(t, err)
	second, err := MarshalReport(suites)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded Report
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, Summary{Total: 2, Passed: 1, Failed: 1, CostUSD: 0.1}, decoded.Summary)
	require.Len(t, decoded.Suites[0].Results, 2)
	assert.Equal(t, "b", decoded.Suites[0].Results[0].Scenario, "result order is preserved")
}

func TestMarshalReport_Empty(t *testing.T) {
	data, err := MarshalReport(nil)
	require.NoError(t, err)
	assert.Equal(t, `{"suites":[],"summary":{"cost_usd":0,"errored":0,"failed":0,"passed":0,"skipped":0,"total":0}}`, string(data))
}

func TestRunFile_ProgressStreaming(t *testing.T) {
	rt := testutil.NewFakeRuntime(testutil.Finish("success", 0, 1))
	var got []Status
	r, _ := newTestRunner(t, rt, WithProgress(Progress{
		Result: func(res TestResult) { got = append(got, res.Status) },
	}))

	sf := parseScenarios(t, `
name: stream
type: contract
scenarios:
  - {name: a, fixture: minimal/empty, command: /a, assertions: [{exists: README.md}]}
  - {name: b, fixture: minimal/empty, command: /b, assertions: [{exists: README.md}], config: {skip: true}}
`)
	r.RunFile(context.Background(), sf)
	assert.Equal(t, []Status{StatusPassed, StatusSkipped}, got)
}
