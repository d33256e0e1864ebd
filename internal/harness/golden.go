package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden runs a scenario file and compares its text report against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Reports embed durations, so the runner should use a deterministic clock
// (see WithClock).
func RunWithGolden(t *testing.T, r *Runner, sf *ScenarioFile, name string) SuiteResult {
	t.Helper()

	suite := r.RunFile(context.Background(), sf)
	AssertGolden(t, name, []SuiteResult{suite}, true)
	return suite
}

// AssertGolden compares the verbose or plain text report of suites against
// a golden file without re-running anything.
func AssertGolden(t *testing.T, name string, suites []SuiteResult, verbose bool) {
	t.Helper()

	var buf bytes.Buffer
	WriteText(&buf, suites, verbose)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
}

// AssertJSONGolden compares the canonical JSON report of suites against a
// golden file.
func AssertJSONGolden(t *testing.T, name string, suites []SuiteResult) error {
	t.Helper()

	data, err := MarshalReport(suites)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
