package validate

import (
	"encoding/json"

	"github.com/roach88/skillcheck/internal/assertion"
)

// checkToolCalled passes when some recorded call to a.Tool has an input
// containing every key of a.Input with an equal value. Extra keys are
// ignored.
func checkToolCalled(vctx *Context, a assertion.ToolCalled) (Result, error) {
	calls := 0
	for _, tc := range vctx.ToolCalls {
		if tc.Tool != a.Tool {
			continue
		}
		calls++
		var input map[string]any
		if len(tc.Input) > 0 {
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				continue
			}
		}
		if matchArgs(input, a.Input) {
			return passed("%s called", a.Tool), nil
		}
	}

	if calls == 0 {
		return failed("%s was never called", a.Tool), nil
	}
	res := failed("%s called %d time%s, none with input %v", a.Tool, calls, plural(calls, "s"), a.Input)
	res.Expected = a.Input
	return res, nil
}

func checkToolCount(vctx *Context, a assertion.ToolCount) Result {
	n := 0
	for _, tc := range vctx.ToolCalls {
		if tc.Tool == a.Tool {
			n++
		}
	}
	want := assertion.DescribeBounds(a.Count, a.Min, a.Max)
	var res Result
	if assertion.Bounds(n, a.Count, a.Min, a.Max) {
		res = passed("%s called %d time%s (%s)", a.Tool, n, plural(n, "s"), want)
	} else {
		res = failed("%s called %d time%s, expected %s", a.Tool, n, plural(n, "s"), want)
	}
	res.Actual = n
	res.Expected = want
	return res
}

// matchArgs checks if actual contains all expected keys (subset match).
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}
