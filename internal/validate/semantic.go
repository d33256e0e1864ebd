package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/judge"
)

func (v *Validator) checkSemantic(ctx context.Context, vctx *Context, a assertion.Semantic) (Result, error) {
	content := vctx.Output
	target := "output"
	if a.Path != "" {
		c, ok, err := readTarget(vctx, a.Path)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return failed("file not found: %s", a.Path), nil
		}
		content, target = c, a.Path
	}

	threshold := a.EffectiveThreshold()
	verdict := v.evaluator.Evaluate(ctx, a.JudgeModel, content, a.Criteria, threshold)

	var res Result
	switch {
	case verdict.Err != nil:
		res = failed("semantic judge failed for %s: %v", target, verdict.Err)
	case verdict.Passed:
		res = passed("%d/%d criteria passed for %s (%.2f >= %.2f)",
			verdict.PassedCount(), len(a.Criteria), target, verdict.PassRate, threshold)
	default:
		res = failed("%d/%d criteria passed for %s (%.2f < %.2f)%s",
			verdict.PassedCount(), len(a.Criteria), target, verdict.PassRate, threshold, failedReasons(verdict.Criteria))
	}
	res.Actual = verdict.Criteria
	res.Expected = fmt.Sprintf("pass rate >= %.2f", threshold)
	res.CostUSD = verdict.CostUSD
	return res, nil
}

// failedReasons lists the judge's reasons for failed criteria.
func failedReasons(results []judge.CriterionResult) string {
	var b strings.Builder
	for _, r := range results {
		if !r.Passed {
			fmt.Fprintf(&b, "\n  - %s: %s", r.Criterion, r.Reason)
		}
	}
	return b.String()
}
