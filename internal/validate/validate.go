// Package validate evaluates assertions against the state a scenario run
// left behind.
//
// Every assertion kind is a stateless function of its parameters and a
// Context. Validate never returns an error: a failing check, a validator
// error and a recovered panic all become a failed Result whose Message is
// the debugging surface shown in reports.
package validate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/judge"
)

// Context is everything an assertion may inspect. It is owned by one
// scenario run and must not be mutated while assertions are evaluated.
type Context struct {
	WorkDir    string
	FixtureDir string
	Output     string
	Baseline   fixture.Snapshot
	ToolCalls  []agent.ToolCall
	Questions  []agent.QuestionRecord
}

// Result is the verdict for one assertion.
type Result struct {
	Assertion   assertion.Assertion `json:"-"`
	Kind        assertion.Kind      `json:"kind"`
	Description string              `json:"description"`
	Passed      bool                `json:"passed"`
	Message     string              `json:"message"`
	Actual      any                 `json:"actual,omitempty"`
	Expected    any                 `json:"expected,omitempty"`

	// CostUSD is the judge spend of a semantic assertion.
	CostUSD float64 `json:"cost_usd,omitempty"`
}

// Validator evaluates assertions.
//
// Thread-safety: Validate is safe for concurrent use.
type Validator struct {
	evaluator *judge.Evaluator
	logger    *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithEvaluator sets the semantic judge. Without one, semantic assertions
// fail closed.
func WithEvaluator(e *judge.Evaluator) Option {
	return func(v *Validator) {
		v.evaluator = e
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(v)
	}
	if v.evaluator == nil {
		v.evaluator = judge.NewEvaluator(nil, judge.WithLogger(v.logger))
	}
	return v
}

// Validate evaluates a against vctx.
func (v *Validator) Validate(ctx context.Context, a assertion.Assertion, vctx *Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed("validator error: %v", r)
		}
		res.Assertion = a
		if a != nil {
			res.Kind = a.Kind()
			res.Description = a.Describe()
		}
		v.logger.Debug("assertion evaluated", "assertion", res.Description, "passed", res.Passed)
	}()

	var err error
	switch a := a.(type) {
	case assertion.Exists:
		res, err = checkExists(vctx, a)
	case assertion.NotExists:
		res, err = checkNotExists(vctx, a)
	case assertion.Unchanged:
		res, err = checkUnchanged(vctx, a)
	case assertion.HasFrontmatter:
		res, err = checkFrontmatter(vctx, a)
	case assertion.HasSections:
		res, err = checkSections(vctx, a)
	case assertion.ContentMatches:
		res, err = checkContentMatches(vctx, a)
	case assertion.OutputContains:
		res = checkOutputContains(vctx, a)
	case assertion.FileCount:
		res, err = checkFileCount(vctx, a)
	case assertion.Semantic:
		res, err = v.checkSemantic(ctx, vctx, a)
	case assertion.Custom:
		res = failed("custom validators not yet implemented: %s", a.Validator)
	case assertion.ToolCalled:
		res, err = checkToolCalled(vctx, a)
	case assertion.ToolCount:
		res = checkToolCount(vctx, a)
	default:
		err = fmt.Errorf("unknown assertion type %T", a)
	}
	if err != nil {
		return failed("validator error: %v", err)
	}
	return res
}

func passed(format string, args ...any) Result {
	return Result{Passed: true, Message: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) Result {
	return Result{Passed: false, Message: fmt.Sprintf(format, args...)}
}
