package judge

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema.json
var replySchemaJSON []byte

var replySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.NewCompiler().Compile(replySchemaJSON)
})

// CriterionResult is the judgement of one criterion.
type CriterionResult struct {
	Criterion  string  `json:"criterion"`
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Verdict is the scored outcome of one evaluation.
type Verdict struct {
	Passed    bool              `json:"passed"`
	PassRate  float64           `json:"pass_rate"`
	Threshold float64           `json:"threshold"`
	Criteria  []CriterionResult `json:"criteria"`
	CostUSD   float64           `json:"cost_usd"`
	Model     string            `json:"model"`

	// Err is set when the judge call or reply parsing failed. Every
	// criterion is then failed.
	Err error `json:"-"`
}

// PassedCount returns the number of passed criteria.
func (v Verdict) PassedCount() int {
	n := 0
	for _, c := range v.Criteria {
		if c.Passed {
			n++
		}
	}
	return n
}

// Evaluator scores content against criteria with one judge call.
//
// Thread-safety: safe for concurrent use if the Client is.
type Evaluator struct {
	client    Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithModel sets the default judge model. Default: DefaultModel.
func WithModel(m string) EvaluatorOption {
	return func(e *Evaluator) {
		if m != "" {
			e.model = m
		}
	}
}

// WithMaxTokens bounds the judge reply. Default: DefaultMaxTokens.
func WithMaxTokens(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// NewEvaluator creates an Evaluator over client.
func NewEvaluator(client Client, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate judges content against criteria and passes iff the fraction of
// passed criteria is at least threshold. model overrides the default when
// non-empty. Evaluate never returns an error: failures are folded into the
// Verdict and fail every criterion.
func (e *Evaluator) Evaluate(ctx context.Context, model, content string, criteria []string, threshold float64) Verdict {
	if model == "" {
		model = e.model
	}
	v := Verdict{Threshold: threshold, Model: model}
	if len(criteria) == 0 {
		v.Err = errors.New("no criteria")
		return v
	}
	if e.client == nil {
		return v.failAll(criteria, errors.New("no judge client configured"))
	}

	e.logger.Debug("judging", "model", model, "criteria", len(criteria))
	resp, err := e.client.Complete(ctx, Request{
		Model:       model,
		Prompt:      BuildPrompt(content, criteria),
		Temperature: 0,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return v.failAll(criteria, fmt.Errorf("judge call failed: %w", err))
	}
	v.CostUSD = Cost(model, resp.InputTokens, resp.OutputTokens)

	results, err := ParseReply(resp.Text, criteria)
	if err != nil {
		return v.failAll(criteria, err)
	}
	v.Criteria = results
	v.PassRate = float64(v.PassedCount()) / float64(len(criteria))
	v.Passed = v.PassRate >= threshold

	e.logger.Debug("judged",
		"passed", v.PassedCount(),
		"total", len(criteria),
		"cost_usd", v.CostUSD,
	)
	return v
}

func (v Verdict) failAll(criteria []string, err error) Verdict {
	v.Err = err
	v.Passed = false
	v.PassRate = 0
	v.Criteria = make([]CriterionResult, len(criteria))
	for i, c := range criteria {
		v.Criteria[i] = CriterionResult{Criterion: c, Reason: err.Error()}
	}
	return v
}

// BuildPrompt renders the judging prompt for content and numbered criteria.
func BuildPrompt(content string, criteria []string) string {
	var b strings.Builder
	b.WriteString("You are a strict evaluator assessing content against specific criteria. Be objective and consistent.\n\n")
	b.WriteString("<content>\n")
	b.WriteString(content)
	b.WriteString("\n</content>\n\n<criteria>\n")
	for i, c := range criteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("</criteria>\n\n")
	b.WriteString(`For each criterion, evaluate whether the content satisfies it. Be strict but fair.

Respond with a JSON object in this exact format:
{
  "evaluations": [
    {
      "criterion": 1,
      "passed": true,
      "confidence": 0.95,
      "reason": "Brief explanation of why this passes or fails"
    }
  ]
}

Important:
- Include one evaluation per criterion, numbered as above
- "passed" should be true only if the content clearly satisfies the criterion
- "confidence" should be 0.0-1.0 indicating how certain you are
- "reason" should be 1-2 sentences max
- Evaluate each criterion independently
- Do not be lenient: if something is missing or unclear, mark it as failed`)
	return b.String()
}

type reply struct {
	Evaluations []struct {
		Criterion  int     `json:"criterion"`
		Passed     bool    `json:"passed"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"evaluations"`
}

// ParseReply extracts the evaluations object from a judge reply and maps
// it onto criteria by 1-based number. Criteria without an evaluation fail.
func ParseReply(text string, criteria []string) ([]CriterionResult, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}

	schema, err := replySchema()
	if err != nil {
		return nil, fmt.Errorf("compile reply schema: %w", err)
	}
	if res := schema.ValidateJSON(raw); !res.IsValid() {
		return nil, fmt.Errorf("judge reply does not match schema: %v", res.Errors)
	}

	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse judge reply: %w", err)
	}

	out := make([]CriterionResult, len(criteria))
	for i, c := range criteria {
		out[i] = CriterionResult{Criterion: c, Reason: "No evaluation returned"}
		for _, ev := range r.Evaluations {
			if ev.Criterion == i+1 {
				out[i] = CriterionResult{
					Criterion:  c,
					Passed:     ev.Passed,
					Confidence: ev.Confidence,
					Reason:     ev.Reason,
				}
				break
			}
		}
	}
	return out, nil
}

// ExtractObject returns the first balanced top-level JSON object in text,
// skipping any surrounding prose or markdown fences.
func ExtractObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, errors.New("no JSON object in judge reply")
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, errors.New("unterminated JSON object in judge reply")
}
