// Package choice resolves interactive agent questions to scripted answers.
//
// A scenario lists scripted choices; each one answers at most one question
// during a single execution. Matching is a case-insensitive substring test on
// the question text, optionally restricted to one sub-question position.
package choice

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// MultiSelectSeparator joins the answers of a multi-select choice.
const MultiSelectSeparator = ", "

// Choice is a scripted answer for an interactive question.
type Choice struct {
	// Match is a case-insensitive substring of the question text.
	Match string `yaml:"match" json:"match"`

	// Answer holds one answer, or several for multi-select questions.
	Answer Answer `yaml:"answer" json:"answer"`

	// QuestionIndex restricts the choice to one sub-question position.
	QuestionIndex *int `yaml:"question_index,omitempty" json:"question_index,omitempty"`
}

// Answer is a single answer or an ordered multi-select list.
type Answer []string

// String renders the answer as the agent receives it.
func (a Answer) String() string {
	return strings.Join(a, MultiSelectSeparator)
}

// UnmarshalYAML accepts either a scalar or a sequence of scalars.
func (a *Answer) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*a = Answer{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*a = Answer(list)
		return nil
	default:
		return fmt.Errorf("line %d: answer must be a string or list of strings", value.Line)
	}
}

// Option is one selectable option of a question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Question is one sub-question of an interactive prompt.
type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header"`
	Options     []Option `json:"options"`
	MultiSelect bool     `json:"multiSelect"`
}

// Batch is the input of one interactive question tool call.
type Batch struct {
	Questions []Question `json:"questions"`
}

// Response maps each sub-question header to its answer.
type Response struct {
	Answers map[string]string `json:"answers"`
}

// Exchange is one handled batch and the response given to it.
type Exchange struct {
	Batch    Batch    `json:"batch"`
	Response Response `json:"response"`
}

// Interceptor hands out scripted answers, consuming each choice once.
//
// Thread-safety: all methods are safe for concurrent use. The agent runtime
// may invoke the approval callback from a transport goroutine.
type Interceptor struct {
	mu       sync.Mutex
	choices  []Choice
	keys     []string // folded Match per choice
	consumed []bool
	history  []Exchange
	logger   *slog.Logger
}

// New creates an interceptor over choices.
// A nil logger discards warnings.
func New(choices []Choice, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	keys := make([]string, len(choices))
	for i, c := range choices {
		keys[i] = fold(c.Match)
	}
	return &Interceptor{
		choices:  append([]Choice(nil), choices...),
		keys:     keys,
		consumed: make([]bool, len(choices)),
		logger:   logger,
	}
}

// Handle answers every sub-question of batch in order.
// Unmatched sub-questions get an empty answer and a logged warning.
func (ic *Interceptor) Handle(batch Batch) Response {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	resp := Response{Answers: make(map[string]string, len(batch.Questions))}
	for i, q := range batch.Questions {
		answer, ok := ic.findAnswer(q.Question, i)
		if !ok {
			ic.logger.Warn("no scripted answer for question",
				"question", q.Question,
				"header", q.Header,
				"index", i,
			)
		}
		resp.Answers[q.Header] = answer
	}

	ic.history = append(ic.history, Exchange{Batch: batch, Response: resp})
	return resp
}

// findAnswer returns the first unconsumed choice matching the question and
// marks it consumed. Caller holds mu.
func (ic *Interceptor) findAnswer(text string, index int) (string, bool) {
	folded := fold(text)
	for i, c := range ic.choices {
		if ic.consumed[i] {
			continue
		}
		if c.QuestionIndex != nil && *c.QuestionIndex != index {
			continue
		}
		if !strings.Contains(folded, ic.keys[i]) {
			continue
		}
		ic.consumed[i] = true
		return c.Answer.String(), true
	}
	return "", false
}

// UnusedChoices returns every choice that was never consumed.
func (ic *Interceptor) UnusedChoices() []Choice {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	var unused []Choice
	for i, c := range ic.choices {
		if !ic.consumed[i] {
			unused = append(unused, c)
		}
	}
	return unused
}

// History returns a copy of every handled batch in order.
func (ic *Interceptor) History() []Exchange {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return append([]Exchange(nil), ic.history...)
}

// Reset clears consumption state and history.
func (ic *Interceptor) Reset() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for i := range ic.consumed {
		ic.consumed[i] = false
	}
	ic.history = nil
}

// fold normalizes s for case-insensitive comparison.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
