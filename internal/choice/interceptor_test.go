package choice

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func batchOf(qs ...Question) Batch {
	return Batch{Questions: qs}
}

func q(header, text string) Question {
	return Question{Header: header, Question: text}
}

func intPtr(i int) *int { return &i }

func TestHandle_CaseInsensitiveSubstring(t *testing.T) {
	ic := New([]Choice{{Match: "TOPIC", Answer: Answer{"Authentication"}}}, nil)

	resp := ic.Handle(batchOf(q("Topic", "What topic should we discuss?")))

	assert.Equal(t, map[string]string{"Topic": "Authentication"}, resp.Answers)
	assert.Empty(t, ic.UnusedChoices())
}

func TestHandle_ConsumesEachChoiceOnce(t *testing.T) {
	ic := New([]Choice{
		{Match: "topic", Answer: Answer{"first"}},
		{Match: "topic", Answer: Answer{"second"}},
	}, nil)

	r1 := ic.Handle(batchOf(q("A", "Which topic?")))
	r2 := ic.Handle(batchOf(q("B", "Another topic?")))
	r3 := ic.Handle(batchOf(q("C", "Yet another topic?")))

	assert.Equal(t, "first", r1.Answers["A"])
	assert.Equal(t, "second", r2.Answers["B"])
	assert.Equal(t, "", r3.Answers["C"])
}

func TestHandle_QuestionIndexScope(t *testing.T) {
	ic := New([]Choice{
		{Match: "name", Answer: Answer{"second-slot"}, QuestionIndex: intPtr(1)},
		{Match: "name", Answer: Answer{"any-slot"}},
	}, nil)

	resp := ic.Handle(batchOf(
		q("First", "Feature name?"),
		q("Second", "Module name?"),
	))

	assert.Equal(t, "any-slot", resp.Answers["First"])
	assert.Equal(t, "second-slot", resp.Answers["Second"])
}

func TestHandle_MultiSelectJoined(t *testing.T) {
	ic := New([]Choice{{Match: "areas", Answer: Answer{"Auth", "Billing"}}}, nil)

	resp := ic.Handle(batchOf(Question{Header: "Areas", Question: "Which areas?", MultiSelect: true}))

	assert.Equal(t, "Auth, Billing", resp.Answers["Areas"])
}

func TestHandle_UnmatchedLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ic := New(nil, logger)

	resp := ic.Handle(batchOf(q("Color", "Favourite color?")))

	assert.Equal(t, "", resp.Answers["Color"])
	assert.Contains(t, buf.String(), "no scripted answer for question")
	assert.Contains(t, buf.String(), "Favourite color?")
}

func TestUnusedChoicesAndHistory(t *testing.T) {
	ic := New([]Choice{
		{Match: "topic", Answer: Answer{"auth"}},
		{Match: "never asked", Answer: Answer{"x"}},
	}, nil)

	ic.Handle(batchOf(q("T", "Topic?")))

	unused := ic.UnusedChoices()
	require.Len(t, unused, 1)
	assert.Equal(t, "never asked", unused[0].Match)

	h := ic.History()
	require.Len(t, h, 1)
	assert.Equal(t, "auth", h[0].Response.Answers["T"])

	// History returns a copy.
	h[0].Response = Response{}
	assert.Equal(t, "auth", ic.History()[0].Response.Answers["T"])
}

func TestReset(t *testing.T) {
	ic := New([]Choice{{Match: "topic", Answer: Answer{"auth"}}}, nil)
	ic.Handle(batchOf(q("T", "Topic?")))
	require.Empty(t, ic.UnusedChoices())

	ic.Reset()

	assert.Len(t, ic.UnusedChoices(), 1)
	assert.Empty(t, ic.History())
	assert.Equal(t, "auth", ic.Handle(batchOf(q("T", "Topic?"))).Answers["T"])
}

func TestAnswer_UnmarshalYAML(t *testing.T) {
	var choices []Choice
	err := yaml.Unmarshal([]byte(`
- match: topic
  answer: Authentication
- match: areas
  answer: [Auth, Billing]
  question_index: 2
`), &choices)
	require.NoError(t, err)
	require.Len(t, choices, 2)

	assert.Equal(t, Answer{"Authentication"}, choices[0].Answer)
	assert.Nil(t, choices[0].QuestionIndex)
	assert.Equal(t, Answer{"Auth", "Billing"}, choices[1].Answer)
	require.NotNil(t, choices[1].QuestionIndex)
	assert.Equal(t, 2, *choices[1].QuestionIndex)
}

func TestAnswer_UnmarshalYAMLRejectsMapping(t *testing.T) {
	var c Choice
	err := yaml.Unmarshal([]byte("match: a\nanswer: { x: y }\n"), &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer must be a string or list")
}

// For any number of identical choices n and questions m, exactly min(n, m)
// questions receive an answer and the rest are empty.
func TestConsumeOnce_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("each choice answers at most one question", prop.ForAll(
		func(n, m int) bool {
			choices := make([]Choice, n)
			for i := range choices {
				choices[i] = Choice{Match: "topic", Answer: Answer{"yes"}}
			}
			ic := New(choices, nil)

			answered := 0
			for i := 0; i < m; i++ {
				if ic.Handle(batchOf(q("H", "Which TOPIC?"))).Answers["H"] != "" {
					answered++
				}
			}
			return answered == min(n, m) && len(ic.UnusedChoices()) == n-answered
		},
		gen.IntRange(0, 8),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
