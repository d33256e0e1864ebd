package journal

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/fixture"
)

// canonicalJSON marshals v to RFC 8785 canonical JSON TEXT for storage.
func canonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return canonicalize(data)
}

func canonicalize(data []byte) (string, error) {
	out, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return string(out), nil
}

// unmarshalColumn parses a JSON column into v. Empty columns leave v unset.
func unmarshalColumn(column, data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", column, err)
	}
	return nil
}

func toolCall(id, tool, input string, intercepted, approved bool) agent.ToolCall {
	return agent.ToolCall{
		ID:          id,
		Tool:        tool,
		Input:       json.RawMessage(input),
		Intercepted: intercepted,
		Approved:    approved,
	}
}

func questionRecord(questions, answers string) (agent.QuestionRecord, error) {
	var q agent.QuestionRecord
	if err := unmarshalColumn("questions", questions, &q.Questions); err != nil {
		return q, err
	}
	if err := unmarshalColumn("answers", answers, &q.Answers); err != nil {
		return q, err
	}
	return q, nil
}

func fileEvent(path, op string) fixture.Event {
	return fixture.Event{Path: path, Op: op}
}
