package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/skillcheck/internal/judge"
)

// FakeJudge is a judge.Client with canned behavior.
//
// When Verdicts is set, the reply marks criterion i passed iff Verdicts[i].
// Otherwise Reply is returned verbatim. Err, when set, fails every call.
type FakeJudge struct {
	Verdicts []bool
	Reply    string
	Err      error

	mu       sync.Mutex
	requests []judge.Request
}

// Complete implements judge.Client.
func (f *FakeJudge) Complete(_ context.Context, req judge.Request) (judge.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Err != nil {
		return judge.Response{}, f.Err
	}
	text := f.Reply
	if f.Verdicts != nil {
		text = JudgeReply(f.Verdicts...)
	}
	return judge.Response{Text: text, InputTokens: 500, OutputTokens: 100}, nil
}

// Requests returns every request received, in order.
func (f *FakeJudge) Requests() []judge.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]judge.Request(nil), f.requests...)
}

// JudgeReply renders a fenced judge reply for the given verdicts.
func JudgeReply(verdicts ...bool) string {
	type evaluation struct {
		Criterion  int     `json:"criterion"`
		Passed     bool    `json:"passed"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	evs := make([]evaluation, len(verdicts))
	for i, v := range verdicts {
		evs[i] = evaluation{Criterion: i + 1, Passed: v, Confidence: 0.9, Reason: fmt.Sprintf("criterion %d", i+1)}
	}
	data, _ := json.MarshalIndent(map[string]any{"evaluations": evs}, "", "  ")
	var b strings.Builder
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```")
	return b.String()
}
