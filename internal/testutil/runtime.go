// Package testutil provides deterministic fakes for the agent runtime and
// the semantic judge, plus filesystem helpers shared across package tests.
package testutil

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/choice"
)

// Step is one scripted action of a FakeRuntime. Exactly one field is set.
type Step struct {
	Event   *agent.Event
	Approve *agent.ToolRequest
	Write   map[string]string
	Err     error
	Panic   any
	// Block waits until the query context is cancelled.
	Block bool
}

// FakeRuntime replays scripted steps as an agent.Runtime.
//
// Approval steps call the request's ApprovalFunc and record its decision.
// Write steps create files relative to the request's working directory.
//
// Thread-safety: safe for concurrent use; Query may be called repeatedly.
type FakeRuntime struct {
	Steps []Step

	mu        sync.Mutex
	requests  []agent.Request
	decisions []agent.Decision
}

// NewFakeRuntime creates a runtime over steps.
func NewFakeRuntime(steps ...Step) *FakeRuntime {
	return &FakeRuntime{Steps: steps}
}

// Query implements agent.Runtime.
func (f *FakeRuntime) Query(ctx context.Context, req agent.Request) iter.Seq2[agent.Event, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	return func(yield func(agent.Event, error) bool) {
		for _, s := range f.Steps {
			if err := ctx.Err(); err != nil {
				yield(agent.Event{}, err)
				return
			}
			switch {
			case s.Event != nil:
				if !yield(*s.Event, nil) {
					return
				}
			case s.Approve != nil:
				if req.Approve == nil {
					continue
				}
				dec, err := req.Approve(ctx, *s.Approve)
				if err != nil {
					yield(agent.Event{}, err)
					return
				}
				f.mu.Lock()
				f.decisions = append(f.decisions, dec)
				f.mu.Unlock()
			case s.Write != nil:
				for rel, content := range s.Write {
					p := filepath.Join(req.WorkDir, filepath.FromSlash(rel))
					if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
						yield(agent.Event{}, err)
						return
					}
					if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
						yield(agent.Event{}, err)
						return
					}
				}
			case s.Err != nil:
				yield(agent.Event{}, s.Err)
				return
			case s.Panic != nil:
				panic(s.Panic)
			case s.Block:
				<-ctx.Done()
				yield(agent.Event{}, ctx.Err())
				return
			}
		}
	}
}

// Requests returns every request received, in order.
func (f *FakeRuntime) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

// Decisions returns every approval decision, in order.
func (f *FakeRuntime) Decisions() []agent.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Decision(nil), f.decisions...)
}

// Say is an assistant event with text blocks.
func Say(text ...string) Step {
	return Step{Event: &agent.Event{Kind: agent.EventAssistant, Text: text}}
}

// Session is a system event.
func Session(id string) Step {
	return Step{Event: &agent.Event{Kind: agent.EventSystem, SessionID: id}}
}

// Finish is the terminal result event.
func Finish(subtype string, costUSD float64, turns int) Step {
	return Step{Event: &agent.Event{Kind: agent.EventResult, Subtype: subtype, CostUSD: costUSD, Turns: turns}}
}

// UseTool asks for approval of a tool call with a JSON-encodable input.
func UseTool(id, name string, input any) Step {
	data, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return Step{Approve: &agent.ToolRequest{ID: id, Name: name, Input: data}}
}

// Ask asks for approval of an interactive question batch.
func Ask(id string, questions ...choice.Question) Step {
	return UseTool(id, agent.AskUserQuestionTool, choice.Batch{Questions: questions})
}

// WriteFiles writes files into the working directory.
func WriteFiles(files map[string]string) Step {
	return Step{Write: files}
}

// Fail ends the stream with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Hang blocks until the query is cancelled.
func Hang() Step {
	return Step{Block: true}
}
