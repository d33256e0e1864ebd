// Package agent drives one invocation of an interactive, tool-using agent
// and records everything it does.
//
// The agent itself is a black box behind Runtime: a prompt goes in, an
// ordered stream of events comes out, and every tool invocation the runtime
// wants permission for is routed through an ApprovalFunc. Executor wires a
// choice.Interceptor into that hook so interactive questions receive
// scripted answers, races the stream against a timeout, and folds the
// outcome into a Result. Executor never returns an error.
package agent

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/roach88/skillcheck/internal/choice"
)

// AskUserQuestionTool is the interactive question tool routed to the
// choice interceptor.
const AskUserQuestionTool = "AskUserQuestion"

// ErrTimeoutMessage is the Result.Error of a run that exceeded its timeout.
const ErrTimeoutMessage = "Execution timeout"

// Terminal statuses.
const (
	StatusSuccess   = "success"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusUnknown   = "unknown"
)

// PermissionMode controls how freely the runtime applies edits without
// asking the approval hook.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

// EventKind tags a runtime event.
type EventKind string

const (
	EventAssistant EventKind = "assistant"
	EventSystem    EventKind = "system"
	EventResult    EventKind = "result"
)

// ToolUse is a tool invocation announced in an assistant message.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Event is one item of the runtime stream.
//
// Assistant events carry Text blocks and ToolUses, system events carry
// SessionID, and the terminal result event carries Subtype, CostUSD and
// Turns.
type Event struct {
	Kind      EventKind
	Text      []string
	ToolUses  []ToolUse
	SessionID string
	Subtype   string
	CostUSD   float64
	Turns     int
}

// ToolRequest is a tool invocation awaiting approval.
type ToolRequest struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Decision answers a ToolRequest. UpdatedInput replaces the tool input
// when set.
type Decision struct {
	Allow        bool
	UpdatedInput json.RawMessage
	Message      string
}

// ApprovalFunc is invoked synchronously at each tool-call boundary.
// It must not block indefinitely.
type ApprovalFunc func(ctx context.Context, req ToolRequest) (Decision, error)

// Request is one agent invocation.
type Request struct {
	Prompt         string
	WorkDir        string
	Model          string
	MaxTurns       int
	MaxBudgetUSD   float64
	PermissionMode PermissionMode
	SettingSources []string
	Approve        ApprovalFunc
}

// Runtime runs the agent. The returned sequence yields events in emission
// order; a non-nil error ends the stream. Implementations must stop work
// when ctx is cancelled or the consumer stops iterating.
type Runtime interface {
	Query(ctx context.Context, req Request) iter.Seq2[Event, error]
}

// ToolCall is one recorded tool invocation.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
	// Output holds the scripted response for interactive questions.
	Output any `json:"output,omitempty"`
	// Intercepted is true when the call passed through the approval hook.
	Intercepted bool `json:"intercepted"`
	Approved    bool `json:"approved"`
}

// QuestionRecord is one interactive question batch and its answers.
type QuestionRecord struct {
	Questions []choice.Question `json:"questions"`
	Answers   map[string]string `json:"answers"`
}

// Config is passed to every agent invocation.
type Config struct {
	WorkDir        string
	Model          string
	MaxTurns       int
	MaxBudgetUSD   float64
	PermissionMode PermissionMode
	SettingSources []string
	Timeout        time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "claude-opus-4-5",
		MaxTurns:       50,
		MaxBudgetUSD:   1.0,
		PermissionMode: PermissionAcceptEdits,
		SettingSources: []string{"project"},
		Timeout:        120 * time.Second,
	}
}

// Result is the immutable outcome of one Execute call.
type Result struct {
	Output        string           `json:"output"`
	Success       bool             `json:"success"`
	Error         string           `json:"error,omitempty"`
	CostUSD       float64          `json:"cost_usd"`
	Turns         int              `json:"turns"`
	ToolCalls     []ToolCall       `json:"tool_calls"`
	Questions     []QuestionRecord `json:"questions"`
	Status        string           `json:"status"`
	SessionID     string           `json:"session_id,omitempty"`
	UnusedChoices []choice.Choice  `json:"unused_choices,omitempty"`
	Duration      time.Duration    `json:"duration"`
}

// CountTool returns the number of recorded calls to tool.
func (r *Result) CountTool(tool string) int {
	n := 0
	for _, c := range r.ToolCalls {
		if c.Tool == tool {
			n++
		}
	}
	return n
}
