package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/skillcheck/internal/choice"
)

var errTimeout = errors.New(ErrTimeoutMessage)

// Executor drives the agent on one command in the configured working
// directory.
type Executor struct {
	runtime Runtime
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutor creates an Executor. Zero fields of cfg take DefaultConfig
// values. A nil logger discards.
func NewExecutor(rt Runtime, cfg Config, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.MaxBudgetUSD <= 0 {
		cfg.MaxBudgetUSD = def.MaxBudgetUSD
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = def.PermissionMode
	}
	if cfg.SettingSources == nil {
		cfg.SettingSources = def.SettingSources
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{runtime: rt, cfg: cfg, logger: logger, now: time.Now}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// outcome is what the stream goroutine reports.
type outcome struct {
	status  string
	costUSD float64
	turns   int
	err     error
}

// Execute runs command with one fresh interceptor over choices.
//
// The stream is raced against the configured timeout. On timeout the
// in-flight stream is cancelled and abandoned; output and tool calls
// captured so far are kept. Stream errors and panics become a failed
// Result carrying the message.
func (e *Executor) Execute(ctx context.Context, command string, choices []choice.Choice) *Result {
	start := e.now()
	ic := choice.New(choices, e.logger)
	rec := &recorder{ids: make(map[string]int)}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent runtime panic: %v", r)}
			}
		}()
		done <- e.stream(runCtx, command, ic, rec)
	}()

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-timer.C:
		cancel()
		out = outcome{err: errTimeout}
		e.logger.Warn("agent execution timed out", "timeout", e.cfg.Timeout, "dir", e.cfg.WorkDir)
	case <-ctx.Done():
		cancel()
		out = outcome{err: ctx.Err()}
	}

	res := rec.snapshot()
	res.Duration = e.now().Sub(start)
	res.UnusedChoices = ic.UnusedChoices()

	if out.err != nil {
		res.Success = false
		res.Error = out.err.Error()
		res.Status = StatusError
	} else {
		res.Status = out.status
		res.CostUSD = out.costUSD
		res.Turns = out.turns
		res.Success = out.status == StatusSuccess || out.status == StatusCompleted
	}

	if len(res.UnusedChoices) > 0 {
		matches := make([]string, len(res.UnusedChoices))
		for i, c := range res.UnusedChoices {
			matches[i] = c.Match
		}
		e.logger.Warn("unused scripted choices", "matches", strings.Join(matches, ", "))
	}
	e.logger.Debug("agent execution finished",
		"status", res.Status,
		"turns", res.Turns,
		"cost_usd", res.CostUSD,
		"tool_calls", len(res.ToolCalls),
	)
	return res
}

// stream consumes the runtime sequence to its end or its result event.
func (e *Executor) stream(ctx context.Context, command string, ic *choice.Interceptor, rec *recorder) outcome {
	req := Request{
		Prompt:         command,
		WorkDir:        e.cfg.WorkDir,
		Model:          e.cfg.Model,
		MaxTurns:       e.cfg.MaxTurns,
		MaxBudgetUSD:   e.cfg.MaxBudgetUSD,
		PermissionMode: e.cfg.PermissionMode,
		SettingSources: e.cfg.SettingSources,
		Approve:        e.approver(ic, rec),
	}

	out := outcome{status: StatusUnknown}
	for ev, err := range e.runtime.Query(ctx, req) {
		if err != nil {
			return outcome{err: err}
		}
		switch ev.Kind {
		case EventAssistant:
			rec.assistant(ev)
			for _, t := range ev.Text {
				e.logger.Debug("assistant", "text", truncate(t, 100))
			}
		case EventSystem:
			rec.session(ev.SessionID)
			e.logger.Debug("system", "session_id", ev.SessionID)
		case EventResult:
			out.status = ev.Subtype
			if out.status == "" {
				out.status = StatusCompleted
			}
			out.costUSD = ev.CostUSD
			out.turns = ev.Turns
			return out
		}
	}
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}
	return out
}

// approver builds the tool-approval hook. Interactive questions get scripted
// answers substituted into their input; every other tool is approved as is.
func (e *Executor) approver(ic *choice.Interceptor, rec *recorder) ApprovalFunc {
	return func(ctx context.Context, req ToolRequest) (Decision, error) {
		e.logger.Debug("tool call", "tool", req.Name, "id", req.ID)

		if req.Name != AskUserQuestionTool {
			rec.intercepted(ToolCall{ID: req.ID, Tool: req.Name, Input: req.Input})
			return Decision{Allow: true, UpdatedInput: req.Input}, nil
		}

		// The original questions are passed back verbatim.
		var raw struct {
			Questions json.RawMessage `json:"questions"`
		}
		var batch choice.Batch
		if json.Unmarshal(req.Input, &raw) == nil && raw.Questions != nil {
			// A malformed batch is answered as empty.
			_ = json.Unmarshal(raw.Questions, &batch.Questions)
		}
		if raw.Questions == nil {
			raw.Questions = json.RawMessage("[]")
		}

		resp := ic.Handle(batch)
		rec.question(QuestionRecord{Questions: batch.Questions, Answers: resp.Answers})
		rec.intercepted(ToolCall{ID: req.ID, Tool: req.Name, Input: req.Input, Output: resp})

		updated, err := json.Marshal(struct {
			Questions json.RawMessage   `json:"questions"`
			Answers   map[string]string `json:"answers"`
		}{raw.Questions, resp.Answers})
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allow: true, UpdatedInput: updated}, nil
	}
}

// recorder accumulates everything observed during one execution. The
// approval hook may call it from a transport goroutine, and a timed-out
// stream may keep calling it after the snapshot.
type recorder struct {
	mu        sync.Mutex
	output    []string
	toolCalls []ToolCall
	ids       map[string]int // tool use id -> index into toolCalls
	questions []QuestionRecord
	sessionID string
}

func (r *recorder) assistant(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, ev.Text...)
	for _, tu := range ev.ToolUses {
		if tu.ID != "" {
			if _, seen := r.ids[tu.ID]; seen {
				continue
			}
			r.ids[tu.ID] = len(r.toolCalls)
		}
		r.toolCalls = append(r.toolCalls, ToolCall{ID: tu.ID, Tool: tu.Name, Input: tu.Input, Approved: true})
	}
}

func (r *recorder) intercepted(tc ToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc.Intercepted = true
	tc.Approved = true
	if tc.ID != "" {
		if i, seen := r.ids[tc.ID]; seen {
			r.toolCalls[i] = tc
			return
		}
		r.ids[tc.ID] = len(r.toolCalls)
	}
	r.toolCalls = append(r.toolCalls, tc)
}

func (r *recorder) question(q QuestionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questions = append(r.questions, q)
}

func (r *recorder) session(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		r.sessionID = id
	}
}

func (r *recorder) snapshot() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Output:    strings.Join(r.output, "\n"),
		ToolCalls: append([]ToolCall{}, r.toolCalls...),
		Questions: append([]QuestionRecord{}, r.questions...),
		SessionID: r.sessionID,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
