package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultClaudeBin is the agent CLI looked up on PATH.
const DefaultClaudeBin = "claude"

// maxLineSize bounds one stream-json line.
const maxLineSize = 16 * 1024 * 1024

// DefaultWaitDelay bounds how long Wait lingers on a cancelled or exited
// CLI whose descendants still hold its output pipes.
const DefaultWaitDelay = 5 * time.Second

// ClaudeCLI is a Runtime that runs the claude CLI in print mode with
// stream-json output. Tool approvals are served to the CLI through an
// in-process ApprovalBridge.
type ClaudeCLI struct {
	bin       string
	env       []string
	waitDelay time.Duration
	logger    *slog.Logger
}

// ClaudeOption configures a ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(kv ...string) ClaudeOption {
	return func(c *ClaudeCLI) {
		c.env = append(c.env, kv...)
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) {
		c.waitDelay = d
	}
}

// WithClaudeLogger sets the logger. Default discards.
func WithClaudeLogger(l *slog.Logger) ClaudeOption {
	return func(c *ClaudeCLI) {
		c.logger = l
	}
}

// NewClaudeCLI creates a runtime for the binary at bin (DefaultClaudeBin
// when empty).
func NewClaudeCLI(bin string, opts ...ClaudeOption) *ClaudeCLI {
	if bin == "" {
		bin = DefaultClaudeBin
	}
	c := &ClaudeCLI{
		bin:       bin,
		waitDelay: DefaultWaitDelay,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Args returns the CLI arguments for req. mcpConfig is empty when no
// approval bridge is running.
func (c *ClaudeCLI) Args(req Request, mcpConfig string) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", string(req.PermissionMode))
	}
	if len(req.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(req.SettingSources, ","))
	}
	if req.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(req.MaxBudgetUSD, 'f', -1, 64))
	}
	if mcpConfig != "" {
		args = append(args,
			"--mcp-config", mcpConfig,
			"--permission-prompt-tool", PermissionPromptTool,
		)
	}
	return args
}

// Query implements Runtime.
func (c *ClaudeCLI) Query(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var mcpConfig string
		if req.Approve != nil {
			bridge, err := StartApprovalBridge(req.Approve, c.logger)
			if err != nil {
				yield(Event{}, err)
				return
			}
			defer bridge.Close()
			mcpConfig = bridge.MCPConfig()
		}

		cmd := exec.CommandContext(ctx, c.bin, c.Args(req, mcpConfig)...)
		cmd.Dir = req.WorkDir
		cmd.Env = append(os.Environ(), c.env...)
		cmd.WaitDelay = c.waitDelay
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(Event{}, fmt.Errorf("claude stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(Event{}, fmt.Errorf("start %s: %w", c.bin, err))
			return
		}
		c.logger.Debug("claude started", "pid", cmd.Process.Pid, "dir", req.WorkDir)

		sawResult := false
		stopped := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			ev, ok, err := ParseStreamLine(scanner.Bytes())
			if err != nil {
				c.logger.Debug("skipping stream line", "error", err)
				continue
			}
			if !ok {
				continue
			}
			if ev.Kind == EventResult {
				sawResult = true
			}
			if !yield(ev, nil) {
				stopped = true
				break
			}
		}
		scanErr := scanner.Err()

		if stopped {
			cancel()
			_, _ = io.Copy(io.Discard, stdout)
			_ = cmd.Wait()
			return
		}
		waitErr := cmd.Wait()

		switch {
		case ctx.Err() != nil:
			yield(Event{}, ctx.Err())
		case scanErr != nil:
			yield(Event{}, fmt.Errorf("read claude output: %w", scanErr))
		case waitErr != nil && !sawResult:
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = waitErr.Error()
			}
			yield(Event{}, fmt.Errorf("claude exited: %s", msg))
		}
	}
}

// streamLine is the union of stream-json message shapes.
type streamLine struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	NumTurns  int     `json:"num_turns"`
	Message   *struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// ParseStreamLine decodes one stream-json line. ok is false for blank lines
// and message types that carry nothing the executor uses.
func ParseStreamLine(line []byte) (ev Event, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false, nil
	}
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return Event{}, false, err
	}

	switch sl.Type {
	case "assistant":
		ev = Event{Kind: EventAssistant}
		if sl.Message != nil {
			for _, block := range sl.Message.Content {
				switch block.Type {
				case "text":
					ev.Text = append(ev.Text, block.Text)
				case "tool_use":
					ev.ToolUses = append(ev.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
				}
			}
		}
		return ev, true, nil
	case "system":
		return Event{Kind: EventSystem, SessionID: sl.SessionID, Subtype: sl.Subtype}, true, nil
	case "result":
		return Event{
			Kind:      EventResult,
			Subtype:   sl.Subtype,
			SessionID: sl.SessionID,
			CostUSD:   sl.CostUSD,
			Turns:     sl.NumTurns,
		}, true, nil
	case "":
		return Event{}, false, errors.New("stream line without type")
	default:
		return Event{}, false, nil
	}
}
