package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/skillcheck/internal/agent"
	"github.com/roach88/skillcheck/internal/fixture"
)

// Run is one journaled scenario attempt.
type Run struct {
	ID        string        `json:"id"`
	Seq       int64         `json:"seq"`
	File      string        `json:"file"`
	Scenario  string        `json:"scenario"`
	Fixture   string        `json:"fixture"`
	Command   string        `json:"command"`
	Attempt   int           `json:"attempt"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Output    string        `json:"output,omitempty"`

	// AgentStatus is the agent's terminal status string, empty when the
	// agent never ran.
	AgentStatus  string `json:"agent_status,omitempty"`
	AgentSuccess bool   `json:"agent_success"`

	CostUSD   float64       `json:"cost_usd"`
	Turns     int           `json:"turns"`
	Duration  time.Duration `json:"duration_ns"`
	SessionID string        `json:"session_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Changes   fixture.Diff  `json:"changes"`

	ToolCalls  []agent.ToolCall       `json:"tool_calls"`
	Questions  []agent.QuestionRecord `json:"questions"`
	Assertions []AssertionRecord      `json:"assertions"`
	Events     []fixture.Event        `json:"file_events"`
}

// AssertionRecord is the journaled form of one assertion verdict.
type AssertionRecord struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Passed      bool    `json:"passed"`
	Message     string  `json:"message"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
}

// WriteRun inserts a run and its trace in one transaction and returns the
// run's journal sequence number. An empty run.ID is replaced with a new one.
func (j *Journal) WriteRun(ctx context.Context, run *Run) (int64, error) {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	changes, err := canonicalJSON(run.Changes)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, file, scenario, fixture, command, attempt, status, error, output,
		 cost_usd, turns, duration_ms, session_id, started_at, changes,
		 agent_status, agent_success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, seq, run.File, run.Scenario, run.Fixture, run.Command,
		max(run.Attempt, 1), run.Status, run.Error, run.Output,
		run.CostUSD, run.Turns, run.Duration.Milliseconds(), run.SessionID,
		run.StartedAt.UTC().Format(time.RFC3339Nano), changes,
		run.AgentStatus, run.AgentSuccess,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	for i, tc := range run.ToolCalls {
		input, err := canonicalRaw(tc.Input)
		if err != nil {
			return 0, fmt.Errorf("write tool call %d: %w", i, err)
		}
		output, err := canonicalJSON(tc.Output)
		if err != nil {
			return 0, fmt.Errorf("write tool call %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (run_id, seq, tool_use_id, tool, input, output, intercepted, approved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, tc.ID, tc.Tool, input, output, tc.Intercepted, tc.Approved); err != nil {
			return 0, fmt.Errorf("write tool call %d: %w", i, err)
		}
	}

	for i, q := range run.Questions {
		questions, err := canonicalJSON(q.Questions)
		if err != nil {
			return 0, fmt.Errorf("write question %d: %w", i, err)
		}
		answers, err := canonicalJSON(q.Answers)
		if err != nil {
			return 0, fmt.Errorf("write question %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (run_id, seq, questions, answers) VALUES (?, ?, ?, ?)
		`, run.ID, i, questions, answers); err != nil {
			return 0, fmt.Errorf("write question %d: %w", i, err)
		}
	}

	for i, a := range run.Assertions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assertion_results (run_id, seq, kind, description, passed, message, cost_usd)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, a.Kind, a.Description, a.Passed, a.Message, a.CostUSD); err != nil {
			return 0, fmt.Errorf("write assertion %d: %w", i, err)
		}
	}

	for i, ev := range run.Events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_events (run_id, seq, path, op) VALUES (?, ?, ?, ?)
		`, run.ID, i, ev.Path, ev.Op); err != nil {
			return 0, fmt.Errorf("write file event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	run.Seq = seq
	return seq, nil
}

// canonicalRaw canonicalizes already-encoded JSON. Empty input is stored
// as an empty object.
func canonicalRaw(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	return canonicalize(raw)
}
