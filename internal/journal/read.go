package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned when no run matches an ID or prefix.
var ErrRunNotFound = errors.New("run not found")

// ListOptions filters ListRuns.
type ListOptions struct {
	// Scenario restricts results to one scenario name.
	Scenario string
	// Limit keeps only the most recent runs. Zero means no limit.
	Limit int
}

const runColumns = `id, seq, file, scenario, fixture, command, attempt, status, error, output,
	cost_usd, turns, duration_ms, session_id, started_at, changes, agent_status, agent_success`

// ListRuns returns run headers ordered by seq ascending. Trace slices are
// left nil; use ReadRun for a full record.
func (j *Journal) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, opts.Scenario)
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Newest-first was only for LIMIT.
	for i, k := 0, len(runs)-1; i < k; i, k = i+1, k-1 {
		runs[i], runs[k] = runs[k], runs[i]
	}
	return runs, nil
}

// ReadRun returns the run whose ID equals or uniquely starts with idOrPrefix,
// with its full trace.
func (j *Journal) ReadRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	if strings.TrimSpace(idOrPrefix) == "" {
		return nil, ErrRunNotFound
	}
	rows, err := j.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE id = ? OR substr(id, 1, ?) = ?
		ORDER BY seq ASC LIMIT 2`,
		idOrPrefix, len(idOrPrefix), idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	var matches []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		matches = append(matches, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run: %w", err)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	}
	run := matches[0]
	if len(matches) > 1 {
		if matches[1].ID == idOrPrefix {
			run = matches[1]
		} else if run.ID != idOrPrefix {
			return nil, fmt.Errorf("run prefix %q is ambiguous", idOrPrefix)
		}
	}

	if err := j.readToolCalls(ctx, &run); err != nil {
		return nil, err
	}
	if err := j.readQuestions(ctx, &run); err != nil {
		return nil, err
	}
	if err := j.readAssertions(ctx, &run); err != nil {
		return nil, err
	}
	if err := j.readEvents(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var durationMS int64
	var startedAt, changes string
	if err := s.Scan(
		&r.ID, &r.Seq, &r.File, &r.Scenario, &r.Fixture, &r.Command, &r.Attempt,
		&r.Status, &r.Error, &r.Output, &r.CostUSD, &r.Turns, &durationMS,
		&r.SessionID, &startedAt, &changes, &r.AgentStatus, &r.AgentSuccess,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = t
	if err := unmarshalColumn("changes", changes, &r.Changes); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (j *Journal) readToolCalls(ctx context.Context, run *Run) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT tool_use_id, tool, input, output, intercepted, approved
		FROM tool_calls WHERE run_id = ? ORDER BY seq ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, tool, input, output string
		var intercepted, approved bool
		if err := rows.Scan(&id, &tool, &input, &output, &intercepted, &approved); err != nil {
			return fmt.Errorf("scan tool call: %w", err)
		}
		tc := toolCall(id, tool, input, intercepted, approved)
		if err := unmarshalColumn("tool output", output, &tc.Output); err != nil {
			return err
		}
		run.ToolCalls = append(run.ToolCalls, tc)
	}
	return rows.Err()
}

func (j *Journal) readQuestions(ctx context.Context, run *Run) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT questions, answers FROM questions WHERE run_id = ? ORDER BY seq ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var questions, answers string
		if err := rows.Scan(&questions, &answers); err != nil {
			return fmt.Errorf("scan question: %w", err)
		}
		q, err := questionRecord(questions, answers)
		if err != nil {
			return err
		}
		run.Questions = append(run.Questions, q)
	}
	return rows.Err()
}

func (j *Journal) readAssertions(ctx context.Context, run *Run) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, description, passed, message, cost_usd
		FROM assertion_results WHERE run_id = ? ORDER BY seq ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query assertion results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a AssertionRecord
		if err := rows.Scan(&a.Kind, &a.Description, &a.Passed, &a.Message, &a.CostUSD); err != nil {
			return fmt.Errorf("scan assertion result: %w", err)
		}
		run.Assertions = append(run.Assertions, a)
	}
	return rows.Err()
}

func (j *Journal) readEvents(ctx context.Context, run *Run) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT path, op FROM file_events WHERE run_id = ? ORDER BY seq ASC
	`, run.ID)
	if err != nil {
		return fmt.Errorf("query file events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, op string
		if err := rows.Scan(&path, &op); err != nil {
			return fmt.Errorf("scan file event: %w", err)
		}
		run.Events = append(run.Events, fileEvent(path, op))
	}
	return rows.Err()
}

// IsNotFound reports whether err means no run matched.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, sql.ErrNoRows)
}
