package store

import (
	"context"
	"fmt"
)

// ToolCall is one invocation of a Core Tool within a Turn, recorded
// alongside its policy decision and result for audit.
type ToolCall struct {
	ID         string  `db:"id"`
	TurnID     string  `db:"turn_id"`
	Ordinal    int     `db:"ordinal"`
	ToolName   string  `db:"tool_name"`
	Arguments  string  `db:"arguments"`
	ResultText *string `db:"result_text"`
	Error      *string `db:"error"`
	DurationMs int64   `db:"duration_ms"`
	CreatedAt  string  `db:"created_at"`
	// ExternalID is the call id assigned by the inference collaborator that
	// requested this call, kept distinct from the row's own primary key so
	// a downstream reader can align a recorded result back to the exact
	// tool_use block that produced it.
	ExternalID *string `db:"external_id"`
}

// InsertToolCall records a tool invocation as part of the enclosing turn's
// atomic transaction.
func (tx *Tx) InsertToolCall(ctx context.Context, tc ToolCall) (ToolCall, error) {
	tc.ID = tx.ids.New()
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO tool_calls (id, turn_id, ordinal, tool_name, arguments, result_text, error, duration_ms, external_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		tc.ID, tc.TurnID, tc.Ordinal, tc.ToolName, tc.Arguments, tc.ResultText, tc.Error, tc.DurationMs, tc.ExternalID)
	if err != nil {
		return ToolCall{}, fmt.Errorf("store: insert tool_call: %w", err)
	}
	var out ToolCall
	if err := tx.tx.GetContext(ctx, &out, `SELECT * FROM tool_calls WHERE id = ?`, tc.ID); err != nil {
		return ToolCall{}, fmt.Errorf("store: reload tool_call: %w", err)
	}
	return out, nil
}

// ToolCallsForTurn returns every tool call recorded for turnID in
// invocation order. Used by loop detection to compare the last N turns'
// tool-name sets.
func (s *Store) ToolCallsForTurn(ctx context.Context, turnID string) ([]ToolCall, error) {
	var calls []ToolCall
	err := s.db.SelectContext(ctx, &calls,
		`SELECT * FROM tool_calls WHERE turn_id = ? ORDER BY ordinal ASC`, turnID)
	if err != nil {
		return nil, fmt.Errorf("store: tool_calls for turn: %w", err)
	}
	return calls, nil
}

// ConsecutiveToolErrorCount returns how many of the most recent tool calls
// (across all turns) ended in error, stopping at the first success. Used to
// drive the agent loop's consecutive-error threshold.
func (s *Store) ConsecutiveToolErrorCount(ctx context.Context, lookback int) (int, error) {
	var calls []ToolCall
	err := s.db.SelectContext(ctx, &calls,
		`SELECT * FROM tool_calls ORDER BY id DESC LIMIT ?`, lookback)
	if err != nil {
		return 0, fmt.Errorf("store: consecutive tool errors: %w", err)
	}
	count := 0
	for _, c := range calls {
		if c.Error == nil || *c.Error == "" {
			break
		}
		count++
	}
	return count, nil
}
