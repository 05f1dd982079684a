package store

import (
	"context"
	"fmt"
)

// ReasoningStep is one append-only entry in a turn's visible chain of
// thought, linked to the tool call or approval it produced, if any.
type ReasoningStep struct {
	TurnID      string  `db:"turn_id"`
	StepNumber  int     `db:"step_number"`
	Phase       string  `db:"phase"`
	Content     string  `db:"content"`
	ToolCallID  *string `db:"tool_call_id"`
	PolicyID    *string `db:"policy_id"`
	ApprovalID  *string `db:"approval_id"`
	CreatedAt   string  `db:"created_at"`
}

// AppendReasoningStep inserts the next step for a turn, numbering it one
// past the current maximum so callers never need to track ordinals
// themselves.
func (tx *Tx) AppendReasoningStep(ctx context.Context, step ReasoningStep) (ReasoningStep, error) {
	var next int
	if err := tx.tx.GetContext(ctx, &next,
		`SELECT coalesce(max(step_number), 0) + 1 FROM reasoning_steps WHERE turn_id = ?`, step.TurnID); err != nil {
		return ReasoningStep{}, fmt.Errorf("store: next reasoning step number: %w", err)
	}
	step.StepNumber = next

	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO reasoning_steps (turn_id, step_number, phase, content, tool_call_id, policy_id, approval_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		step.TurnID, step.StepNumber, step.Phase, step.Content, step.ToolCallID, step.PolicyID, step.ApprovalID)
	if err != nil {
		return ReasoningStep{}, fmt.Errorf("store: append reasoning_step: %w", err)
	}
	var out ReasoningStep
	if err := tx.tx.GetContext(ctx, &out,
		`SELECT * FROM reasoning_steps WHERE turn_id = ? AND step_number = ?`, step.TurnID, step.StepNumber); err != nil {
		return ReasoningStep{}, fmt.Errorf("store: reload reasoning_step: %w", err)
	}
	return out, nil
}

// ReasoningStepsForTurn returns a turn's chain of thought in step order.
func (s *Store) ReasoningStepsForTurn(ctx context.Context, turnID string) ([]ReasoningStep, error) {
	var steps []ReasoningStep
	err := s.db.SelectContext(ctx, &steps,
		`SELECT * FROM reasoning_steps WHERE turn_id = ? ORDER BY step_number ASC`, turnID)
	if err != nil {
		return nil, fmt.Errorf("store: reasoning steps for turn: %w", err)
	}
	return steps, nil
}
