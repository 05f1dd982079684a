// Package reasoning defines the closed set of reasoning-step phases and a
// thin, typed wrapper around the store's append-only reasoning log.
package reasoning

import (
	"context"
	"fmt"

	"github.com/sentrycore/sentinel/internal/store"
)

// Phase is a closed tag on a reasoning step, matching the
// reasoning_steps.phase CHECK constraint.
type Phase string

const (
	PhaseThinking        Phase = "thinking"
	PhasePlan            Phase = "plan"
	PhaseWaitingApproval Phase = "waiting_approval"
	PhaseExecute         Phase = "execute"
	PhaseError           Phase = "error"
)

// Step is the caller-facing shape for appending a reasoning step; linked
// ids are optional and nil unless the step is tied to a specific tool
// call, policy decision, or approval request.
type Step struct {
	TurnID     string
	Phase      Phase
	Content    string
	ToolCallID *string
	PolicyID   *string
	ApprovalID *string
}

// Append records the next step for a turn within the surrounding
// transaction. Step numbering is handled by the store, so two calls for
// the same turn never race on an ordinal.
func Append(ctx context.Context, tx *store.Tx, step Step) (store.ReasoningStep, error) {
	out, err := tx.AppendReasoningStep(ctx, store.ReasoningStep{
		TurnID:     step.TurnID,
		Phase:      string(step.Phase),
		Content:    step.Content,
		ToolCallID: step.ToolCallID,
		PolicyID:   step.PolicyID,
		ApprovalID: step.ApprovalID,
	})
	if err != nil {
		return store.ReasoningStep{}, fmt.Errorf("reasoning: append: %w", err)
	}
	return out, nil
}

// ForTurn returns a turn's chain of thought in step order.
func ForTurn(ctx context.Context, s *store.Store, turnID string) ([]store.ReasoningStep, error) {
	steps, err := s.ReasoningStepsForTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("reasoning: for turn: %w", err)
	}
	return steps, nil
}
