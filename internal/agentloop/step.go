package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	inference "github.com/sentrycore/sentinel/internal/external/inference"

	"github.com/sentrycore/sentinel/internal/agentloop/toolerrors"
	"github.com/sentrycore/sentinel/internal/inbox"
	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/reasoning"
	"github.com/sentrycore/sentinel/internal/scheduler"
	"github.com/sentrycore/sentinel/internal/spend"
	"github.com/sentrycore/sentinel/internal/store"
	"github.com/sentrycore/sentinel/internal/tools"
)

// executedCall is the outcome of running one model-requested tool call
// through the policy engine, held in memory until the enclosing turn's
// transaction is ready to open.
type executedCall struct {
	Ordinal    int
	ToolName   string
	ExternalID string
	Arguments  string
	ResultText *string
	ErrorText  *string
	DurationMs int64
	Mutating   bool
}

// Step runs one full think/act/observe cycle: it performs every suspending
// operation (balance fetch, inbox claim, inference call, tool execution,
// approval filing) first, then opens a single store transaction to persist
// the turn, its tool calls, reasoning steps, and inbox acknowledgement
// atomically. No I/O that can block happens between the transaction's
// begin and end.
func (c *Controller) Step(ctx context.Context, pending *Input) (Outcome, error) {
	c.drainStaleWakeEvents(ctx)
	tier := c.gateOnFinancialTier(ctx)

	text, source, claimed, err := c.gatherInput(ctx, pending)
	if err != nil {
		return Outcome{State: c.state}, err
	}

	hadInput := text != ""
	if c.isRepetitive() {
		breaker := c.injectLoopBreaker(ctx)
		if text != "" {
			text = text + "\n\n" + breaker
		} else {
			text = breaker
		}
	}

	req, err := c.buildRequest(ctx, text)
	if err != nil {
		c.reconcileClaimed(ctx, claimed)
		return Outcome{State: c.state}, fmt.Errorf("agentloop: build request: %w", err)
	}
	if tier == scheduler.TierLowCompute && req.MaxTokens > 256 {
		req.MaxTokens = req.MaxTokens / 2
	}

	resp, err := c.inference.Complete(ctx, req)
	if err != nil {
		c.reconcileClaimed(ctx, claimed)
		return c.onCycleError(ctx, fmt.Errorf("agentloop: inference: %w", err))
	}

	calls := resp.ToolCalls
	if len(calls) > MaxToolCallsPerTurn {
		dropped := len(calls) - MaxToolCallsPerTurn
		c.log.Warn(ctx, "agentloop: dropped excess tool calls over per-turn bound", "dropped", dropped, "bound", MaxToolCallsPerTurn)
		calls = calls[:MaxToolCallsPerTurn]
	}

	executed := make([]executedCall, 0, len(calls))
	mutated := false
	for i, tc := range calls {
		ec := c.runToolCall(ctx, i+1, tc, source)
		if ec.Mutating && ec.ErrorText == nil {
			mutated = true
		}
		executed = append(executed, ec)
	}

	assistantText := extractAssistantText(resp.Content)

	claimedIDs := make([]string, len(claimed))
	for i, m := range claimed {
		claimedIDs[i] = m.ID
	}

	var turnID string
	txErr := c.store.RunTransaction(ctx, func(tx *store.Tx) error {
		var inputTextPtr *string
		if text != "" {
			inputTextPtr = &text
		}
		var sourcePtr *string
		if source != policy.InputSourceUndefined {
			s := string(source)
			sourcePtr = &s
		}

		turn, err := tx.InsertTurn(ctx, store.Turn{
			State:         "completed",
			InputText:     inputTextPtr,
			InputSource:   sourcePtr,
			AssistantText: assistantText,
			TokenUsage:    int64(resp.Usage.TotalTokens),
		})
		if err != nil {
			return err
		}
		turnID = turn.ID

		if assistantText != "" {
			if _, err := reasoning.Append(ctx, tx, reasoning.Step{
				TurnID:  turn.ID,
				Phase:   reasoning.PhaseThinking,
				Content: assistantText,
			}); err != nil {
				return err
			}
		}

		for _, ec := range executed {
			var extID *string
			if ec.ExternalID != "" {
				extID = &ec.ExternalID
			}
			row, err := tx.InsertToolCall(ctx, store.ToolCall{
				TurnID:     turn.ID,
				Ordinal:    ec.Ordinal,
				ToolName:   ec.ToolName,
				Arguments:  ec.Arguments,
				ResultText: ec.ResultText,
				Error:      ec.ErrorText,
				DurationMs: ec.DurationMs,
				ExternalID: extID,
			})
			if err != nil {
				return err
			}

			phase := reasoning.PhaseExecute
			content := ec.ToolName + " succeeded"
			if ec.ErrorText != nil {
				phase = reasoning.PhaseError
				content = *ec.ErrorText
			} else if ec.ResultText != nil {
				content = *ec.ResultText
			}
			if _, err := reasoning.Append(ctx, tx, reasoning.Step{
				TurnID:     turn.ID,
				Phase:      phase,
				Content:    content,
				ToolCallID: &row.ID,
			}); err != nil {
				return err
			}
		}

		if len(claimedIDs) > 0 {
			if err := inbox.Ack(ctx, tx, claimedIDs); err != nil {
				return err
			}
		}
		return nil
	})

	if txErr != nil {
		c.reconcileClaimed(ctx, claimed)
		return c.onCycleError(ctx, fmt.Errorf("agentloop: persist turn: %w", txErr))
	}
	c.consecutiveErrors = 0

	nameSet := make(map[string]struct{}, len(executed))
	for _, ec := range executed {
		nameSet[ec.ToolName] = struct{}{}
	}
	c.recentToolNameSets = append(c.recentToolNameSets, nameSet)
	if len(c.recentToolNameSets) > MaxRepetitiveTurns {
		c.recentToolNameSets = c.recentToolNameSets[len(c.recentToolNameSets)-MaxRepetitiveTurns:]
	}

	idle := !hadInput && !mutated
	if idle {
		c.idleTurnCount++
	} else {
		c.idleTurnCount = 0
	}

	outcome := Outcome{
		State:         c.state,
		TurnID:        turnID,
		AssistantText: assistantText,
		ToolCalls:     len(executed),
		Idle:          idle,
	}

	if idle && c.idleTurnCount >= MaxIdleTurns {
		c.idleTurnCount = 0
		c.transition(ctx, StateSleeping)
		outcome.State = c.state
		outcome.SleepFor = IdleSleepDuration
	}
	return outcome, nil
}

// onCycleError folds an uncaught per-cycle failure into the consecutive
// error counter, sleeping the loop once the bound is reached.
func (c *Controller) onCycleError(ctx context.Context, cause error) (Outcome, error) {
	c.consecutiveErrors++
	c.log.Error(ctx, "agentloop: cycle failed", "consecutive_errors", c.consecutiveErrors, "error", cause)
	if c.consecutiveErrors >= MaxConsecutiveErrors {
		c.consecutiveErrors = 0
		c.transition(ctx, StateSleeping)
		return Outcome{State: c.state, SleepFor: ErrorSleepDuration}, cause
	}
	return Outcome{State: c.state}, cause
}

func (c *Controller) reconcileClaimed(ctx context.Context, claimed []inbox.Message) {
	if len(claimed) == 0 {
		return
	}
	if err := c.inboxBox.Reconcile(ctx, claimed); err != nil {
		c.log.Error(ctx, "agentloop: failed to reconcile claimed inbox messages", "error", err)
	}
}

// sessionSpendCents sums today's spend across every category as the
// policy engine's best available view of "this session's" spend; no
// dedicated per-session ledger exists, so the day window stands in for it.
func (c *Controller) sessionSpendCents(ctx context.Context) int64 {
	if c.spend == nil {
		return 0
	}
	var total int64
	for _, cat := range []spend.Category{spend.CategoryTransfer, spend.CategoryX402, spend.CategoryInference, spend.CategoryOther} {
		amt, err := c.spend.DailySpend(ctx, cat)
		if err != nil {
			c.log.Warn(ctx, "agentloop: failed to read session spend", "category", cat, "error", err)
			continue
		}
		total += amt
	}
	return total
}

// runToolCall evaluates one model-requested tool call against the policy
// engine and, if allowed, executes it. It never returns an error itself:
// every outcome, including a policy denial or an execution panic, is
// folded into the returned executedCall so the turn can still be recorded.
func (c *Controller) runToolCall(ctx context.Context, ordinal int, tc inference.ToolCall, source policy.InputSource) executedCall {
	ec := executedCall{
		Ordinal:    ordinal,
		ToolName:   string(tc.Name),
		ExternalID: tc.ID,
		Arguments:  string(tc.Payload),
		Mutating:   IsMutating(tc.Name),
	}

	args, decodeErr := decodeToolArgs(tc.Payload)
	if decodeErr != nil {
		c.log.Error(ctx, "agentloop: malformed tool-call arguments, defaulting to empty", "tool", tc.Name, "error", decodeErr)
	}

	req := policy.Request{
		Tool: policy.ToolInfo{Name: tc.Name},
		Args: args,
		TurnContext: policy.TurnContext{
			InputSource:       source,
			TurnToolCallCount: ordinal,
			SessionSpendCents: c.sessionSpendCents(ctx),
		},
	}

	decision, evalErr := c.engine.Evaluate(ctx, req, nil)
	if evalErr != nil {
		ec.ErrorText = strPtr(fmt.Sprintf("Policy denied: %s", policy.ReasonDBUnavailable))
		return ec
	}

	switch decision.Action {
	case policy.ActionDeny:
		ec.ErrorText = strPtr(fmt.Sprintf("Policy denied: %s", decision.ReasonCode))
		return ec
	case policy.ActionQuarantine:
		if c.approvals == nil {
			ec.ErrorText = strPtr(fmt.Sprintf("Policy denied: %s", decision.ReasonCode))
			return ec
		}
		filed, fileErr := c.approvals.File(ctx, string(tc.Name), string(tc.Payload), string(decision.RiskLevel), decision.HumanMessage, 0)
		if fileErr != nil {
			c.log.Error(ctx, "agentloop: failed to file approval request", "tool", tc.Name, "error", fileErr)
			ec.ErrorText = strPtr(fmt.Sprintf("Policy denied: %s", decision.ReasonCode))
			return ec
		}
		ec.ErrorText = strPtr(fmt.Sprintf("Quarantined pending human approval (request %s)", filed.ID))
		return ec
	}

	spec, known := c.registry.Lookup(tc.Name)
	if !known || spec.Execute == nil {
		ec.ErrorText = strPtr(toolerrors.New(fmt.Sprintf("no handler registered for tool %q", tc.Name)).Error())
		return ec
	}

	start := c.now()
	result, execErr := c.safeExecute(ctx, spec, tc.Payload)
	ec.DurationMs = c.now().Sub(start).Milliseconds()
	if execErr != nil {
		ec.ErrorText = strPtr(toolerrors.FromError(execErr).Error())
		return ec
	}
	ec.ResultText = strPtr(string(result))
	return ec
}

// safeExecute recovers a tool handler panic so one misbehaving tool cannot
// take down the whole cycle.
func (c *Controller) safeExecute(ctx context.Context, spec tools.ToolSpec, payload json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = toolerrors.Errorf("tool %s panicked: %v", spec.Name, p)
		}
	}()
	return spec.Execute(ctx, payload)
}

func decodeToolArgs(payload json.RawMessage) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(payload, &args); err != nil {
		return map[string]any{}, err
	}
	return args, nil
}

func extractAssistantText(msgs []inference.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role != inference.ConversationRoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if tp, ok := p.(inference.TextPart); ok {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(tp.Text)
			}
		}
	}
	return sb.String()
}

func strPtr(s string) *string { return &s }
