package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentrycore/sentinel/internal/store"
)

// StoreLogger adapts *store.Store to DecisionLogger, serializing the
// rules-evaluated/triggered slices to JSON for the store's TEXT columns.
type StoreLogger struct {
	Store *store.Store
}

// NewStoreLogger constructs a DecisionLogger backed by the persistent store.
func NewStoreLogger(s *store.Store) StoreLogger {
	return StoreLogger{Store: s}
}

// InsertPolicyDecisionRecord implements DecisionLogger.
func (l StoreLogger) InsertPolicyDecisionRecord(ctx context.Context, turnID *string, d Decision) error {
	evaluated, err := json.Marshal(d.RulesEvaluated)
	if err != nil {
		return fmt.Errorf("policy: marshal rules_evaluated: %w", err)
	}
	triggered, err := json.Marshal(d.RulesTriggered)
	if err != nil {
		return fmt.Errorf("policy: marshal rules_triggered: %w", err)
	}

	_, err = l.Store.InsertPolicyDecision(ctx, store.PolicyDecision{
		TurnID:         turnID,
		ToolName:       string(d.ToolName),
		ArgsHash:       d.ArgsHash,
		RiskLevel:      string(d.RiskLevel),
		Decision:       string(d.Action),
		RulesEvaluated: string(evaluated),
		RulesTriggered: string(triggered),
		ReasonCode:     d.ReasonCode,
		ReasonMessage:  d.HumanMessage,
		LatencyMs:      d.LatencyMs,
	})
	return err
}

// CountAllowedSince returns how many "allow" decisions were logged for
// toolName at or after sinceRFC3339 — the primitive rate.* rules need.
func CountAllowedSince(ctx context.Context, s *store.Store, toolName, sinceRFC3339 string) (int64, error) {
	return s.CountDecisionsByActionSince(ctx, toolName, string(ActionAllow), sinceRFC3339)
}
