package store

import (
	"context"
	"fmt"
)

// PolicyDecision is the durable, append-only record of one policy
// evaluation. Nothing ever updates or deletes a row here: the log is the
// audit trail the policy engine's fail-closed guarantee depends on.
type PolicyDecision struct {
	ID              string  `db:"id"`
	TurnID          *string `db:"turn_id"`
	ToolName        string  `db:"tool_name"`
	ArgsHash        string  `db:"args_hash"`
	RiskLevel       string  `db:"risk_level"`
	Decision        string  `db:"decision"`
	RulesEvaluated  string  `db:"rules_evaluated"`
	RulesTriggered  string  `db:"rules_triggered"`
	ReasonCode      string  `db:"reason_code"`
	ReasonMessage   string  `db:"reason_message"`
	LatencyMs       int64   `db:"latency_ms"`
	CreatedAt       string  `db:"created_at"`
}

// InsertPolicyDecision appends a decision record. Policy decisions are
// logged whether or not they occur inside a Turn's transaction, since a
// denied call still needs an audit trail even if the turn itself aborts.
func (s *Store) InsertPolicyDecision(ctx context.Context, d PolicyDecision) (PolicyDecision, error) {
	d.ID = s.ids.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_decisions
		   (id, turn_id, tool_name, args_hash, risk_level, decision, rules_evaluated, rules_triggered, reason_code, reason_message, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		d.ID, d.TurnID, d.ToolName, d.ArgsHash, d.RiskLevel, d.Decision,
		d.RulesEvaluated, d.RulesTriggered, d.ReasonCode, d.ReasonMessage, d.LatencyMs)
	if err != nil {
		return PolicyDecision{}, fmt.Errorf("store: insert policy_decision: %w", err)
	}
	var out PolicyDecision
	if err := s.db.GetContext(ctx, &out, `SELECT * FROM policy_decisions WHERE id = ?`, d.ID); err != nil {
		return PolicyDecision{}, fmt.Errorf("store: reload policy_decision: %w", err)
	}
	return out, nil
}

// RecentDecisionsForArgsHash returns prior decisions for the same
// tool+args-hash pair, most recent first. Used by rules that key off
// repeated identical calls (e.g. duplicate-payment detection).
func (s *Store) RecentDecisionsForArgsHash(ctx context.Context, toolName, argsHash string, limit int) ([]PolicyDecision, error) {
	var decisions []PolicyDecision
	err := s.db.SelectContext(ctx, &decisions,
		`SELECT * FROM policy_decisions WHERE tool_name = ? AND args_hash = ? ORDER BY id DESC LIMIT ?`,
		toolName, argsHash, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent decisions by args_hash: %w", err)
	}
	return decisions, nil
}

// CountDecisionsSince returns how many decisions for toolName were logged
// at or after sinceRFC3339, used by rate-limit rules.
func (s *Store) CountDecisionsSince(ctx context.Context, toolName, sinceRFC3339 string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM policy_decisions WHERE tool_name = ? AND created_at >= datetime(?)`,
		toolName, sinceRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: count decisions since: %w", err)
	}
	return count, nil
}

// CountDecisionsByActionSince returns how many decisions for toolName with
// the given decision value (allow/deny/quarantine) were logged at or after
// sinceRFC3339. rate.* rules query this with action "allow".
func (s *Store) CountDecisionsByActionSince(ctx context.Context, toolName, action, sinceRFC3339 string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM policy_decisions WHERE tool_name = ? AND decision = ? AND created_at >= datetime(?)`,
		toolName, action, sinceRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: count decisions by action since: %w", err)
	}
	return count, nil
}
