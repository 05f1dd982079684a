package store

import (
	"context"
	"fmt"
)

// ApprovalRequest is a dangerous-tier tool call parked awaiting a human
// decision before the policy engine will allow it to execute.
type ApprovalRequest struct {
	ID           string  `db:"id"`
	ToolName     string  `db:"tool_name"`
	ToolArgs     string  `db:"tool_args"`
	RiskLevel    string  `db:"risk_level"`
	HumanMessage string  `db:"human_message"`
	Status       string  `db:"status"`
	CreatedAt    string  `db:"created_at"`
	ExpiresAt    string  `db:"expires_at"`
	ResolvedAt   *string `db:"resolved_at"`
	Resolver     *string `db:"resolver"`
}

// InsertApprovalRequest creates a pending approval request.
func (s *Store) InsertApprovalRequest(ctx context.Context, a ApprovalRequest) (ApprovalRequest, error) {
	if a.ID == "" {
		a.ID = s.ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, tool_name, tool_args, risk_level, human_message, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', datetime('now'), ?)`,
		a.ID, a.ToolName, a.ToolArgs, a.RiskLevel, a.HumanMessage, a.ExpiresAt)
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("store: insert approval_request: %w", err)
	}
	return s.GetApprovalRequest(ctx, a.ID)
}

// GetApprovalRequest reads a single approval request.
func (s *Store) GetApprovalRequest(ctx context.Context, id string) (ApprovalRequest, error) {
	var a ApprovalRequest
	err := s.db.GetContext(ctx, &a, `SELECT * FROM approval_requests WHERE id = ?`, id)
	if err != nil {
		return ApprovalRequest{}, wrapNotFound(err)
	}
	return a, nil
}

// ResolveApprovalRequest transitions a pending request to approved or
// denied, failing if it is no longer pending (already resolved or
// expired).
func (s *Store) ResolveApprovalRequest(ctx context.Context, id, status, resolver string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?, resolved_at = datetime('now'), resolver = ?
		 WHERE id = ? AND status = 'pending'`,
		status, resolver, id)
	if err != nil {
		return false, fmt.Errorf("store: resolve approval_request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: resolve approval_request rows: %w", err)
	}
	return n == 1, nil
}

// ExpirePendingApprovals marks every pending request whose expires_at has
// passed as expired, returning how many were updated.
func (s *Store) ExpirePendingApprovals(ctx context.Context, nowRFC3339 string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = 'expired', resolved_at = datetime('now')
		 WHERE status = 'pending' AND expires_at <= ?`,
		nowRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: expire approvals: %w", err)
	}
	return res.RowsAffected()
}

// PendingApprovals lists requests awaiting a human decision.
func (s *Store) PendingApprovals(ctx context.Context) ([]ApprovalRequest, error) {
	var reqs []ApprovalRequest
	err := s.db.SelectContext(ctx, &reqs, `SELECT * FROM approval_requests WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: pending approvals: %w", err)
	}
	return reqs, nil
}
