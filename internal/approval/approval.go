// Package approval implements the Approval Broker: out-of-band resolution
// of quarantined tool calls with a timeout that behaves as deny.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/sentrycore/sentinel/internal/store"
	"github.com/sentrycore/sentinel/internal/telemetry"
)

// Status mirrors the approval_requests.status CHECK constraint.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is the caller-facing view of a parked approval.
type Request struct {
	ID           string
	ToolName     string
	ToolArgs     string
	RiskLevel    string
	HumanMessage string
	Status       Status
	ExpiresAt    string
}

// DefaultTimeout is how long a quarantined call waits for a human decision
// before it auto-expires and is treated as deny.
const DefaultTimeout = 10 * time.Minute

// Broker is the Approval Broker component. It is optional: the agent loop
// only consults it when the policy engine returns quarantine, and in its
// absence a quarantine is treated as a deny outright.
type Broker struct {
	store *store.Store
	now   func() time.Time
	log   telemetry.Logger
}

// Option configures Broker construction.
type Option func(*Broker)

// WithClock overrides the time source, used by tests to pin expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithLogger attaches a Logger; external-channel notification goes through
// it, matching every other component's telemetry wiring.
func WithLogger(log telemetry.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// New constructs a Broker over s.
func New(s *store.Store, opts ...Option) *Broker {
	b := &Broker{store: s, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func fromRow(a store.ApprovalRequest) Request {
	return Request{
		ID:           a.ID,
		ToolName:     a.ToolName,
		ToolArgs:     a.ToolArgs,
		RiskLevel:    a.RiskLevel,
		HumanMessage: a.HumanMessage,
		Status:       Status(a.Status),
		ExpiresAt:    a.ExpiresAt,
	}
}

// File records a new quarantined call pending human resolution and
// notifies the external channel. The returned Request's expiry is
// DefaultTimeout from now unless timeout overrides it (timeout <= 0 keeps
// the default).
func (b *Broker) File(ctx context.Context, toolName, toolArgs, riskLevel, humanMessage string, timeout time.Duration) (Request, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	expiresAt := b.now().UTC().Add(timeout).Format(time.RFC3339)
	row, err := b.store.InsertApprovalRequest(ctx, store.ApprovalRequest{
		ToolName: toolName, ToolArgs: toolArgs, RiskLevel: riskLevel,
		HumanMessage: humanMessage, ExpiresAt: expiresAt,
	})
	if err != nil {
		return Request{}, fmt.Errorf("approval: file: %w", err)
	}
	if b.log != nil {
		b.log.Info(ctx, "approval requested", "id", row.ID, "tool", toolName, "risk_level", riskLevel)
	}
	return fromRow(row), nil
}

// Resolve transitions a pending request to approved or denied. It reports
// false (no error) if the request was no longer pending — already
// resolved or already expired — so callers can distinguish "your decision
// was recorded" from "too late, it already lapsed".
func (b *Broker) Resolve(ctx context.Context, id string, approve bool, resolver string) (bool, error) {
	status := string(StatusDenied)
	if approve {
		status = string(StatusApproved)
	}
	ok, err := b.store.ResolveApprovalRequest(ctx, id, status, resolver)
	if err != nil {
		return false, fmt.Errorf("approval: resolve: %w", err)
	}
	if ok && b.log != nil {
		b.log.Info(ctx, "approval resolved", "id", id, "status", status, "resolver", resolver)
	}
	return ok, nil
}

// ExpireStale marks every pending request whose expiry has passed as
// expired, returning the count transitioned. An expired request behaves
// as deny wherever its status is later consulted.
func (b *Broker) ExpireStale(ctx context.Context) (int64, error) {
	n, err := b.store.ExpirePendingApprovals(ctx, b.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("approval: expire stale: %w", err)
	}
	if n > 0 && b.log != nil {
		b.log.Warn(ctx, "approval requests expired", "count", n)
	}
	return n, nil
}

// Get reads a single request.
func (b *Broker) Get(ctx context.Context, id string) (Request, error) {
	row, err := b.store.GetApprovalRequest(ctx, id)
	if err != nil {
		return Request{}, fmt.Errorf("approval: get: %w", err)
	}
	return fromRow(row), nil
}

// Pending lists requests still awaiting a human decision.
func (b *Broker) Pending(ctx context.Context) ([]Request, error) {
	rows, err := b.store.PendingApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("approval: pending: %w", err)
	}
	out := make([]Request, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// IsDenied reports whether a request's current status should be treated
// as a deny: denied outright, or expired without resolution.
func (r Request) IsDenied() bool {
	return r.Status == StatusDenied || r.Status == StatusExpired
}
