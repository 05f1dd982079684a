// Package inbox implements the Inbox State Machine: at-most-once delivery
// of inbound messages to the agent loop, with bounded retry and exactly-once
// acknowledgement tied to the transaction that persists a turn's effects.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sentrycore/sentinel/internal/store"
)

// Message is the caller-facing view of a claimed inbox row.
type Message struct {
	ID         string
	FromAddr   string
	ToAddr     string
	Content    string
	RetryCount int
	MaxRetries int
	ReceivedAt string
}

// DefaultMaxRetries matches the store's default when a caller doesn't
// specify one.
const DefaultMaxRetries = 3

// Box is the Inbox State Machine component, backed by the persistent
// store. It has no state of its own beyond the store; methods are safe to
// call concurrently because the underlying SQL statements are atomic.
type Box struct {
	store *store.Store
	now   func() time.Time
}

// Option configures Box construction.
type Option func(*Box)

// WithClock overrides the time source, used by tests to pin staleness
// cutoffs deterministically.
func WithClock(now func() time.Time) Option {
	return func(b *Box) { b.now = now }
}

// New constructs a Box over s.
func New(s *store.Store, opts ...Option) *Box {
	b := &Box{store: s, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func fromRow(m store.InboxMessage) Message {
	return Message{
		ID:         m.ID,
		FromAddr:   m.FromAddr,
		ToAddr:     m.ToAddr,
		Content:    m.Content,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		ReceivedAt: m.ReceivedAt,
	}
}

// Deliver records a newly received message. Redelivery of the same id is
// idempotent: a duplicate insert is silently ignored and the original row
// is returned unchanged.
func (b *Box) Deliver(ctx context.Context, id, from, to, content string) (Message, error) {
	maxRetries := DefaultMaxRetries
	row, err := b.store.InsertInboxMessage(ctx, store.InboxMessage{
		ID: id, FromAddr: from, ToAddr: to, Content: content, MaxRetries: maxRetries,
	})
	if err != nil {
		return Message{}, fmt.Errorf("inbox: deliver: %w", err)
	}
	return fromRow(row), nil
}

// Claim atomically reserves up to limit of the oldest retryable messages,
// transitioning them to in_progress and incrementing their retry count.
// Messages already at max_retries are not claimable.
func (b *Box) Claim(ctx context.Context, limit int) ([]Message, error) {
	rows, err := b.store.ClaimInboxMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("inbox: claim: %w", err)
	}
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// Ack marks ids processed within the given transaction, so the ack commits
// or rolls back atomically with whatever turn row records the
// corresponding tool effects. Call this from inside store.RunTransaction.
func Ack(ctx context.Context, tx *store.Tx, ids []string) error {
	if err := tx.MarkInboxProcessed(ctx, ids); err != nil {
		return fmt.Errorf("inbox: ack: %w", err)
	}
	return nil
}

// Reconcile classifies a set of claimed ids after a turn failed outside
// any transaction (so no ack was ever attempted): ids that still have
// retries remaining go back to received for another attempt, the rest are
// marked failed. Each message's own RetryCount and MaxRetries decide which.
func (b *Box) Reconcile(ctx context.Context, claimed []Message) error {
	var retry, exhausted []string
	for _, m := range claimed {
		if m.RetryCount < m.MaxRetries {
			retry = append(retry, m.ID)
		} else {
			exhausted = append(exhausted, m.ID)
		}
	}
	if err := b.store.ResetInboxToReceived(ctx, retry); err != nil {
		return fmt.Errorf("inbox: reconcile reset: %w", err)
	}
	if err := b.store.MarkInboxFailed(ctx, exhausted); err != nil {
		return fmt.Errorf("inbox: reconcile fail: %w", err)
	}
	return nil
}

// UnprocessedCount counts messages still received or in_progress.
func (b *Box) UnprocessedCount(ctx context.Context) (int64, error) {
	n, err := b.store.CountUnprocessedInbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("inbox: unprocessed count: %w", err)
	}
	return n, nil
}

// ReclaimStuck returns any in_progress message older than maxAge (measured
// from the box's clock) back to received, recovering from a crash that
// left a claim unacknowledged.
func (b *Box) ReclaimStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := b.now().Add(-maxAge).UTC().Format(time.RFC3339)
	n, err := b.store.ResetStuckInboxMessages(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("inbox: reclaim stuck: %w", err)
	}
	return n, nil
}
