package store

import (
	"context"
	"fmt"
	"strings"
)

// InboxMessage is a message awaiting at-most-once processing by the agent
// loop, with bounded retry before it is given up on.
type InboxMessage struct {
	ID          string  `db:"id"`
	FromAddr    string  `db:"from_addr"`
	ToAddr      string  `db:"to_addr"`
	Content     string  `db:"content"`
	Status      string  `db:"status"`
	RetryCount  int     `db:"retry_count"`
	MaxRetries  int     `db:"max_retries"`
	ReceivedAt  string  `db:"received_at"`
	SignedAt    *string `db:"signed_at"`
	ProcessedAt *string `db:"processed_at"`
}

// InsertInboxMessage records a newly received message in "received" status.
// The id is caller-supplied and unique; a duplicate id is silently ignored
// rather than erroring, so redelivery of the same message is idempotent.
func (s *Store) InsertInboxMessage(ctx context.Context, m InboxMessage) (InboxMessage, error) {
	if m.ID == "" {
		m.ID = s.ids.New()
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = 3
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inbox_messages (id, from_addr, to_addr, content, status, retry_count, max_retries, received_at, signed_at)
		 VALUES (?, ?, ?, ?, 'received', 0, ?, datetime('now'), ?)
		 ON CONFLICT(id) DO NOTHING`,
		m.ID, m.FromAddr, m.ToAddr, m.Content, m.MaxRetries, m.SignedAt)
	if err != nil {
		return InboxMessage{}, fmt.Errorf("store: insert inbox_message: %w", err)
	}
	return s.GetInboxMessage(ctx, m.ID)
}

// GetInboxMessage reads a single message.
func (s *Store) GetInboxMessage(ctx context.Context, id string) (InboxMessage, error) {
	var m InboxMessage
	err := s.db.GetContext(ctx, &m, `SELECT * FROM inbox_messages WHERE id = ?`, id)
	if err != nil {
		return InboxMessage{}, wrapNotFound(err)
	}
	return m, nil
}

// ClaimInboxMessages atomically transitions up to limit of the oldest
// received-and-retryable messages to in_progress, incrementing their
// retry_count as part of the claim, and returns them with their new count.
// A message whose retry_count already equals max_retries is not claimable;
// it sits in received until something moves it to failed.
func (s *Store) ClaimInboxMessages(ctx context.Context, limit int) ([]InboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM inbox_messages
		 WHERE status = 'received' AND retry_count < max_retries
		 ORDER BY received_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select claimable inbox_messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`UPDATE inbox_messages SET status = 'in_progress', retry_count = retry_count + 1
		 WHERE status = 'received' AND id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("store: claim inbox_messages: %w", err)
	}

	claimed := make([]InboxMessage, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetInboxMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, m)
	}
	return claimed, nil
}

// MarkInboxProcessed transitions the given ids to processed. No-op on an
// empty list. Intended to be called inside the same transaction that
// persists the turn whose tool effects correspond to these messages, so a
// rollback of the turn also rolls back the ack.
func (s *Store) MarkInboxProcessed(ctx context.Context, ids []string) error {
	return s.updateInboxStatus(ctx, ids, `UPDATE inbox_messages SET status = 'processed', processed_at = datetime('now') WHERE id IN (%s)`)
}

// MarkInboxFailed transitions the given ids to failed, for messages that
// have exhausted max_retries.
func (s *Store) MarkInboxFailed(ctx context.Context, ids []string) error {
	return s.updateInboxStatus(ctx, ids, `UPDATE inbox_messages SET status = 'failed' WHERE id IN (%s)`)
}

// ResetInboxToReceived returns claimed-but-not-yet-exhausted messages to
// received after a recoverable turn failure, so they are eligible for
// another claim attempt.
func (s *Store) ResetInboxToReceived(ctx context.Context, ids []string) error {
	return s.updateInboxStatus(ctx, ids, `UPDATE inbox_messages SET status = 'received' WHERE id IN (%s)`)
}

func (s *Store) updateInboxStatus(ctx context.Context, ids []string, queryTemplate string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update inbox_messages status: %w", err)
	}
	return nil
}

// MarkInboxProcessed transitions the given ids to processed within the
// surrounding transaction, so the ack commits or rolls back atomically with
// whatever turn row records the corresponding tool effects.
func (tx *Tx) MarkInboxProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE inbox_messages SET status = 'processed', processed_at = datetime('now') WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := tx.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update inbox_messages status: %w", err)
	}
	return nil
}

// CountUnprocessedInbox counts messages still in received or in_progress.
func (s *Store) CountUnprocessedInbox(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM inbox_messages WHERE status IN ('received', 'in_progress')`)
	if err != nil {
		return 0, fmt.Errorf("store: count unprocessed inbox_messages: %w", err)
	}
	return n, nil
}

// ResetStuckInboxMessages returns any in_progress message older than
// staleBeforeRFC3339 back to received, used to recover from a crash that
// left a claim unacknowledged.
func (s *Store) ResetStuckInboxMessages(ctx context.Context, staleBeforeRFC3339 string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inbox_messages SET status = 'received' WHERE status = 'in_progress' AND received_at < datetime(?)`,
		staleBeforeRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: reset stuck inbox_messages: %w", err)
	}
	return res.RowsAffected()
}
