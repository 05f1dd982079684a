package inbox_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/inbox"
	"github.com/sentrycore/sentinel/internal/store"
)

func newTestBox(t *testing.T) (*inbox.Box, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return inbox.New(s), s
}

func TestDeliver_DuplicateIDIsIdempotent(t *testing.T) {
	b, _ := newTestBox(t)
	ctx := context.Background()

	first, err := b.Deliver(ctx, "msg-1", "alice", "agent", "hello")
	require.NoError(t, err)

	second, err := b.Deliver(ctx, "msg-1", "alice", "agent", "a different payload")
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
}

func TestClaim_IncrementsRetryCountAndExcludesExhausted(t *testing.T) {
	b, _ := newTestBox(t)
	ctx := context.Background()

	_, err := b.Deliver(ctx, "msg-1", "alice", "agent", "hello")
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].RetryCount)

	none, err := b.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none, "the message is in_progress, not received")
}

func TestReconcile_RetriesUnderCapFailsAtCap(t *testing.T) {
	b, s := newTestBox(t)
	ctx := context.Background()

	msg, err := s.InsertInboxMessage(ctx, store.InboxMessage{FromAddr: "alice", ToAddr: "agent", Content: "hello", MaxRetries: 2})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, b.Reconcile(ctx, claimed))
	got, err := s.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "received", got.Status, "retry_count 1 is still under max_retries of 2")

	claimed, err = b.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].RetryCount)

	require.NoError(t, b.Reconcile(ctx, claimed))
	got, err = s.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status, "retry_count has reached max_retries")
}

func TestAck_CommitsWithSurroundingTransaction(t *testing.T) {
	b, s := newTestBox(t)
	ctx := context.Background()

	msg, err := s.InsertInboxMessage(ctx, store.InboxMessage{FromAddr: "alice", ToAddr: "agent", Content: "hello"})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = s.RunTransaction(ctx, func(tx *store.Tx) error {
		return inbox.Ack(ctx, tx, []string{msg.ID})
	})
	require.NoError(t, err)

	got, err := s.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "processed", got.Status)
}

func TestAck_RollsBackWithSurroundingTransaction(t *testing.T) {
	b, s := newTestBox(t)
	ctx := context.Background()

	msg, err := s.InsertInboxMessage(ctx, store.InboxMessage{FromAddr: "alice", ToAddr: "agent", Content: "hello"})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	sentinelErr := assert.AnError
	err = s.RunTransaction(ctx, func(tx *store.Tx) error {
		if ackErr := inbox.Ack(ctx, tx, []string{msg.ID}); ackErr != nil {
			return ackErr
		}
		return sentinelErr
	})
	require.ErrorIs(t, err, sentinelErr)

	got, err := s.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status, "the ack must not survive a rolled-back transaction")
}

func TestUnprocessedCount(t *testing.T) {
	b, _ := newTestBox(t)
	ctx := context.Background()

	n, err := b.UnprocessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = b.Deliver(ctx, "msg-1", "alice", "agent", "hello")
	require.NoError(t, err)

	n, err = b.UnprocessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReclaimStuck(t *testing.T) {
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	future := time.Now().UTC().Add(time.Hour)
	b := inbox.New(s, inbox.WithClock(func() time.Time { return future }))
	ctx := context.Background()

	msg, err := s.InsertInboxMessage(ctx, store.InboxMessage{FromAddr: "alice", ToAddr: "agent", Content: "hello"})
	require.NoError(t, err)
	_, err = b.Claim(ctx, 10)
	require.NoError(t, err)

	n, err := b.ReclaimStuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetInboxMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "received", got.Status)
}
