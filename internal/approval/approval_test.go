package approval_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/approval"
	"github.com/sentrycore/sentinel/internal/store"
)

type capturingLogger struct {
	infos []string
	warns []string
}

func (c *capturingLogger) Debug(context.Context, string, ...any) {}
func (c *capturingLogger) Info(_ context.Context, msg string, _ ...any) {
	c.infos = append(c.infos, msg)
}
func (c *capturingLogger) Warn(_ context.Context, msg string, _ ...any) {
	c.warns = append(c.warns, msg)
}
func (c *capturingLogger) Error(context.Context, string, ...any) {}

func newTestBroker(t *testing.T, now func() time.Time, log *capturingLogger) *approval.Broker {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return approval.New(s, approval.WithClock(now), approval.WithLogger(log))
}

func TestFile_NotifiesAndReturnsPending(t *testing.T) {
	log := &capturingLogger{}
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	b := newTestBroker(t, func() time.Time { return fixed }, log)

	req, err := b.File(context.Background(), "transfer_credits", `{"amount_cents":5000}`, "dangerous", "approve this transfer?", 0)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Len(t, log.infos, 1)
}

func TestResolve_OnlyOnce(t *testing.T) {
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	b := newTestBroker(t, func() time.Time { return fixed }, &capturingLogger{})
	ctx := context.Background()

	req, err := b.File(ctx, "transfer_credits", "{}", "dangerous", "approve?", 0)
	require.NoError(t, err)

	ok, err := b.Resolve(ctx, req.ID, true, "operator@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Resolve(ctx, req.ID, false, "someone-else")
	require.NoError(t, err)
	assert.False(t, ok, "a second resolve on an already-resolved request is a no-op")

	got, err := b.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status, "the first resolution wins")
}

func TestExpireStale_TransitionsPastDeadline(t *testing.T) {
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	clock := start
	log := &capturingLogger{}
	b := newTestBroker(t, func() time.Time { return clock }, log)
	ctx := context.Background()

	req, err := b.File(ctx, "transfer_credits", "{}", "dangerous", "approve?", time.Minute)
	require.NoError(t, err)

	n, err := b.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "not yet past the deadline")

	clock = start.Add(2 * time.Minute)
	n, err = b.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, log.warns, 1)

	got, err := b.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, got.Status)
	assert.True(t, got.IsDenied())
}

func TestPending_ListsOnlyUnresolved(t *testing.T) {
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	b := newTestBroker(t, func() time.Time { return fixed }, &capturingLogger{})
	ctx := context.Background()

	first, err := b.File(ctx, "transfer_credits", "{}", "dangerous", "one", 0)
	require.NoError(t, err)
	_, err = b.File(ctx, "x402_fetch", "{}", "medium", "two", 0)
	require.NoError(t, err)

	_, err = b.Resolve(ctx, first.ID, true, "operator")
	require.NoError(t, err)

	pending, err := b.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "x402_fetch", pending[0].ToolName)
}
