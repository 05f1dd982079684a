package spend_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/spend"
	"github.com/sentrycore/sentinel/internal/store"
)

func newTestTracker(t *testing.T, clock func() time.Time) *spend.Tracker {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return spend.New(s, spend.WithClock(clock))
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRecordSpend_RejectsNegativeAmount(t *testing.T) {
	tr := newTestTracker(t, fixedClock(time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)))
	err := tr.RecordSpend(context.Background(), spend.Entry{ToolName: "wallet.send", AmountCents: -1, Category: spend.CategoryTransfer})
	assert.Error(t, err)
}

func TestHourlyAndDailySpend_AggregateWithinWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	tr := newTestTracker(t, fixedClock(now))

	require.NoError(t, tr.RecordSpend(ctx, spend.Entry{ToolName: "wallet.send", AmountCents: 5000, Category: spend.CategoryTransfer}))
	require.NoError(t, tr.RecordSpend(ctx, spend.Entry{ToolName: "wallet.send", AmountCents: 4500, Category: spend.CategoryTransfer}))

	hourly, err := tr.HourlySpend(ctx, spend.CategoryTransfer)
	require.NoError(t, err)
	assert.Equal(t, int64(9500), hourly)

	daily, err := tr.DailySpend(ctx, spend.CategoryTransfer)
	require.NoError(t, err)
	assert.Equal(t, int64(9500), daily)
}

func TestCheckLimit_DeniesAtHourlyCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	tr := newTestTracker(t, fixedClock(now))

	require.NoError(t, tr.RecordSpend(ctx, spend.Entry{ToolName: "wallet.send", AmountCents: 5000, Category: spend.CategoryTransfer}))
	require.NoError(t, tr.RecordSpend(ctx, spend.Entry{ToolName: "wallet.send", AmountCents: 4500, Category: spend.CategoryTransfer}))

	result, err := tr.CheckLimit(ctx, 500, spend.CategoryTransfer, 10000, 25000)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Hourly")
}

func TestCheckLimit_ZeroLimitMeansUnlimited(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	tr := newTestTracker(t, fixedClock(now))

	result, err := tr.CheckLimit(ctx, 1_000_000, spend.CategoryTransfer, 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckLimit_DeniesAtDailyCapWhenHourlyOK(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 23, 50, 0, 0, time.UTC)
	tr := newTestTracker(t, fixedClock(now))

	require.NoError(t, tr.RecordSpend(ctx, spend.Entry{ToolName: "conway.chat", AmountCents: 49000, Category: spend.CategoryInference}))

	result, err := tr.CheckLimit(ctx, 1500, spend.CategoryInference, 0, 50000)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Daily")
}
