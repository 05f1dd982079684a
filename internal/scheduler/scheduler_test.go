package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/scheduler"
	"github.com/sentrycore/sentinel/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedBalance(credit int64) scheduler.BalanceSourceFunc {
	return func(context.Context) (scheduler.Balance, error) {
		return scheduler.Balance{CreditCents: credit}, nil
	}
}

func TestDeriveTier(t *testing.T) {
	assert.Equal(t, scheduler.TierCritical, scheduler.DeriveTier(0))
	assert.Equal(t, scheduler.TierCritical, scheduler.DeriveTier(10))
	assert.Equal(t, scheduler.TierLowCompute, scheduler.DeriveTier(11))
	assert.Equal(t, scheduler.TierLowCompute, scheduler.DeriveTier(50))
	assert.Equal(t, scheduler.TierNormal, scheduler.DeriveTier(51))
	assert.Equal(t, scheduler.TierNormal, scheduler.DeriveTier(100))
	assert.Equal(t, scheduler.TierHigh, scheduler.DeriveTier(101))
}

func TestMeets_DeadNeverMeetsAnyMinimum(t *testing.T) {
	assert.False(t, scheduler.Meets(scheduler.TierDead, scheduler.TierCritical))
	assert.False(t, scheduler.Meets(scheduler.TierDead, scheduler.TierDead))
}

func TestMeets_RankOrdering(t *testing.T) {
	assert.True(t, scheduler.Meets(scheduler.TierHigh, scheduler.TierCritical))
	assert.False(t, scheduler.Meets(scheduler.TierCritical, scheduler.TierNormal))
	assert.True(t, scheduler.Meets(scheduler.TierNormal, scheduler.TierNormal))
}

func TestTick_RunsDueTaskAndRecordsSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeartbeatTask(ctx, store.HeartbeatTask{
		TaskName: "ping", ScheduleExpr: "* * * * *", Enabled: true,
		Priority: 1, TimeoutMs: 1000, TierMinimum: "critical",
	}))

	ran := false
	task := scheduler.Task{Name: "ping", Run: func(ctx context.Context, tick scheduler.TickContext) (scheduler.TaskResult, error) {
		ran = true
		return scheduler.TaskResult{}, nil
	}}
	sched := scheduler.New(s, fixedBalance(5000), scheduler.Config{LeaseOwner: "test"}, []scheduler.Task{task})

	require.NoError(t, sched.Tick(ctx))
	assert.True(t, ran)

	updated, err := s.DueHeartbeatTasks(ctx, time.Now().Add(10*time.Minute).UTC().Format(time.RFC3339))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, int64(1), updated[0].RunCount)
	require.NotNil(t, updated[0].LastResult)
	assert.Equal(t, "success", *updated[0].LastResult)
}

func TestTick_TierGatingSkipsUnmetTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeartbeatTask(ctx, store.HeartbeatTask{
		TaskName: "expensive", ScheduleExpr: "* * * * *", Enabled: true,
		Priority: 1, TimeoutMs: 1000, TierMinimum: "high",
	}))

	ran := false
	task := scheduler.Task{Name: "expensive", Run: func(ctx context.Context, tick scheduler.TickContext) (scheduler.TaskResult, error) {
		ran = true
		return scheduler.TaskResult{}, nil
	}}
	sched := scheduler.New(s, fixedBalance(5), scheduler.Config{LeaseOwner: "test"}, []scheduler.Task{task})

	require.NoError(t, sched.Tick(ctx))
	assert.False(t, ran, "critical tier must not run a high-tier-minimum task")
}

func TestTick_TaskErrorRecordsFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeartbeatTask(ctx, store.HeartbeatTask{
		TaskName: "flaky", ScheduleExpr: "* * * * *", Enabled: true,
		Priority: 1, TimeoutMs: 1000, TierMinimum: "critical",
	}))

	task := scheduler.Task{Name: "flaky", Run: func(ctx context.Context, tick scheduler.TickContext) (scheduler.TaskResult, error) {
		return scheduler.TaskResult{}, errors.New("boom")
	}}
	sched := scheduler.New(s, fixedBalance(5000), scheduler.Config{LeaseOwner: "test"}, []scheduler.Task{task})

	require.NoError(t, sched.Tick(ctx))

	updated, err := s.DueHeartbeatTasks(ctx, time.Now().Add(10*time.Minute).UTC().Format(time.RFC3339))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.NotNil(t, updated[0].LastResult)
	assert.Equal(t, "failure", *updated[0].LastResult)
	assert.Equal(t, int64(1), updated[0].FailCount)
}

func TestTick_ShouldWakeEnqueuesWakeEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeartbeatTask(ctx, store.HeartbeatTask{
		TaskName: "notifier", ScheduleExpr: "* * * * *", Enabled: true,
		Priority: 1, TimeoutMs: 1000, TierMinimum: "critical",
	}))

	task := scheduler.Task{Name: "notifier", Run: func(ctx context.Context, tick scheduler.TickContext) (scheduler.TaskResult, error) {
		return scheduler.TaskResult{ShouldWake: true, WakeReason: "inbox_message"}, nil
	}}
	sched := scheduler.New(s, fixedBalance(5000), scheduler.Config{LeaseOwner: "test"}, []scheduler.Task{task})

	require.NoError(t, sched.Tick(ctx))

	events, err := s.DrainWakeEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "inbox_message", events[0].Reason)
}

func TestTick_BalanceFetchFailureDefaultsToCritical(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertHeartbeatTask(ctx, store.HeartbeatTask{
		TaskName: "needs_high", ScheduleExpr: "* * * * *", Enabled: true,
		Priority: 1, TimeoutMs: 1000, TierMinimum: "high",
	}))

	failing := scheduler.BalanceSourceFunc(func(context.Context) (scheduler.Balance, error) {
		return scheduler.Balance{}, errors.New("sandbox unreachable")
	})
	ran := false
	task := scheduler.Task{Name: "needs_high", Run: func(ctx context.Context, tick scheduler.TickContext) (scheduler.TaskResult, error) {
		ran = true
		return scheduler.TaskResult{}, nil
	}}
	sched := scheduler.New(s, failing, scheduler.Config{LeaseOwner: "test"}, []scheduler.Task{task})

	require.NoError(t, sched.Tick(ctx))
	assert.False(t, ran, "balance fetch failure forces critical tier, which cannot run a high-tier task")
}
