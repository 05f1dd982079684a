package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentrycore/sentinel/internal/idgen"
	"github.com/sentrycore/sentinel/internal/store"
	"github.com/sentrycore/sentinel/internal/telemetry"
)

// TickContext is built once per tick and shared read-only by every task
// that runs within it — no task triggers a second balance fetch.
type TickContext struct {
	TickID                string
	StartedAt             time.Time
	CreditBalanceCents    int64
	USDCBalanceCents      int64
	SurvivalTier          Tier
	LowComputeMultiplier  float64
}

// TaskResult is what a task reports back to the scheduler after running.
type TaskResult struct {
	// ShouldWake, if true, enqueues a wake event so a sleeping agent loop
	// resumes before its sleep timer would otherwise expire.
	ShouldWake   bool
	WakeReason   string
	WakePayload  *string
}

// TaskFunc is a unit of scheduled work.
type TaskFunc func(ctx context.Context, tick TickContext) (TaskResult, error)

// Task pairs a TaskFunc with the schedule row identifying it.
type Task struct {
	Name string
	Run  TaskFunc
}

// Config holds the scheduler's tunables.
type Config struct {
	// LowComputeMultiplier scales task effort (e.g. batch sizes, token
	// budgets) down while the agent is in the low_compute tier.
	LowComputeMultiplier float64
	// LeaseOwner identifies this process in the lease table; distinct
	// processes racing for the same store must use distinct owners.
	LeaseOwner string
}

// Scheduler is the Durable Scheduler: it loads due tasks from the store,
// leases them, runs them with a hard timeout, and records the outcome.
type Scheduler struct {
	store   *store.Store
	tasks   map[string]Task
	cfg     Config
	balance BalanceSource
	ids     *idgen.Source
	now     func() time.Time
	log     telemetry.Logger
	running atomic.Bool
	parser  cron.Parser
}

// Option configures Scheduler construction.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New constructs a Scheduler over s, registering tasks by name.
func New(s *store.Store, balance BalanceSource, cfg Config, tasks []Task, opts ...Option) *Scheduler {
	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
	}
	sched := &Scheduler{
		store:   s,
		tasks:   byName,
		cfg:     cfg,
		balance: balance,
		ids:     idgen.NewSource(),
		now:     time.Now,
		log:     telemetry.NoopLogger{},
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Tick runs one pass over the due tasks. A second call while a tick is
// already in flight returns immediately without side effects — the
// in-process half of overlap prevention; AcquireHeartbeatLease is the
// persisted half, guarding against a second process.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer s.running.Store(false)

	tick := s.buildTickContext(ctx)

	nowStr := tick.StartedAt.UTC().Format(time.RFC3339)
	due, err := s.store.DueHeartbeatTasks(ctx, nowStr)
	if err != nil {
		s.log.Error(ctx, "scheduler: failed to load due tasks", "error", err)
		return fmt.Errorf("scheduler: load due tasks: %w", err)
	}

	for _, row := range due {
		if !Meets(tick.SurvivalTier, Tier(row.TierMinimum)) {
			continue
		}
		s.runTask(ctx, row, tick)
	}
	return nil
}

func (s *Scheduler) buildTickContext(ctx context.Context) TickContext {
	now := s.now()
	bal, err := s.balance.FetchBalance(ctx)
	var tier Tier
	if err != nil {
		s.log.Warn(ctx, "scheduler: balance fetch failed, defaulting to critical", "error", err)
		bal = Balance{}
		tier = TierCritical
	} else {
		tier = DeriveTier(bal.CreditCents)
	}
	multiplier := 1.0
	if tier == TierLowCompute {
		multiplier = s.cfg.LowComputeMultiplier
		if multiplier <= 0 {
			multiplier = 0.5
		}
	}
	return TickContext{
		TickID:               s.ids.New(),
		StartedAt:            now,
		CreditBalanceCents:   bal.CreditCents,
		USDCBalanceCents:     bal.USDCCents,
		SurvivalTier:         tier,
		LowComputeMultiplier: multiplier,
	}
}

func (s *Scheduler) runTask(ctx context.Context, row store.HeartbeatTask, tick TickContext) {
	owner := s.cfg.LeaseOwner
	if owner == "" {
		owner = "scheduler"
	}
	expiresAt := tick.StartedAt.Add(time.Duration(row.TimeoutMs) * time.Millisecond).UTC().Format(time.RFC3339)
	nowStr := tick.StartedAt.UTC().Format(time.RFC3339)

	acquired, err := s.store.AcquireHeartbeatLease(ctx, row.TaskName, owner, expiresAt, nowStr)
	if err != nil {
		s.log.Error(ctx, "scheduler: lease acquisition failed", "task", row.TaskName, "error", err)
		return
	}
	if !acquired {
		return
	}

	task, registered := s.tasks[row.TaskName]
	if !registered {
		s.finishTask(ctx, row, "failure", strPtr(fmt.Sprintf("no handler registered for task %q", row.TaskName)), 0, false, nil, nil)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(row.TimeoutMs)*time.Millisecond)
	defer cancel()

	start := s.now()
	result, taskErr := s.runWithRecover(runCtx, task, tick)
	duration := s.now().Sub(start).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		msg := fmt.Sprintf("task %q timed out after %dms", row.TaskName, row.TimeoutMs)
		s.finishTask(ctx, row, "timeout", &msg, duration, false, nil, nil)
	case taskErr != nil:
		msg := taskErr.Error()
		s.finishTask(ctx, row, "failure", &msg, duration, false, nil, nil)
	default:
		s.finishTask(ctx, row, "success", nil, duration, result.ShouldWake, strPtrOrNil(result.WakeReason), result.WakePayload)
	}
}

// runWithRecover isolates a task panic from the scheduler loop, folding it
// into an error so one broken task never takes down the tick.
func (s *Scheduler) runWithRecover(ctx context.Context, task Task, tick TickContext) (result TaskResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %q panicked: %v", task.Name, p)
		}
	}()
	return task.Run(ctx, tick)
}

func (s *Scheduler) finishTask(ctx context.Context, row store.HeartbeatTask, result string, taskErr *string, durationMs int64, shouldWake bool, wakeReason *string, wakePayload *string) {
	nextRun := s.nextRunAt(row)
	if err := s.store.ReleaseHeartbeatLease(ctx, row.TaskName, result, taskErr, nextRun); err != nil {
		s.log.Error(ctx, "scheduler: failed to release lease", "task", row.TaskName, "error", err)
	}
	if err := s.store.InsertHeartbeatHistory(ctx, row.TaskName, result, taskErr, durationMs, shouldWake); err != nil {
		s.log.Error(ctx, "scheduler: failed to record history", "task", row.TaskName, "error", err)
	}
	if shouldWake {
		reason := row.TaskName
		if wakeReason != nil {
			reason = *wakeReason
		}
		if err := s.store.EnqueueWakeEvent(ctx, "scheduler", reason, wakePayload); err != nil {
			s.log.Error(ctx, "scheduler: failed to enqueue wake event", "task", row.TaskName, "error", err)
		}
	}
}

func (s *Scheduler) nextRunAt(row store.HeartbeatTask) string {
	schedule, err := s.parser.Parse(row.ScheduleExpr)
	if err != nil {
		s.log.Error(context.Background(), "scheduler: invalid schedule, retrying in 1m", "task", row.TaskName, "expr", row.ScheduleExpr, "error", err)
		return s.now().Add(time.Minute).UTC().Format(time.RFC3339)
	}
	return schedule.Next(s.now()).UTC().Format(time.RFC3339)
}

func strPtr(s string) *string { return &s }

func strPtrOrNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
