package store

import (
	"context"
	"fmt"
)

// HeartbeatTask is one row of the durable schedule: a named, cron-driven
// unit of work with its own lease, retry, and survival-tier gating.
type HeartbeatTask struct {
	TaskName       string  `db:"task_name"`
	ScheduleExpr   string  `db:"schedule_expr"`
	Enabled        bool    `db:"enabled"`
	Priority       int     `db:"priority"`
	TimeoutMs      int64   `db:"timeout_ms"`
	MaxRetries     int     `db:"max_retries"`
	TierMinimum    string  `db:"tier_minimum"`
	LastRunAt      *string `db:"last_run_at"`
	NextRunAt      *string `db:"next_run_at"`
	LastResult     *string `db:"last_result"`
	LastError      *string `db:"last_error"`
	RunCount       int64   `db:"run_count"`
	FailCount      int64   `db:"fail_count"`
	LeaseOwner     *string `db:"lease_owner"`
	LeaseExpiresAt *string `db:"lease_expires_at"`
}

// UpsertHeartbeatTask inserts or updates a task definition by name.
func (s *Store) UpsertHeartbeatTask(ctx context.Context, t HeartbeatTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeat_schedule (task_name, schedule_expr, enabled, priority, timeout_ms, max_retries, tier_minimum)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name) DO UPDATE SET
		   schedule_expr = excluded.schedule_expr,
		   enabled = excluded.enabled,
		   priority = excluded.priority,
		   timeout_ms = excluded.timeout_ms,
		   max_retries = excluded.max_retries,
		   tier_minimum = excluded.tier_minimum`,
		t.TaskName, t.ScheduleExpr, t.Enabled, t.Priority, t.TimeoutMs, t.MaxRetries, t.TierMinimum)
	if err != nil {
		return fmt.Errorf("store: upsert heartbeat_schedule: %w", err)
	}
	return nil
}

// DueHeartbeatTasks returns enabled tasks whose next_run_at is at or before
// nowRFC3339 and whose lease (if any) has expired, ordered by priority
// descending then task_name for determinism.
func (s *Store) DueHeartbeatTasks(ctx context.Context, nowRFC3339 string) ([]HeartbeatTask, error) {
	var tasks []HeartbeatTask
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT * FROM heartbeat_schedule
		 WHERE enabled = 1
		   AND (next_run_at IS NULL OR next_run_at <= ?)
		   AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		 ORDER BY priority DESC, task_name ASC`,
		nowRFC3339, nowRFC3339)
	if err != nil {
		return nil, fmt.Errorf("store: due heartbeat tasks: %w", err)
	}
	return tasks, nil
}

// AcquireHeartbeatLease atomically claims a task for owner until expiresAt,
// failing (ok=false) if another owner's lease is still live. This is the
// persisted half of overlap prevention; the in-process flag is the other.
func (s *Store) AcquireHeartbeatLease(ctx context.Context, taskName, owner, expiresAtRFC3339, nowRFC3339 string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE heartbeat_schedule
		 SET lease_owner = ?, lease_expires_at = ?
		 WHERE task_name = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)`,
		owner, expiresAtRFC3339, taskName, nowRFC3339)
	if err != nil {
		return false, fmt.Errorf("store: acquire heartbeat lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquire heartbeat lease rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseHeartbeatLease clears a task's lease and records its outcome.
func (s *Store) ReleaseHeartbeatLease(ctx context.Context, taskName, result string, taskErr *string, nextRunAtRFC3339 string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE heartbeat_schedule
		 SET lease_owner = NULL, lease_expires_at = NULL,
		     last_run_at = datetime('now'), next_run_at = ?,
		     last_result = ?, last_error = ?,
		     run_count = run_count + 1,
		     fail_count = fail_count + CASE WHEN ? = 'failure' THEN 1 ELSE 0 END
		 WHERE task_name = ?`,
		nextRunAtRFC3339, result, taskErr, result, taskName)
	if err != nil {
		return fmt.Errorf("store: release heartbeat lease: %w", err)
	}
	return nil
}

// ClearExpiredLeases releases every lease whose expiry has passed,
// regardless of owner — used by a periodic sweep to recover from a
// process that crashed mid-task without releasing its lease.
func (s *Store) ClearExpiredLeases(ctx context.Context, nowRFC3339 string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE heartbeat_schedule SET lease_owner = NULL, lease_expires_at = NULL
		 WHERE lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		nowRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: clear expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear expired leases rows: %w", err)
	}
	return n, nil
}

// InsertHeartbeatHistory appends one execution record for a task.
func (s *Store) InsertHeartbeatHistory(ctx context.Context, taskName, result string, taskErr *string, durationMs int64, shouldWake bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeat_history (task_name, started_at, ended_at, duration_ms, result, error, should_wake)
		 VALUES (?, datetime('now', ?), datetime('now'), ?, ?, ?, ?)`,
		taskName, fmt.Sprintf("-%d milliseconds", durationMs), durationMs, result, taskErr, shouldWake)
	if err != nil {
		return fmt.Errorf("store: insert heartbeat_history: %w", err)
	}
	return nil
}

// PruneExpiredDedupKeys deletes dedup rows whose expiry has passed,
// returning the count removed.
func (s *Store) PruneExpiredDedupKeys(ctx context.Context, nowRFC3339 string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM heartbeat_dedup WHERE expires_at <= ?`, nowRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: prune expired dedup keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune expired dedup keys rows: %w", err)
	}
	return n, nil
}

// ClaimDedupKey inserts a dedup row, returning ok=false if the key is
// already claimed and not yet expired (i.e. this tick is a duplicate wake).
func (s *Store) ClaimDedupKey(ctx context.Context, key, taskName, expiresAtRFC3339, nowRFC3339 string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `DELETE FROM heartbeat_dedup WHERE dedup_key = ? AND expires_at <= ?`, key, nowRFC3339)
	if err != nil {
		return false, fmt.Errorf("store: expire dedup key: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeat_dedup (dedup_key, task_name, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(dedup_key) DO NOTHING`,
		key, taskName, expiresAtRFC3339)
	if err != nil {
		return false, fmt.Errorf("store: claim dedup key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim dedup key rows: %w", err)
	}
	return n == 1, nil
}

// WakeEvent is a FIFO entry requesting the agent loop leave sleep early.
type WakeEvent struct {
	ID        int64   `db:"id"`
	Source    string  `db:"source"`
	Reason    string  `db:"reason"`
	Payload   *string `db:"payload"`
	Consumed  bool    `db:"consumed"`
	CreatedAt string  `db:"created_at"`
}

// EnqueueWakeEvent appends a wake request.
func (s *Store) EnqueueWakeEvent(ctx context.Context, source, reason string, payload *string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wake_events (source, reason, payload, consumed, created_at) VALUES (?, ?, ?, 0, datetime('now'))`,
		source, reason, payload)
	if err != nil {
		return fmt.Errorf("store: enqueue wake_event: %w", err)
	}
	return nil
}

// DrainWakeEvents returns all unconsumed wake events in FIFO order and
// marks them consumed in the same call.
func (s *Store) DrainWakeEvents(ctx context.Context) ([]WakeEvent, error) {
	var events []WakeEvent
	err := s.db.SelectContext(ctx, &events, `SELECT * FROM wake_events WHERE consumed = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: drain wake_events: %w", err)
	}
	if len(events) == 0 {
		return events, nil
	}
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	query, args, err := s.sqlxInRebind(`UPDATE wake_events SET consumed = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: build consume wake_events query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("store: consume wake_events: %w", err)
	}
	return events, nil
}
