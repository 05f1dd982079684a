package store

import (
	"context"
	"fmt"
)

// SpendRecord is one ledger entry against the treasury, bucketed into its
// hour/day windows at write time so windowed aggregates are O(1) index
// lookups rather than scans.
type SpendRecord struct {
	ID          int64   `db:"id"`
	ToolName    string  `db:"tool_name"`
	AmountCents int64   `db:"amount_cents"`
	Recipient   *string `db:"recipient"`
	Domain      *string `db:"domain"`
	Category    string  `db:"category"`
	WindowHour  string  `db:"window_hour"`
	WindowDay   string  `db:"window_day"`
	CreatedAt   string  `db:"created_at"`
}

// RecordSpend appends a ledger entry. windowHour/windowDay are precomputed
// by the caller (spend tracker) from the record's timestamp so this layer
// never needs to parse dates to answer windowed queries.
func (s *Store) RecordSpend(ctx context.Context, r SpendRecord) (SpendRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO spend_tracking (tool_name, amount_cents, recipient, domain, category, window_hour, window_day, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		r.ToolName, r.AmountCents, r.Recipient, r.Domain, r.Category, r.WindowHour, r.WindowDay)
	if err != nil {
		return SpendRecord{}, fmt.Errorf("store: record spend: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SpendRecord{}, fmt.Errorf("store: read spend id: %w", err)
	}
	var out SpendRecord
	if err := s.db.GetContext(ctx, &out, `SELECT * FROM spend_tracking WHERE id = ?`, id); err != nil {
		return SpendRecord{}, fmt.Errorf("store: reload spend record: %w", err)
	}
	return out, nil
}

// HourlySpend sums amount_cents for category within windowHour.
func (s *Store) HourlySpend(ctx context.Context, category, windowHour string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		`SELECT coalesce(sum(amount_cents), 0) FROM spend_tracking WHERE category = ? AND window_hour = ?`,
		category, windowHour)
	if err != nil {
		return 0, fmt.Errorf("store: hourly spend: %w", err)
	}
	return total, nil
}

// DailySpend sums amount_cents for category within windowDay.
func (s *Store) DailySpend(ctx context.Context, category, windowDay string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total,
		`SELECT coalesce(sum(amount_cents), 0) FROM spend_tracking WHERE category = ? AND window_day = ?`,
		category, windowDay)
	if err != nil {
		return 0, fmt.Errorf("store: daily spend: %w", err)
	}
	return total, nil
}

// PruneSpendOlderThanDay deletes spend_tracking rows whose window_day
// precedes cutoffDay (a "YYYY-MM-DD" string) and returns the rows removed.
func (s *Store) PruneSpendOlderThanDay(ctx context.Context, cutoffDay string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spend_tracking WHERE window_day < ?`, cutoffDay)
	if err != nil {
		return 0, fmt.Errorf("store: prune spend: %w", err)
	}
	return res.RowsAffected()
}
