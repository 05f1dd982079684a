// Package spend implements windowed spend accounting: fixed UTC hour/day
// bucket aggregation over categorized spend rows used by the policy engine's
// financial rules. All aggregation reads go through the store's indexed
// (category, window_hour) / (category, window_day) lookups, so checking a
// cap never scans the full ledger.
package spend

import (
	"context"
	"fmt"
	"time"

	"github.com/sentrycore/sentinel/internal/store"
)

// Category is a closed set of spend classifications. financial rules key
// off these tags rather than free-form strings.
type Category string

const (
	CategoryTransfer  Category = "transfer"
	CategoryX402      Category = "x402"
	CategoryInference Category = "inference"
	CategoryOther     Category = "other"
)

// Entry is the caller-supplied shape for record_spend; window_hour and
// window_day are computed internally so callers never derive them
// inconsistently.
type Entry struct {
	ToolName    string
	AmountCents int64
	Recipient   string
	Domain      string
	Category    Category
}

// LimitCheck is the result of check_limit: a pure function over current
// aggregates plus the supplied policy limits.
type LimitCheck struct {
	Allowed       bool
	CurrentHourly int64
	CurrentDaily  int64
	LimitHourly   int64
	LimitDaily    int64
	Reason        string
}

// Tracker is the Spend Tracker component, backed by the persistent store.
type Tracker struct {
	store *store.Store
	now   func() time.Time
}

// Option configures Tracker construction.
type Option func(*Tracker)

// WithClock overrides the time source; tests use this to pin window
// boundaries deterministically.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New constructs a Tracker over store.
func New(s *store.Store, opts ...Option) *Tracker {
	t := &Tracker{store: s, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// windowHour truncates to the ISO-8601 UTC hour, e.g. "2026-07-31T10".
func windowHour(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15")
}

// windowDay truncates to the ISO-8601 UTC day, e.g. "2026-07-31".
func windowDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// RecordSpend appends a spend row with window_hour/window_day derived
// deterministically from the tracker's clock, truncated to hour and day
// in UTC.
func (t *Tracker) RecordSpend(ctx context.Context, e Entry) error {
	if e.AmountCents < 0 {
		return fmt.Errorf("spend: amount_cents must be non-negative, got %d", e.AmountCents)
	}
	now := t.now()
	rec := store.SpendRecord{
		ToolName:    e.ToolName,
		AmountCents: e.AmountCents,
		Category:    string(e.Category),
		WindowHour:  windowHour(now),
		WindowDay:   windowDay(now),
	}
	if e.Recipient != "" {
		rec.Recipient = &e.Recipient
	}
	if e.Domain != "" {
		rec.Domain = &e.Domain
	}
	if _, err := t.store.RecordSpend(ctx, rec); err != nil {
		return fmt.Errorf("spend: record: %w", err)
	}
	return nil
}

// HourlySpend returns the sum of amount_cents for category in the current
// hour window.
func (t *Tracker) HourlySpend(ctx context.Context, category Category) (int64, error) {
	total, err := t.store.HourlySpend(ctx, string(category), windowHour(t.now()))
	if err != nil {
		return 0, fmt.Errorf("spend: hourly: %w", err)
	}
	return total, nil
}

// DailySpend returns the sum of amount_cents for category in the current
// day window.
func (t *Tracker) DailySpend(ctx context.Context, category Category) (int64, error) {
	total, err := t.store.DailySpend(ctx, string(category), windowDay(t.now()))
	if err != nil {
		return 0, fmt.Errorf("spend: daily: %w", err)
	}
	return total, nil
}

// CheckLimit evaluates whether adding amountCents to category's current
// window aggregates would reach or exceed limitHourly/limitDaily. A limit of 0
// means unlimited. Purely a read + arithmetic: callers perform the actual
// record_spend separately once a decision allows the call.
func (t *Tracker) CheckLimit(ctx context.Context, amountCents int64, category Category, limitHourly, limitDaily int64) (LimitCheck, error) {
	hourly, err := t.HourlySpend(ctx, category)
	if err != nil {
		return LimitCheck{}, err
	}
	daily, err := t.DailySpend(ctx, category)
	if err != nil {
		return LimitCheck{}, err
	}

	result := LimitCheck{
		CurrentHourly: hourly,
		CurrentDaily:  daily,
		LimitHourly:   limitHourly,
		LimitDaily:    limitDaily,
		Allowed:       true,
	}

	if limitHourly > 0 && hourly+amountCents >= limitHourly {
		result.Allowed = false
		result.Reason = fmt.Sprintf("Hourly %s cap of %d cents would be exceeded (current %d + proposed %d)", category, limitHourly, hourly, amountCents)
		return result, nil
	}
	if limitDaily > 0 && daily+amountCents >= limitDaily {
		result.Allowed = false
		result.Reason = fmt.Sprintf("Daily %s cap of %d cents would be exceeded (current %d + proposed %d)", category, limitDaily, daily, amountCents)
		return result, nil
	}
	return result, nil
}

// PruneOldRecords deletes spend rows older than retentionDays, returning
// the count removed.
func (t *Tracker) PruneOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := t.now().UTC().AddDate(0, 0, -retentionDays)
	n, err := t.store.PruneSpendOlderThanDay(ctx, windowDay(cutoff))
	if err != nil {
		return 0, fmt.Errorf("spend: prune: %w", err)
	}
	return n, nil
}
