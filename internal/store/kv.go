package store

import (
	"context"
	"fmt"
)

// KVEntry is a single row of the general-purpose kv table, used for
// scratch/ephemeral values that do not warrant their own table.
type KVEntry struct {
	Key       string `db:"k"`
	Value     string `db:"v"`
	CreatedAt string `db:"created_at"`
}

// PutKV upserts a key/value pair.
func (s *Store) PutKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (k, v, created_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: put kv %q: %w", key, err)
	}
	return nil
}

// GetKV returns ErrNotFound if key is absent.
func (s *Store) GetKV(ctx context.Context, key string) (KVEntry, error) {
	var e KVEntry
	err := s.db.GetContext(ctx, &e, `SELECT k, v, created_at FROM kv WHERE k = ?`, key)
	if err != nil {
		return KVEntry{}, wrapNotFound(err)
	}
	return e, nil
}

// DeleteKVReturning deletes key and returns the value it held, or
// ErrNotFound if it was already absent. Used by callers that need to
// consume a value exactly once (e.g. one-shot dedup tokens).
func (s *Store) DeleteKVReturning(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `DELETE FROM kv WHERE k = ? RETURNING v`, key)
	if err != nil {
		return "", wrapNotFound(err)
	}
	return value, nil
}

// PruneKVOlderThan deletes kv rows created before the given RFC3339
// timestamp and returns the number of rows removed.
func (s *Store) PruneKVOlderThan(ctx context.Context, cutoffRFC3339 string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE created_at < datetime(?)`, cutoffRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: prune kv: %w", err)
	}
	return res.RowsAffected()
}
