// Package store provides the single embedded persistence layer backing the
// safety core: one SQLite file (plus its WAL journal) accessed through
// typed accessors. Multi-statement writes go through RunTransaction so a
// crash mid-write never leaves partial state visible to the next reader;
// single-statement accessors write through the connection directly.
package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sentrycore/sentinel/internal/idgen"
	"github.com/sentrycore/sentinel/internal/store/migrations"
	"github.com/sentrycore/sentinel/internal/telemetry"
)

// CurrentSchemaVersion is the highest schema_version this binary
// understands. Opening a database stamped with a higher version fails
// closed rather than risk misreading unknown columns.
const CurrentSchemaVersion = 1

// Store wraps a single SQLite database file and its generated identifiers.
type Store struct {
	db     *sqlx.DB
	ids    *idgen.Source
	log    telemetry.Logger
	path   string
	closed bool
}

// Option configures Store construction.
type Option func(*Store)

// WithLogger attaches a structured logger used for open/migration/close
// lifecycle events. Defaults to telemetry.NoopLogger when omitted.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if absent) the SQLite file at path, applies
// migrations, and verifies integrity before returning. The returned Store
// must be closed by the caller.
//
// path may be ":memory:" for ephemeral stores used in tests; file
// permissions are only enforced for real paths.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrDSNRequired
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *DB

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	s := &Store{db: db, ids: idgen.NewSource(), log: telemetry.NoopLogger{}, path: path}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
			s.log.Warn(ctx, "store: failed to enforce file permissions", "path", path, "error", err)
		}
	}

	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	var integrity string
	if err := s.db.GetContext(ctx, &integrity, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("store: run integrity_check: %w", err)
	}
	if !strings.EqualFold(integrity, "ok") {
		return fmt.Errorf("%w: integrity_check reported %q", ErrIntegrityCheckFailed, integrity)
	}

	current, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("%w: on-disk version %d, binary supports %d", ErrSchemaTooNew, current, CurrentSchemaVersion)
	}

	if err := migrations.Apply(ctx, s.db.DB); err != nil {
		return fmt.Errorf("store: apply migrations: %w", err)
	}

	if current < CurrentSchemaVersion {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
			CurrentSchemaVersion,
		); err != nil {
			return fmt.Errorf("store: record schema_version: %w", err)
		}
	}
	return nil
}

// readSchemaVersion returns 0 if the schema_version table has no rows yet
// (including when the table itself does not exist, which Apply creates).
func (s *Store) readSchemaVersion(ctx context.Context) (int, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`)
	if err != nil {
		return 0, fmt.Errorf("store: check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version *int
	if err := s.db.GetContext(ctx, &version,
		`SELECT max(version) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("store: read schema_version: %w", err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// NewID returns the next monotonic, sortable identifier.
func (s *Store) NewID() string {
	return s.ids.New()
}

// DB exposes the underlying *sqlx.DB for accessor files in this package.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
