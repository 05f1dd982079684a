package store

import (
	"database/sql"
	"errors"
)

// wrapNotFound normalizes sql.ErrNoRows to the package's ErrNotFound so
// callers never need to import database/sql to check for a missing row.
func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

var (
	// ErrDSNRequired is returned when Open is called with a blank path.
	ErrDSNRequired = errors.New("store: database path is required")

	// ErrSchemaTooNew is returned when the on-disk schema_version exceeds the
	// highest version this binary knows how to read. Opening refuses rather
	// than risk silently misinterpreting newer columns or tables.
	ErrSchemaTooNew = errors.New("store: on-disk schema version is newer than this binary supports")

	// ErrIntegrityCheckFailed is returned when SQLite's integrity_check
	// pragma reports anything other than "ok". The store refuses to open a
	// file it cannot trust to be consistent.
	ErrIntegrityCheckFailed = errors.New("store: integrity check failed, database file may be corrupt or malformed")

	// ErrNotFound is returned by single-row accessors when no row matches.
	ErrNotFound = errors.New("store: record not found")

	// ErrClosed is returned when an operation is attempted on a closed Store.
	ErrClosed = errors.New("store: already closed")
)
