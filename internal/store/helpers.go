package store

import "github.com/jmoiron/sqlx"

// sqlxInRebind expands a `IN (?)` placeholder for a slice argument and rebinds it
// for SQLite's `?` bindvar style.
func (s *Store) sqlxInRebind(query string, args ...any) (string, []any, error) {
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(expanded), expandedArgs, nil
}
