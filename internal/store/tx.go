package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Tx wraps a single SQLite transaction with the Store's identifier source,
// so accessor methods can be reused inside and outside RunTransaction.
type Tx struct {
	tx  *sqlx.Tx
	ids idGenerator
}

type idGenerator interface {
	New() string
}

// RunTransaction executes fn inside a single SQLite transaction. If fn
// returns an error, every write fn performed is rolled back; if fn panics,
// the transaction is rolled back and the panic re-raised. This is the only
// sanctioned way to perform multi-statement writes (e.g. persisting a Turn
// together with its ToolCallResults and inbox acknowledgements) because a
// crash between statements must never leave partial state visible.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	if s.closed {
		return ErrClosed
	}
	sqlxTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	tx := &Tx{tx: sqlxTx, ids: s.ids}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlxTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlxTx.Rollback()
		return err
	}

	if err := sqlxTx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
