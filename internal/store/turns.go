package store

import (
	"context"
	"fmt"
)

// Turn is one pass through the agent loop's think/act/observe cycle.
type Turn struct {
	ID            string `db:"id"`
	CreatedAt     string `db:"created_at"`
	State         string `db:"state"`
	InputText     *string `db:"input_text"`
	InputSource   *string `db:"input_source"`
	AssistantText string `db:"assistant_text"`
	TokenUsage    int64   `db:"token_usage"`
	CostCents     int64   `db:"cost_cents"`
}

// InsertTurn creates a Turn row, assigning it a fresh identifier.
func (tx *Tx) InsertTurn(ctx context.Context, t Turn) (Turn, error) {
	t.ID = tx.ids.New()
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO turns (id, created_at, state, input_text, input_source, assistant_text, token_usage, cost_cents)
		 VALUES (?, datetime('now'), ?, ?, ?, ?, ?, ?)`,
		t.ID, t.State, t.InputText, t.InputSource, t.AssistantText, t.TokenUsage, t.CostCents)
	if err != nil {
		return Turn{}, fmt.Errorf("store: insert turn: %w", err)
	}
	return tx.getTurn(ctx, t.ID)
}

func (tx *Tx) getTurn(ctx context.Context, id string) (Turn, error) {
	var t Turn
	err := tx.tx.GetContext(ctx, &t, `SELECT * FROM turns WHERE id = ?`, id)
	if err != nil {
		return Turn{}, wrapNotFound(err)
	}
	return t, nil
}

// UpdateTurnState transitions a turn to a new lifecycle state within the
// surrounding transaction.
func (tx *Tx) UpdateTurnState(ctx context.Context, id, state string) error {
	_, err := tx.tx.ExecContext(ctx, `UPDATE turns SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("store: update turn state: %w", err)
	}
	return nil
}

// FinalizeTurn records the assistant's final text and resource usage.
func (tx *Tx) FinalizeTurn(ctx context.Context, id, assistantText string, tokenUsage, costCents int64) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE turns SET assistant_text = ?, token_usage = ?, cost_cents = ? WHERE id = ?`,
		assistantText, tokenUsage, costCents, id)
	if err != nil {
		return fmt.Errorf("store: finalize turn: %w", err)
	}
	return nil
}

// GetTurn reads a single turn outside of a transaction.
func (s *Store) GetTurn(ctx context.Context, id string) (Turn, error) {
	var t Turn
	err := s.db.GetContext(ctx, &t, `SELECT * FROM turns WHERE id = ?`, id)
	if err != nil {
		return Turn{}, wrapNotFound(err)
	}
	return t, nil
}

// RecentTurns returns up to limit turns ordered most-recent-first, used by
// loop/idle detection to inspect the last few turns' tool-name sets.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]Turn, error) {
	var turns []Turn
	err := s.db.SelectContext(ctx, &turns,
		`SELECT * FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	return turns, nil
}
