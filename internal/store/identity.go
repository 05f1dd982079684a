package store

import (
	"context"
	"fmt"
)

// SetIdentity upserts a key in the agent's identity table (self-description
// fields such as name, purpose, or operator contact).
func (s *Store) SetIdentity(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity (k, v, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = datetime('now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: set identity: %w", err)
	}
	return nil
}

// GetIdentity returns ErrNotFound if key is unset.
func (s *Store) GetIdentity(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT v FROM identity WHERE k = ?`, key)
	if err != nil {
		return "", wrapNotFound(err)
	}
	return value, nil
}

// AllIdentity returns the full identity key/value set.
func (s *Store) AllIdentity(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT k, v FROM identity`)
	if err != nil {
		return nil, fmt.Errorf("store: list identity: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan identity row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// InstalledTool is a Core Tool registration snapshot persisted for restart
// recovery and audit, distinct from the in-memory tool registry used at
// runtime.
type InstalledTool struct {
	Name         string `db:"name"`
	Category     string `db:"category"`
	RiskLevel    string `db:"risk_level"`
	Schema       string `db:"schema"`
	Tags         string `db:"tags"`
	InstalledAt  string `db:"installed_at"`
}

// UpsertInstalledTool records or updates a tool's registration snapshot.
func (s *Store) UpsertInstalledTool(ctx context.Context, t InstalledTool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installed_tools (name, category, risk_level, schema, tags, installed_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(name) DO UPDATE SET
		   category = excluded.category, risk_level = excluded.risk_level,
		   schema = excluded.schema, tags = excluded.tags`,
		t.Name, t.Category, t.RiskLevel, t.Schema, t.Tags)
	if err != nil {
		return fmt.Errorf("store: upsert installed_tool: %w", err)
	}
	return nil
}

// InstalledTools lists every registered tool snapshot.
func (s *Store) InstalledTools(ctx context.Context) ([]InstalledTool, error) {
	var tools []InstalledTool
	err := s.db.SelectContext(ctx, &tools, `SELECT * FROM installed_tools ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list installed_tools: %w", err)
	}
	return tools, nil
}

// SoulHistory is one version of the agent's persisted self-concept
// ("soul"), append-only and attributed to the actor that produced it.
type SoulHistory struct {
	Version         int64  `db:"version"`
	PreviousVersion *int64 `db:"previous_version"`
	Content         string `db:"content"`
	ChangeSource    string `db:"change_source"`
	CreatedAt       string `db:"created_at"`
}

// AppendSoulHistory inserts the next soul version, numbering it one past
// the current maximum.
func (s *Store) AppendSoulHistory(ctx context.Context, content, changeSource string) (SoulHistory, error) {
	var current *int64
	if err := s.db.GetContext(ctx, &current, `SELECT max(version) FROM soul_history`); err != nil {
		return SoulHistory{}, fmt.Errorf("store: current soul version: %w", err)
	}
	next := int64(1)
	var prev *int64
	if current != nil {
		next = *current + 1
		prev = current
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO soul_history (version, previous_version, content, change_source, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		next, prev, content, changeSource)
	if err != nil {
		return SoulHistory{}, fmt.Errorf("store: append soul_history: %w", err)
	}
	var out SoulHistory
	if err := s.db.GetContext(ctx, &out, `SELECT * FROM soul_history WHERE version = ?`, next); err != nil {
		return SoulHistory{}, fmt.Errorf("store: reload soul_history: %w", err)
	}
	return out, nil
}

// LatestSoul returns the most recent soul version, or ErrNotFound if none
// exists yet.
func (s *Store) LatestSoul(ctx context.Context) (SoulHistory, error) {
	var out SoulHistory
	err := s.db.GetContext(ctx, &out, `SELECT * FROM soul_history ORDER BY version DESC LIMIT 1`)
	if err != nil {
		return SoulHistory{}, wrapNotFound(err)
	}
	return out, nil
}
