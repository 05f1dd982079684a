package store

import (
	"context"
	"fmt"
)

// MemoryRecord is the common shape shared by the five memory tiers
// (working, episodic, semantic, procedural, relationship). Each tier is
// its own table so retention and pruning policy can differ per tier while
// the access pattern stays identical.
type MemoryRecord struct {
	ID        string  `db:"id"`
	Content   string  `db:"content"`
	ExpiresAt *string `db:"expires_at"`
	CreatedAt string  `db:"created_at"`
}

// MemoryTier names one of the five supported memory tables. Using a closed
// set of constants instead of a free-form string prevents a typo from
// silently querying the wrong table.
type MemoryTier string

const (
	MemoryWorking      MemoryTier = "working_memory"
	MemoryEpisodic     MemoryTier = "episodic_memory"
	MemorySemantic     MemoryTier = "semantic_memory"
	MemoryProcedural   MemoryTier = "procedural_memory"
	MemoryRelationship MemoryTier = "relationship_memory"
)

var memoryTables = map[MemoryTier]bool{
	MemoryWorking:      true,
	MemoryEpisodic:     true,
	MemorySemantic:     true,
	MemoryProcedural:   true,
	MemoryRelationship: true,
}

func (s *Store) memoryTable(tier MemoryTier) (string, error) {
	if !memoryTables[tier] {
		return "", fmt.Errorf("store: unknown memory tier %q", tier)
	}
	return string(tier), nil
}

// InsertMemory appends a record to the given tier.
func (s *Store) InsertMemory(ctx context.Context, tier MemoryTier, m MemoryRecord) (MemoryRecord, error) {
	table, err := s.memoryTable(tier)
	if err != nil {
		return MemoryRecord{}, err
	}
	if m.ID == "" {
		m.ID = s.ids.New()
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, content, expires_at, created_at) VALUES (?, ?, ?, datetime('now'))`, table),
		m.ID, m.Content, m.ExpiresAt)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("store: insert %s: %w", table, err)
	}
	var out MemoryRecord
	if err := s.db.GetContext(ctx, &out, fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, table), m.ID); err != nil {
		return MemoryRecord{}, fmt.Errorf("store: reload %s: %w", table, err)
	}
	return out, nil
}

// ListMemory returns every non-expired record in the given tier, most
// recent first.
func (s *Store) ListMemory(ctx context.Context, tier MemoryTier, nowRFC3339 string) ([]MemoryRecord, error) {
	table, err := s.memoryTable(tier)
	if err != nil {
		return nil, err
	}
	var records []MemoryRecord
	err = s.db.SelectContext(ctx, &records,
		fmt.Sprintf(`SELECT * FROM %s WHERE expires_at IS NULL OR expires_at > ? ORDER BY created_at DESC`, table),
		nowRFC3339)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", table, err)
	}
	return records, nil
}

// PruneExpiredMemory deletes expired records from the given tier and
// returns the count removed.
func (s *Store) PruneExpiredMemory(ctx context.Context, tier MemoryTier, nowRFC3339 string) (int64, error) {
	table, err := s.memoryTable(tier)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, table),
		nowRFC3339)
	if err != nil {
		return 0, fmt.Errorf("store: prune %s: %w", table, err)
	}
	return res.RowsAffected()
}

// InferenceCost is one recorded external inference call's token and dollar
// cost, used to roll up spend_tracking's "inference" category.
type InferenceCost struct {
	ID            int64  `db:"id"`
	Model         string `db:"model"`
	PromptTokens  int64  `db:"prompt_tokens"`
	OutputTokens  int64  `db:"output_tokens"`
	CostCents     int64  `db:"cost_cents"`
	CreatedAt     string `db:"created_at"`
}

// RecordInferenceCost appends a cost entry.
func (s *Store) RecordInferenceCost(ctx context.Context, c InferenceCost) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inference_costs (model, prompt_tokens, output_tokens, cost_cents, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		c.Model, c.PromptTokens, c.OutputTokens, c.CostCents)
	if err != nil {
		return fmt.Errorf("store: record inference_cost: %w", err)
	}
	return nil
}

// ModelRegistryEntry maps an abstract model class (e.g. "fast", "reasoning")
// to the concrete provider/model currently serving it, so operators can
// repoint a class without touching agent loop code.
type ModelRegistryEntry struct {
	ModelClass string `db:"model_class"`
	Provider   string `db:"provider"`
	ModelID    string `db:"model_id"`
	UpdatedAt  string `db:"updated_at"`
}

// SetModelRegistryEntry upserts the provider/model bound to a model class.
func (s *Store) SetModelRegistryEntry(ctx context.Context, e ModelRegistryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_registry (model_class, provider, model_id, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(model_class) DO UPDATE SET
		   provider = excluded.provider, model_id = excluded.model_id, updated_at = datetime('now')`,
		e.ModelClass, e.Provider, e.ModelID)
	if err != nil {
		return fmt.Errorf("store: set model_registry entry: %w", err)
	}
	return nil
}

// GetModelRegistryEntry returns ErrNotFound if modelClass is unregistered.
func (s *Store) GetModelRegistryEntry(ctx context.Context, modelClass string) (ModelRegistryEntry, error) {
	var e ModelRegistryEntry
	err := s.db.GetContext(ctx, &e, `SELECT * FROM model_registry WHERE model_class = ?`, modelClass)
	if err != nil {
		return ModelRegistryEntry{}, wrapNotFound(err)
	}
	return e, nil
}
