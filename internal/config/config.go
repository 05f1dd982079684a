// Package config loads the safety core's YAML configuration into a typed
// Config, applying the documented defaults to anything left zero-valued.
// Secrets are never embedded in the config file itself: each secret field
// names a separate file path, and the loader enforces restrictive
// permissions on every path it reads before trusting its contents.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentrycore/sentinel/internal/policy/rules"
	"github.com/sentrycore/sentinel/internal/scheduler"
)

// Treasury mirrors rules.TreasuryConfig in YAML-friendly form (cents as
// plain integers, durations omitted since every treasury limit in spec.md
// §6 is a flat amount or a count, never a duration).
type Treasury struct {
	MaxSingleTransferCents   int64    `yaml:"max_single_transfer_cents"`
	MaxHourlyTransferCents   int64    `yaml:"max_hourly_transfer_cents"`
	MaxDailyTransferCents    int64    `yaml:"max_daily_transfer_cents"`
	MinimumReserveCents      int64    `yaml:"minimum_reserve_cents"`
	MaxX402PaymentCents      int64    `yaml:"max_x402_payment_cents"`
	X402AllowedDomains       []string `yaml:"x402_allowed_domains"`
	MaxTransfersPerTurn      int      `yaml:"max_transfers_per_turn"`
	MaxInferenceDailyCents   int64    `yaml:"max_inference_daily_cents"`
	RequireConfirmationAbove int64    `yaml:"require_confirmation_above_cents"`
}

// ToRules converts a loaded Treasury section into the TreasuryConfig the
// policy rule catalogue consumes.
func (t Treasury) ToRules() rules.TreasuryConfig {
	return rules.TreasuryConfig{
		MaxSingleTransferCents:   t.MaxSingleTransferCents,
		MaxHourlyTransferCents:   t.MaxHourlyTransferCents,
		MaxDailyTransferCents:    t.MaxDailyTransferCents,
		MinimumReserveCents:      t.MinimumReserveCents,
		MaxX402PaymentCents:      t.MaxX402PaymentCents,
		X402AllowedDomains:       t.X402AllowedDomains,
		MaxTransfersPerTurn:      t.MaxTransfersPerTurn,
		MaxInferenceDailyCents:   t.MaxInferenceDailyCents,
		RequireConfirmationAbove: t.RequireConfirmationAbove,
	}
}

// Scheduler mirrors scheduler.Config plus the tick interval, which the
// scheduler itself doesn't own since the caller decides how often to tick.
type Scheduler struct {
	TickIntervalSeconds  int     `yaml:"tick_interval_seconds"`
	LowComputeMultiplier float64 `yaml:"low_compute_multiplier"`
	LeaseOwner           string  `yaml:"lease_owner"`
}

// TickInterval returns the configured tick interval as a time.Duration.
func (s Scheduler) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// ToSchedulerConfig converts a loaded Scheduler section into scheduler.Config.
func (s Scheduler) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		LowComputeMultiplier: s.LowComputeMultiplier,
		LeaseOwner:           s.LeaseOwner,
	}
}

// Model holds the inference model selection and per-turn token budget.
type Model struct {
	ID        string `yaml:"id"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Telemetry toggles which backends the process wires up at startup. Logging
// is always on (NoopLogger is the floor, never silence); metrics and
// tracing are opt-in since they require a configured OTEL collector.
type Telemetry struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Secrets names the files holding sensitive material. Each path is read
// directly by the relevant adapter at startup; the value never appears in
// the YAML document or in logs.
type Secrets struct {
	AnthropicAPIKeyFile string `yaml:"anthropic_api_key_file"`
	WalletKeyFile       string `yaml:"wallet_key_file"`
}

// Config is the root configuration document.
type Config struct {
	StorePath string    `yaml:"store_path"`
	RunID     string    `yaml:"run_id"`
	Treasury  Treasury  `yaml:"treasury"`
	Scheduler Scheduler `yaml:"scheduler"`
	Model     Model     `yaml:"model"`
	Telemetry Telemetry `yaml:"telemetry"`
	Secrets   Secrets   `yaml:"secrets"`
}

// Default returns the stated defaults from spec.md §6, used both as the
// zero-config fallback and as the base that Load fills gaps into.
func Default() Config {
	return Config{
		StorePath: "sentinel.db",
		RunID:     "default",
		Treasury: Treasury{
			MaxSingleTransferCents:   5000,
			MaxHourlyTransferCents:   10000,
			MaxDailyTransferCents:    25000,
			MinimumReserveCents:      1000,
			MaxX402PaymentCents:      100,
			X402AllowedDomains:       []string{"conway.tech"},
			MaxTransfersPerTurn:      2,
			MaxInferenceDailyCents:   50000,
			RequireConfirmationAbove: 1000,
		},
		Scheduler: Scheduler{
			TickIntervalSeconds:  60,
			LowComputeMultiplier: 0.5,
			LeaseOwner:           "sentinel",
		},
		Model: Model{
			ID:        "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
	}
}

// Load reads a YAML document at path and overlays it onto Default(),
// leaving any field the document omits at its zero value coerced back to
// the default by applyDefaults. A missing path is not an error: the
// defaults alone are returned, matching the teacher's zero-value Options
// pattern (features/policy/basic.Options).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills any field left at its zero value after unmarshaling
// with the corresponding Default() value, so a partial YAML document never
// silently zeroes out a numeric limit the operator didn't think to set.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.StorePath == "" {
		cfg.StorePath = d.StorePath
	}
	if cfg.RunID == "" {
		cfg.RunID = d.RunID
	}
	if cfg.Treasury.MaxSingleTransferCents == 0 {
		cfg.Treasury.MaxSingleTransferCents = d.Treasury.MaxSingleTransferCents
	}
	if cfg.Treasury.MaxHourlyTransferCents == 0 {
		cfg.Treasury.MaxHourlyTransferCents = d.Treasury.MaxHourlyTransferCents
	}
	if cfg.Treasury.MaxDailyTransferCents == 0 {
		cfg.Treasury.MaxDailyTransferCents = d.Treasury.MaxDailyTransferCents
	}
	if cfg.Treasury.MinimumReserveCents == 0 {
		cfg.Treasury.MinimumReserveCents = d.Treasury.MinimumReserveCents
	}
	if cfg.Treasury.MaxX402PaymentCents == 0 {
		cfg.Treasury.MaxX402PaymentCents = d.Treasury.MaxX402PaymentCents
	}
	if len(cfg.Treasury.X402AllowedDomains) == 0 {
		cfg.Treasury.X402AllowedDomains = d.Treasury.X402AllowedDomains
	}
	if cfg.Treasury.MaxTransfersPerTurn == 0 {
		cfg.Treasury.MaxTransfersPerTurn = d.Treasury.MaxTransfersPerTurn
	}
	if cfg.Treasury.MaxInferenceDailyCents == 0 {
		cfg.Treasury.MaxInferenceDailyCents = d.Treasury.MaxInferenceDailyCents
	}
	if cfg.Treasury.RequireConfirmationAbove == 0 {
		cfg.Treasury.RequireConfirmationAbove = d.Treasury.RequireConfirmationAbove
	}
	if cfg.Scheduler.TickIntervalSeconds == 0 {
		cfg.Scheduler.TickIntervalSeconds = d.Scheduler.TickIntervalSeconds
	}
	if cfg.Scheduler.LowComputeMultiplier == 0 {
		cfg.Scheduler.LowComputeMultiplier = d.Scheduler.LowComputeMultiplier
	}
	if cfg.Scheduler.LeaseOwner == "" {
		cfg.Scheduler.LeaseOwner = d.Scheduler.LeaseOwner
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = d.Model.ID
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = d.Model.MaxTokens
	}
}

// Validate checks invariants Load can't express through zero-value
// defaulting alone, and enforces file permissions on any secret path that
// is actually set (an unset path is the adapter's problem, not config's).
func (cfg Config) Validate() error {
	if cfg.Treasury.MinimumReserveCents >= cfg.Treasury.MaxDailyTransferCents {
		return fmt.Errorf("config: minimum_reserve_cents must be below max_daily_transfer_cents")
	}
	for _, p := range []string{cfg.Secrets.AnthropicAPIKeyFile, cfg.Secrets.WalletKeyFile} {
		if p == "" {
			continue
		}
		if err := checkSecretPermissions(p); err != nil {
			return err
		}
	}
	return nil
}

// checkSecretPermissions rejects a secret file that is group- or
// world-readable, mirroring spec.md §6's 0600/0700 requirement. Permission
// bits are not meaningful on Windows, so the check is skipped there.
func checkSecretPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: stat secret %s: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("config: secret %s must not be group- or world-accessible (have %o, want 0600 or stricter)", path, info.Mode().Perm())
	}
	return nil
}

// ReadSecret reads and trims a secret file, enforcing the same permission
// check Validate applies, so a secret loaded outside the Validate path
// (e.g. reloaded at runtime) is held to the same standard.
func ReadSecret(path string) (string, error) {
	if err := checkSecretPermissions(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read secret %s: %w", path, err)
	}
	return trimTrailingNewline(string(data)), nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
