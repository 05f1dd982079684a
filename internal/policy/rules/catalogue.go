package rules

import (
	"time"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/spend"
	"github.com/sentrycore/sentinel/internal/store"
)

// Catalogue wires the treasury config and the tracker/store dependencies
// the financial and rate-limit categories need into the full ordered Policy
// Rule Set. Every other category (validation, path, command, authority) is
// pure-data and needs no runtime dependency beyond the request itself.
func Catalogue(cfg TreasuryConfig, tracker *spend.Tracker, s *store.Store, now func() time.Time) []policy.Rule {
	if now == nil {
		now = time.Now
	}
	return []policy.Rule{
		// validation — 100
		ValidatePackageName(),
		ValidateSkillName(),
		ValidateGitHash(),
		ValidatePortRange(),
		ValidateCronExpression(),
		ValidateAddressFormat(),

		// path — 200
		ProtectedFiles(),
		ReadSensitive(),
		TraversalDetection(),

		// command — 300
		ShellInjection(),
		ForbiddenPatterns(),

		// authority — 400
		ExternalToolRestriction(),
		SelfModFromExternal(),

		// financial — 500
		X402DomainAllowlist(cfg),
		X402MaxSingle(cfg),
		TransferMaxSingle(cfg),
		MinimumReserve(cfg),
		TransferWindowCaps(cfg, tracker),
		TurnTransferLimit(cfg),
		InferenceDailyCap(cfg, tracker),
		RequireConfirmation(cfg),

		// rate — 600
		GenesisPromptDaily(s, now),
		SelfModHourly(s, now),
		SpawnDaily(s, now),
	}
}

// DefaultTreasuryConfig holds the stated defaults; a config loader may
// override any field.
func DefaultTreasuryConfig() TreasuryConfig {
	return TreasuryConfig{
		MaxSingleTransferCents:   5000,
		MaxHourlyTransferCents:   10000,
		MaxDailyTransferCents:    25000,
		MinimumReserveCents:      1000,
		MaxX402PaymentCents:      100,
		X402AllowedDomains:       []string{"conway.tech"},
		MaxTransfersPerTurn:      2,
		MaxInferenceDailyCents:   50000,
		RequireConfirmationAbove: 1000,
	}
}
