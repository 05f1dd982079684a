package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/store"
)

// rateLimited counts prior "allow" decisions for toolName in the trailing
// window and denies with reasonCode once the count reaches max. A store
// error fails closed with DB_UNAVAILABLE rather than surfacing as a
// generic rule error, so the engine's audit trail distinguishes "the rule
// said no" from "the rule couldn't tell". reasonCode is one of the stable,
// externally documented codes (RATE_LIMIT_GENESIS/_SELF_MOD/_SPAWN) and
// must not be renamed once shipped.
func rateLimited(ctx context.Context, s *store.Store, now func() time.Time, toolName, reasonCode string, window time.Duration, max int64) (*policy.RuleResult, error) {
	since := now().Add(-window).UTC().Format(time.RFC3339)
	count, err := policy.CountAllowedSince(ctx, s, toolName, since)
	if err != nil {
		return policy.Deny("DB_UNAVAILABLE", "policy decision log unavailable while evaluating rate limit"), nil
	}
	if count >= max {
		return policy.Deny(reasonCode, fmt.Sprintf("%s has reached %d allowed call(s) in the trailing %s", toolName, max, window)), nil
	}
	return nil, nil
}

// GenesisPromptDaily is rate.genesis_prompt_daily: the founding prompt may
// be rewritten at most once per day.
func GenesisPromptDaily(s *store.Store, now func() time.Time) policy.Rule {
	return policy.Func{
		RuleID:   "rate.genesis_prompt_daily",
		RulePrio: 600,
		Selector: policy.ByName("update_genesis_prompt"),
		EvaluateFn: func(ctx context.Context, req policy.Request) (*policy.RuleResult, error) {
			return rateLimited(ctx, s, now, "update_genesis_prompt", "RATE_LIMIT_GENESIS", 24*time.Hour, 1)
		},
	}
}

// SelfModHourly is rate.self_mod_hourly: self-modification is capped at 10
// allowed calls per rolling hour.
func SelfModHourly(s *store.Store, now func() time.Time) policy.Rule {
	return policy.Func{
		RuleID:   "rate.self_mod_hourly",
		RulePrio: 600,
		Selector: policy.ByName("edit_own_file"),
		EvaluateFn: func(ctx context.Context, req policy.Request) (*policy.RuleResult, error) {
			return rateLimited(ctx, s, now, "edit_own_file", "RATE_LIMIT_SELF_MOD", time.Hour, 10)
		},
	}
}

// SpawnDaily is rate.spawn_daily: spawning child agents is capped at 3
// allowed calls per rolling day.
func SpawnDaily(s *store.Store, now func() time.Time) policy.Rule {
	return policy.Func{
		RuleID:   "rate.spawn_daily",
		RulePrio: 600,
		Selector: policy.ByName("spawn_child"),
		EvaluateFn: func(ctx context.Context, req policy.Request) (*policy.RuleResult, error) {
			return rateLimited(ctx, s, now, "spawn_child", "RATE_LIMIT_SPAWN", 24*time.Hour, 3)
		},
	}
}
