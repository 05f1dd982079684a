package rules

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/spend"
)

// TreasuryConfig mirrors spec.md §6's treasury policy defaults. Every
// financial rule below reads its threshold from here rather than a
// hardcoded constant, so an operator can retune limits without a code
// change.
type TreasuryConfig struct {
	MaxSingleTransferCents     int64
	MaxHourlyTransferCents     int64
	MaxDailyTransferCents      int64
	MinimumReserveCents        int64
	MaxX402PaymentCents        int64
	X402AllowedDomains         []string
	MaxTransfersPerTurn        int
	MaxInferenceDailyCents     int64
	RequireConfirmationAbove   int64
}

func isAllowedDomain(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, domain := range allowed {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// X402DomainAllowlist is financial.x402_domain_allowlist.
func X402DomainAllowlist(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.x402_domain_allowlist",
		RulePrio: 500,
		Selector: policy.ByName("x402_fetch"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			raw, ok := argString(req, "url")
			if !ok {
				return policy.Deny("DOMAIN_NOT_ALLOWED", "args.url is required"), nil
			}
			parsed, err := url.Parse(raw)
			if err != nil || parsed.Hostname() == "" {
				return policy.Deny("DOMAIN_NOT_ALLOWED", "args.url could not be parsed"), nil
			}
			if !isAllowedDomain(parsed.Hostname(), cfg.X402AllowedDomains) {
				return policy.Deny("DOMAIN_NOT_ALLOWED", fmt.Sprintf("hostname %q is not in the x402 domain allowlist", parsed.Hostname())), nil
			}
			return nil, nil
		},
	}
}

// X402MaxSingle enforces max_x402_payment_cents. Lifted into a real rule
// per spec.md §9 open question 1 (preferred, for audit uniformity, over
// leaving enforcement solely in the tool body).
func X402MaxSingle(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.x402_max_single",
		RulePrio: 500,
		Selector: policy.ByName("x402_fetch"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if cfg.MaxX402PaymentCents <= 0 {
				return nil, nil
			}
			amount, ok := asInt(req.Args["amount_cents"])
			if ok && int64(amount) > cfg.MaxX402PaymentCents {
				return policy.Deny("SPEND_LIMIT_EXCEEDED", fmt.Sprintf("payment of %d cents exceeds max_x402_payment_cents of %d", amount, cfg.MaxX402PaymentCents)), nil
			}
			return nil, nil
		},
	}
}

// TransferMaxSingle is financial.transfer_max_single.
func TransferMaxSingle(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.transfer_max_single",
		RulePrio: 500,
		Selector: policy.ByName("transfer_credits"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			amount, ok := asInt(req.Args["amount_cents"])
			if ok && int64(amount) > cfg.MaxSingleTransferCents {
				return policy.Deny("SPEND_LIMIT_EXCEEDED", fmt.Sprintf("amount_cents %d exceeds max_single_transfer_cents of %d", amount, cfg.MaxSingleTransferCents)), nil
			}
			return nil, nil
		},
	}
}

// MinimumReserve enforces minimum_reserve_cents against the proposed
// transfer amount subtracted from req.Context["credit_balance"]; with no
// credit_balance in the request context the rule has no opinion.
// Lifted into a real rule per spec.md §9 open question 1.
func MinimumReserve(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.minimum_reserve",
		RulePrio: 500,
		Selector: policy.ByName("transfer_credits"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if cfg.MinimumReserveCents <= 0 {
				return nil, nil
			}
			balance, ok := asInt(req.Context["credit_balance"])
			if !ok {
				return nil, nil
			}
			amount, _ := asInt(req.Args["amount_cents"])
			if int64(balance-amount) < cfg.MinimumReserveCents {
				return policy.Deny("SPEND_LIMIT_EXCEEDED", fmt.Sprintf("transfer would leave balance below minimum_reserve_cents of %d", cfg.MinimumReserveCents)), nil
			}
			return nil, nil
		},
	}
}

// TransferWindowCaps is financial.transfer_hourly_cap / _daily_cap, folded
// into one rule that reports which window was breached in its reason
// message since both share the same selector, amount source, and tracker.
func TransferWindowCaps(cfg TreasuryConfig, tracker *spend.Tracker) policy.Rule {
	return policy.Func{
		RuleID:   "financial.transfer_window_caps",
		RulePrio: 500,
		Selector: policy.ByName("transfer_credits"),
		EvaluateFn: func(ctx context.Context, req policy.Request) (*policy.RuleResult, error) {
			amount, _ := asInt(req.Args["amount_cents"])
			check, err := tracker.CheckLimit(ctx, int64(amount), spend.CategoryTransfer, cfg.MaxHourlyTransferCents, cfg.MaxDailyTransferCents)
			if err != nil {
				return policy.Deny("DB_UNAVAILABLE", "spend tracker unavailable while evaluating transfer window caps"), nil
			}
			if !check.Allowed {
				return policy.Deny("SPEND_LIMIT_EXCEEDED", check.Reason), nil
			}
			return nil, nil
		},
	}
}

// TurnTransferLimit is financial.turn_transfer_limit.
func TurnTransferLimit(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.turn_transfer_limit",
		RulePrio: 500,
		Selector: policy.ByName("transfer_credits"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if cfg.MaxTransfersPerTurn > 0 && req.TurnContext.TurnToolCallCount >= cfg.MaxTransfersPerTurn {
				return policy.Deny("TURN_TRANSFER_LIMIT", fmt.Sprintf("this turn has already made %d transfer(s), at max_transfers_per_turn of %d", req.TurnContext.TurnToolCallCount, cfg.MaxTransfersPerTurn)), nil
			}
			return nil, nil
		},
	}
}

// InferenceDailyCap is financial.inference_daily_cap. Canonical enforcement
// vector chosen per spec.md §9 open question 2: selects by tool name
// (chat, inference) rather than the domain-specific "conway" category, so
// the rule applies regardless of which provider category a future tool is
// registered under.
func InferenceDailyCap(cfg TreasuryConfig, tracker *spend.Tracker) policy.Rule {
	return policy.Func{
		RuleID:   "financial.inference_daily_cap",
		RulePrio: 500,
		Selector: policy.ByName("chat", "inference"),
		EvaluateFn: func(ctx context.Context, req policy.Request) (*policy.RuleResult, error) {
			if cfg.MaxInferenceDailyCents <= 0 {
				return nil, nil
			}
			daily, err := tracker.DailySpend(ctx, spend.CategoryInference)
			if err != nil {
				return policy.Deny("DB_UNAVAILABLE", "spend tracker unavailable while evaluating inference daily cap"), nil
			}
			if daily >= cfg.MaxInferenceDailyCents {
				return policy.Deny("INFERENCE_BUDGET_EXCEEDED", fmt.Sprintf("daily inference spend %d has reached max_inference_daily_cents of %d", daily, cfg.MaxInferenceDailyCents)), nil
			}
			return nil, nil
		},
	}
}

// RequireConfirmation is financial.require_confirmation: a soft gate that
// quarantines (rather than denies) transfers above the confirmation
// threshold, pending human approval.
func RequireConfirmation(cfg TreasuryConfig) policy.Rule {
	return policy.Func{
		RuleID:   "financial.require_confirmation",
		RulePrio: 500,
		Selector: policy.ByName("transfer_credits"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if cfg.RequireConfirmationAbove <= 0 {
				return nil, nil
			}
			amount, ok := asInt(req.Args["amount_cents"])
			if ok && int64(amount) > cfg.RequireConfirmationAbove {
				return policy.Quarantine("CONFIRMATION_REQUIRED", fmt.Sprintf("amount_cents %d exceeds require_confirmation_above_cents of %d", amount, cfg.RequireConfirmationAbove)), nil
			}
			return nil, nil
		},
	}
}
