package rules

import (
	"context"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/tools"
)

// ExternalToolRestriction is authority.external_tool_restriction.
func ExternalToolRestriction() policy.Rule {
	return policy.Func{
		RuleID:   "authority.external_tool_restriction",
		RulePrio: 400,
		Selector: policy.ByRisk(tools.RiskDangerous),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if policy.DeriveAuthority(req.TurnContext.InputSource) == policy.AuthorityExternal {
				return policy.Deny("EXTERNAL_DANGEROUS_TOOL", "dangerous-risk tools cannot be invoked with external authority"), nil
			}
			return nil, nil
		},
	}
}

// SelfModFromExternal is authority.self_mod_from_external.
func SelfModFromExternal() policy.Rule {
	return policy.Func{
		RuleID:   "authority.self_mod_from_external",
		RulePrio: 400,
		Selector: policy.ByName("edit_own_file", "write_file"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			if policy.DeriveAuthority(req.TurnContext.InputSource) != policy.AuthorityExternal {
				return nil, nil
			}
			path, ok := argString(req, "path")
			if ok && isProtected(path) {
				return policy.Deny("EXTERNAL_SELF_MOD", "external authority cannot modify a protected self-file"), nil
			}
			return nil, nil
		},
	}
}
