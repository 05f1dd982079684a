// Package rules is the declarative Policy Rule Set: pure-data predicates
// grouped by category (validation, path protection, command safety,
// authority, financial, rate limiting) assembled into the catalogue the
// Policy Engine evaluates.
package rules

import (
	"context"
	"regexp"

	"github.com/sentrycore/sentinel/internal/policy"
)

var (
	packageNameRe = regexp.MustCompile(`^[@A-Za-z0-9._/-]+$`)
	skillNameRe   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	gitHashRe     = regexp.MustCompile(`^[a-f0-9]{7,40}$`)
	addressRe     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

func argString(req policy.Request, key string) (string, bool) {
	v, ok := req.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ValidatePackageName is validate.package_name.
func ValidatePackageName() policy.Rule {
	return policy.Func{
		RuleID:   "validate.package_name",
		RulePrio: 100,
		Selector: policy.ByName("install_npm_package", "install_mcp_server"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			pkg, ok := argString(req, "package")
			if !ok || !packageNameRe.MatchString(pkg) {
				return policy.Deny("VALIDATION_FAILED", "args.package does not match the allowed package name pattern"), nil
			}
			return nil, nil
		},
	}
}

// ValidateSkillName is validate.skill_name.
func ValidateSkillName() policy.Rule {
	return policy.Func{
		RuleID:   "validate.skill_name",
		RulePrio: 100,
		Selector: policy.ByName("install_skill", "create_skill", "remove_skill"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			name, ok := argString(req, "name")
			if !ok || !skillNameRe.MatchString(name) {
				return policy.Deny("VALIDATION_FAILED", "args.name does not match the allowed skill name pattern"), nil
			}
			return nil, nil
		},
	}
}

// ValidateGitHash is validate.git_hash.
func ValidateGitHash() policy.Rule {
	return policy.Func{
		RuleID:   "validate.git_hash",
		RulePrio: 100,
		Selector: policy.ByName("pull_upstream"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			commit, present := argString(req, "commit")
			if present && !gitHashRe.MatchString(commit) {
				return policy.Deny("VALIDATION_FAILED", "args.commit is present but not a valid git commit hash"), nil
			}
			return nil, nil
		},
	}
}

// ValidatePortRange is validate.port_range.
func ValidatePortRange() policy.Rule {
	return policy.Func{
		RuleID:   "validate.port_range",
		RulePrio: 100,
		Selector: policy.ByName("expose_port", "remove_port"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			port, ok := asInt(req.Args["port"])
			if !ok || port < 1 || port > 65535 {
				return policy.Deny("VALIDATION_FAILED", "args.port is not an integer in 1..65535"), nil
			}
			return nil, nil
		},
	}
}

var cronFieldsRe = regexp.MustCompile(`^\S+\s+\S+\s+\S+\s+\S+\s+\S+$`)

// ValidateCronExpression is validate.cron_expression.
func ValidateCronExpression() policy.Rule {
	return policy.Func{
		RuleID:   "validate.cron_expression",
		RulePrio: 100,
		Selector: policy.ByName("modify_heartbeat"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			schedule, ok := argString(req, "schedule")
			if !ok || !cronFieldsRe.MatchString(schedule) {
				return policy.Deny("VALIDATION_FAILED", "args.schedule is not 5 space-separated cron fields"), nil
			}
			return nil, nil
		},
	}
}

// ValidateAddressFormat is validate.address_format.
func ValidateAddressFormat() policy.Rule {
	return policy.Func{
		RuleID:   "validate.address_format",
		RulePrio: 100,
		Selector: policy.ByName("transfer_credits", "send_message", "fund_child"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			addr, ok := argString(req, "to_address")
			if !ok {
				addr, ok = argString(req, "address")
			}
			if !ok || !addressRe.MatchString(addr) {
				return policy.Deny("VALIDATION_FAILED", "destination address does not match 0x-prefixed 40 hex chars"), nil
			}
			return nil, nil
		},
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
