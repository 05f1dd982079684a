package rules

import (
	"context"
	"regexp"

	"github.com/sentrycore/sentinel/internal/policy"
)

// shellInterpolatedTools names tools whose arguments are interpolated into
// a shell command string rather than passed as an argv vector, making
// shell metacharacters dangerous.
var shellInterpolatedTools = []string{"exec"}

var shellMetacharRe = regexp.MustCompile("[;|&$`\n(){}<>]")

// forbiddenCommandPatterns are self-destruct, credential-harvest, and
// safety-modification command shapes exec must never run regardless of
// caller authority.
var forbiddenCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // fork bomb
	regexp.MustCompile(`(?i)curl.*\|\s*sh`),
	regexp.MustCompile(`(?i)wget.*\|\s*sh`),
	regexp.MustCompile(`(?i)cat\s+.*(id_rsa|\.ssh/|wallet\.json|\.env)\b`),
	regexp.MustCompile(`(?i)(disable|remove|uninstall).*(policy|safety|sandbox)`),
	regexp.MustCompile(`(?i)chmod\s+777\s+/`),
}

func shellArgFields(req policy.Request) []string {
	var fields []string
	for _, key := range []string{"command", "cmd", "args", "script"} {
		if s, ok := argString(req, key); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

// ShellInjection is command.shell_injection.
func ShellInjection() policy.Rule {
	return policy.Func{
		RuleID:   "command.shell_injection",
		RulePrio: 300,
		Selector: policy.ByName(toIdents(shellInterpolatedTools)...),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			for _, field := range shellArgFields(req) {
				if shellMetacharRe.MatchString(field) {
					return policy.Deny("SHELL_INJECTION_DETECTED", "declared argument field contains shell metacharacters"), nil
				}
			}
			return nil, nil
		},
	}
}

// ForbiddenPatterns is command.forbidden_patterns.
func ForbiddenPatterns() policy.Rule {
	return policy.Func{
		RuleID:   "command.forbidden_patterns",
		RulePrio: 300,
		Selector: policy.ByName("exec"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			command, ok := argString(req, "command")
			if !ok {
				command, _ = argString(req, "cmd")
			}
			for _, pattern := range forbiddenCommandPatterns {
				if pattern.MatchString(command) {
					return policy.Deny("FORBIDDEN_COMMAND", "command matches a forbidden self-destruct, credential-harvest, or safety-modification pattern"), nil
				}
			}
			return nil, nil
		},
	}
}
