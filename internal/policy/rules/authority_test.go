package rules_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/policy/rules"
	"github.com/sentrycore/sentinel/internal/tools"
)

func evalWithAuthority(t *testing.T, rule policy.Rule, name string, riskLevel tools.RiskLevel, source policy.InputSource, args map[string]any) *policy.RuleResult {
	t.Helper()
	req := policy.Request{
		Tool:        policy.ToolInfo{Name: tools.Ident(name), RiskLevel: riskLevel},
		Args:        args,
		TurnContext: policy.TurnContext{InputSource: source},
	}
	result, err := rule.Evaluate(context.Background(), req)
	require.NoError(t, err)
	return result
}

func TestExternalToolRestriction(t *testing.T) {
	rule := rules.ExternalToolRestriction()

	denied := evalWithAuthority(t, rule, "exec", tools.RiskDangerous, policy.InputSourceUndefined, nil)
	require.NotNil(t, denied)
	assert.Equal(t, "EXTERNAL_DANGEROUS_TOOL", denied.ReasonCode)

	assert.Nil(t, evalWithAuthority(t, rule, "exec", tools.RiskDangerous, policy.InputSourceAgent, nil))
	assert.Nil(t, evalWithAuthority(t, rule, "exec", tools.RiskDangerous, policy.InputSourceSystem, nil))
}

func TestSelfModFromExternal(t *testing.T) {
	rule := rules.SelfModFromExternal()

	denied := evalWithAuthority(t, rule, "edit_own_file", tools.RiskDangerous, policy.InputSourceHeartbeat, map[string]any{"path": "policy.go"})
	require.NotNil(t, denied)
	assert.Equal(t, "EXTERNAL_SELF_MOD", denied.ReasonCode)

	assert.Nil(t, evalWithAuthority(t, rule, "edit_own_file", tools.RiskDangerous, policy.InputSourceAgent, map[string]any{"path": "policy.go"}), "agent authority may modify its own protected files")
	assert.Nil(t, evalWithAuthority(t, rule, "edit_own_file", tools.RiskDangerous, policy.InputSourceHeartbeat, map[string]any{"path": "notes.md"}), "non-protected path is unaffected")
}
