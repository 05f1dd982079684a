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

func eval(t *testing.T, rule policy.Rule, name string, args map[string]any) *policy.RuleResult {
	t.Helper()
	req := policy.Request{Tool: policy.ToolInfo{Name: tools.Ident(name)}, Args: args}
	result, err := rule.Evaluate(context.Background(), req)
	require.NoError(t, err)
	return result
}

func TestValidatePackageName(t *testing.T) {
	rule := rules.ValidatePackageName()

	assert.Nil(t, eval(t, rule, "install_npm_package", map[string]any{"package": "left-pad"}))
	assert.Nil(t, eval(t, rule, "install_npm_package", map[string]any{"package": "@scope/left-pad"}))

	denied := eval(t, rule, "install_npm_package", map[string]any{"package": "rm -rf /"})
	require.NotNil(t, denied)
	assert.Equal(t, policy.ActionDeny, denied.Action)
	assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
}

func TestValidateSkillName(t *testing.T) {
	rule := rules.ValidateSkillName()
	assert.Nil(t, eval(t, rule, "create_skill", map[string]any{"name": "deploy-tool"}))
	denied := eval(t, rule, "create_skill", map[string]any{"name": "bad name!"})
	require.NotNil(t, denied)
	assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
}

func TestValidateGitHash(t *testing.T) {
	rule := rules.ValidateGitHash()
	assert.Nil(t, eval(t, rule, "pull_upstream", map[string]any{"commit": "abc1234"}))
	assert.Nil(t, eval(t, rule, "pull_upstream", map[string]any{}), "commit is optional")
	denied := eval(t, rule, "pull_upstream", map[string]any{"commit": "not-a-hash"})
	require.NotNil(t, denied)
	assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
}

func TestValidatePortRange(t *testing.T) {
	rule := rules.ValidatePortRange()
	assert.Nil(t, eval(t, rule, "expose_port", map[string]any{"port": 8080}))
	assert.Nil(t, eval(t, rule, "expose_port", map[string]any{"port": float64(443)}))

	for _, bad := range []any{0, 65536, -1, "8080"} {
		denied := eval(t, rule, "expose_port", map[string]any{"port": bad})
		require.NotNil(t, denied, "port %v should be rejected", bad)
		assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
	}
}

func TestValidateCronExpression(t *testing.T) {
	rule := rules.ValidateCronExpression()
	assert.Nil(t, eval(t, rule, "modify_heartbeat", map[string]any{"schedule": "*/5 * * * *"}))
	denied := eval(t, rule, "modify_heartbeat", map[string]any{"schedule": "every 5 minutes"})
	require.NotNil(t, denied)
	assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
}

func TestValidateAddressFormat(t *testing.T) {
	rule := rules.ValidateAddressFormat()
	valid := "0x" + stringsRepeat("a", 40)
	assert.Nil(t, eval(t, rule, "transfer_credits", map[string]any{"to_address": valid}))
	denied := eval(t, rule, "transfer_credits", map[string]any{"to_address": "not-an-address"})
	require.NotNil(t, denied)
	assert.Equal(t, "VALIDATION_FAILED", denied.ReasonCode)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
