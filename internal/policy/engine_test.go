package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/tools"
)

type fakeRegistry struct {
	byName map[tools.Ident]policy.ToolInfo
}

func (f fakeRegistry) Lookup(name tools.Ident) (policy.ToolInfo, bool) {
	info, ok := f.byName[name]
	return info, ok
}

type fakeLogger struct {
	decisions []policy.Decision
	failWith  error
}

func (f *fakeLogger) InsertPolicyDecisionRecord(_ context.Context, _ *string, d policy.Decision) error {
	f.decisions = append(f.decisions, d)
	return f.failWith
}

func ruleAllow(id string, prio int, sel policy.Selector) policy.Rule {
	return policy.Func{RuleID: id, RulePrio: prio, Selector: sel, EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		return nil, nil
	}}
}

func ruleDeny(id string, prio int, sel policy.Selector, reason string) policy.Rule {
	return policy.Func{RuleID: id, RulePrio: prio, Selector: sel, EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		return policy.Deny(reason, reason), nil
	}}
}

func ruleQuarantine(id string, prio int, sel policy.Selector, reason string) policy.Rule {
	return policy.Func{RuleID: id, RulePrio: prio, Selector: sel, EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		return policy.Quarantine(reason, reason), nil
	}}
}

func rulePanics(id string, prio int, sel policy.Selector) policy.Rule {
	return policy.Func{RuleID: id, RulePrio: prio, Selector: sel, EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		panic("boom")
	}}
}

func ruleErrors(id string, prio int, sel policy.Selector) policy.Rule {
	return policy.Func{RuleID: id, RulePrio: prio, Selector: sel, EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		return nil, errors.New("db down")
	}}
}

func basicReq(name tools.Ident) policy.Request {
	return policy.Request{
		Tool: policy.ToolInfo{Name: name},
		Args: map[string]any{"x": 1},
	}
}

func TestEvaluate_UnknownToolDeniesBeforeRules(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{}}
	logger := &fakeLogger{}
	evaluated := false
	rule := policy.Func{RuleID: "r", RulePrio: 1, Selector: policy.All(), EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		evaluated = true
		return nil, nil
	}}
	engine := policy.NewEngine(registry, logger, []policy.Rule{rule})

	decision, err := engine.Evaluate(context.Background(), basicReq("ghost_tool"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	assert.Equal(t, policy.ReasonUnknownTool, decision.ReasonCode)
	assert.False(t, evaluated, "no rule should run for an unregistered tool")
	require.Len(t, logger.decisions, 1)
}

func TestEvaluate_FirstDenyWinsAndStopsEvaluation(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	ranSecond := false
	second := policy.Func{RuleID: "second", RulePrio: 20, Selector: policy.All(), EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
		ranSecond = true
		return nil, nil
	}}
	first := ruleDeny("first", 10, policy.All(), "NOPE")
	engine := policy.NewEngine(registry, logger, []policy.Rule{second, first})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	assert.Equal(t, "NOPE", decision.ReasonCode)
	assert.False(t, ranSecond, "evaluation must stop at the first deny")
	assert.Equal(t, []string{"first"}, decision.RulesTriggered)
}

func TestEvaluate_QuarantinePreemptedByLaterDeny(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	q := ruleQuarantine("q", 10, policy.All(), "SOFT")
	d := ruleDeny("d", 20, policy.All(), "HARD")
	engine := policy.NewEngine(registry, logger, []policy.Rule{q, d})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	assert.Equal(t, "HARD", decision.ReasonCode)
}

func TestEvaluate_QuarantineSurvivesWhenNoDenyFollows(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	q := ruleQuarantine("q", 10, policy.All(), "SOFT")
	a := ruleAllow("a", 20, policy.All())
	engine := policy.NewEngine(registry, logger, []policy.Rule{a, q})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionQuarantine, decision.Action)
	assert.Equal(t, "SOFT", decision.ReasonCode)
}

func TestEvaluate_NoApplicableRulesAllows(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	engine := policy.NewEngine(registry, logger, nil)

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionAllow, decision.Action)
	assert.Equal(t, policy.ReasonAllowed, decision.ReasonCode)
}

func TestEvaluate_RulePanicFailsClosed(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	engine := policy.NewEngine(registry, logger, []policy.Rule{rulePanics("p", 10, policy.All())})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	assert.Equal(t, policy.ReasonRuleError, decision.ReasonCode)
}

func TestEvaluate_RuleErrorFailsClosed(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	engine := policy.NewEngine(registry, logger, []policy.Rule{ruleErrors("e", 10, policy.All())})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	assert.Equal(t, policy.ReasonRuleError, decision.ReasonCode)
}

func TestEvaluate_SelectorFiltersNonApplicableRules(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	other := ruleDeny("other", 10, policy.ByName("different_tool"), "SHOULD_NOT_FIRE")
	engine := policy.NewEngine(registry, logger, []policy.Rule{other})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionAllow, decision.Action)
	assert.Empty(t, decision.RulesTriggered)
}

func TestEvaluate_LogFailureNeverSuppressesDecision(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{failWith: errors.New("disk full")}
	engine := policy.NewEngine(registry, logger, []policy.Rule{ruleDeny("d", 10, policy.All(), "NOPE")})

	decision, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionDeny, decision.Action)
	require.Len(t, logger.decisions, 1, "the attempt to log must still happen even though it fails")
}

func TestEvaluate_PriorityOrderingIsStableAcrossTies(t *testing.T) {
	registry := fakeRegistry{byName: map[tools.Ident]policy.ToolInfo{"t": {Name: "t"}}}
	logger := &fakeLogger{}
	var order []string
	mk := func(id string) policy.Rule {
		return policy.Func{RuleID: id, RulePrio: 100, Selector: policy.All(), EvaluateFn: func(context.Context, policy.Request) (*policy.RuleResult, error) {
			order = append(order, id)
			return nil, nil
		}}
	}
	engine := policy.NewEngine(registry, logger, []policy.Rule{mk("a"), mk("b"), mk("c")})

	_, err := engine.Evaluate(context.Background(), basicReq("t"), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
