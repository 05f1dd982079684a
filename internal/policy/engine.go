package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sentrycore/sentinel/internal/telemetry"
	"github.com/sentrycore/sentinel/internal/tools"
)

// ToolRegistry resolves a tool name to the category/risk information
// selectors need. The agent loop's live tool registry satisfies this.
type ToolRegistry interface {
	Lookup(name tools.Ident) (ToolInfo, bool)
}

// DecisionLogger persists a Decision. Implemented by internal/store.Store;
// kept as a narrow interface so the engine's tests can stub it.
type DecisionLogger interface {
	InsertPolicyDecisionRecord(ctx context.Context, turnID *string, d Decision) error
}

// Engine is the Policy Engine: a priority-sorted rule set evaluated against
// every tool invocation request.
type Engine struct {
	rules    []Rule
	registry ToolRegistry
	logger   DecisionLogger
	log      telemetry.Logger
	clock    func() time.Time
}

// Option configures Engine construction.
type Option func(*Engine)

// WithClock overrides the time source used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithLogger attaches a structured logger for log-write failures, which
// per spec must never suppress the returned decision.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine constructs an Engine. rules are sorted by priority ascending at
// construction time, stable so equal-priority rules keep catalogue order
// as their tie-break.
func NewEngine(registry ToolRegistry, logger DecisionLogger, rules []Rule, opts ...Option) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	e := &Engine{
		rules:    sorted,
		registry: registry,
		logger:   logger,
		log:      telemetry.NoopLogger{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full algorithm from §4.3.3: resolve the tool, filter
// applicable rules by selector, evaluate in priority order with
// first-deny-wins / first-quarantine-otherwise semantics, hash the args,
// and durably log the decision. The returned error is non-nil only for
// conditions that prevent producing any decision at all (never for a rule
// failure, which is folded into the decision as RULE_ERROR/deny).
func (e *Engine) Evaluate(ctx context.Context, req Request, turnID *string) (Decision, error) {
	start := e.clock()

	tool, known := e.registry.Lookup(req.Tool.Name)
	if !known {
		tool = req.Tool
	}

	argsHash, err := HashArgs(req.Args)
	if err != nil {
		argsHash = ""
	}

	decision := Decision{
		ToolName:  tool.Name,
		RiskLevel: tool.RiskLevel,
		ArgsHash:  argsHash,
	}

	if !known {
		decision.Action = ActionDeny
		decision.ReasonCode = ReasonUnknownTool
		decision.HumanMessage = fmt.Sprintf("tool %q is not registered", req.Tool.Name)
		decision.LatencyMs = e.clock().Sub(start).Milliseconds()
		e.logDecision(ctx, turnID, decision)
		return decision, nil
	}

	req.Tool = tool

	var evaluated, triggered []string
	var finalDeny, finalQuarantine *RuleResult

	for _, rule := range e.rules {
		if !rule.AppliesTo().Matches(tool) {
			continue
		}
		evaluated = append(evaluated, rule.ID())

		result, evalErr := e.safeEvaluate(ctx, rule, req)
		if evalErr != nil {
			triggered = append(triggered, rule.ID())
			finalDeny = Deny(ReasonRuleError, evalErr.Error())
			finalDeny.ReasonCode = ReasonRuleError
			break
		}
		if result == nil {
			continue
		}
		triggered = append(triggered, rule.ID())
		if result.Action == ActionDeny {
			finalDeny = result
			break
		}
		if result.Action == ActionQuarantine && finalQuarantine == nil {
			finalQuarantine = result
		}
	}

	decision.RulesEvaluated = evaluated
	decision.RulesTriggered = triggered

	switch {
	case finalDeny != nil:
		decision.Action = ActionDeny
		decision.ReasonCode = finalDeny.ReasonCode
		decision.HumanMessage = finalDeny.Message
	case finalQuarantine != nil:
		decision.Action = ActionQuarantine
		decision.ReasonCode = finalQuarantine.ReasonCode
		decision.HumanMessage = finalQuarantine.Message
	default:
		decision.Action = ActionAllow
		decision.ReasonCode = ReasonAllowed
		decision.HumanMessage = "allowed"
	}

	decision.LatencyMs = e.clock().Sub(start).Milliseconds()
	e.logDecision(ctx, turnID, decision)
	return decision, nil
}

// safeEvaluate recovers a rule panic and folds it into an error, so a
// single misbehaving rule fails closed instead of crashing the loop.
func (e *Engine) safeEvaluate(ctx context.Context, rule Rule, req Request) (result *RuleResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID(), p)
		}
	}()
	return rule.Evaluate(ctx, req)
}

func (e *Engine) logDecision(ctx context.Context, turnID *string, decision Decision) {
	if e.logger == nil {
		return
	}
	if err := e.logger.InsertPolicyDecisionRecord(ctx, turnID, decision); err != nil {
		e.log.Warn(ctx, "policy: failed to log decision", "tool", decision.ToolName, "error", err)
	}
}
