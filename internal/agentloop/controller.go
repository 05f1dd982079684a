package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	inference "github.com/sentrycore/sentinel/internal/external/inference"

	"github.com/sentrycore/sentinel/internal/agentloop/sanitizer"
	"github.com/sentrycore/sentinel/internal/approval"
	"github.com/sentrycore/sentinel/internal/inbox"
	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/scheduler"
	"github.com/sentrycore/sentinel/internal/spend"
	"github.com/sentrycore/sentinel/internal/store"
	"github.com/sentrycore/sentinel/internal/telemetry"
	"github.com/sentrycore/sentinel/internal/tools"
)

const stateKVKey = "agentloop:agent_state"

// inboxClaimLimit bounds how many inbox messages a single idle cycle folds
// into one user input.
const inboxClaimLimit = 5

// Input is an explicit pending input a caller injects before Step, taking
// precedence over inbox claiming (e.g. a direct creator message already
// delivered through some channel other than the inbox).
type Input struct {
	Text   string
	Source policy.InputSource
}

// Outcome summarizes what one Step call did.
type Outcome struct {
	State         AgentState
	TurnID        string
	AssistantText string
	ToolCalls     int
	SleepFor      time.Duration
	Idle          bool
}

// StateChangeFunc is notified whenever the controller's AgentState changes.
type StateChangeFunc func(previous, next AgentState)

// Controller is the Agent Loop Controller.
type Controller struct {
	store     *store.Store
	engine    *policy.Engine
	registry  *tools.Registry
	inboxBox  *inbox.Box
	approvals *approval.Broker // optional; nil means quarantine behaves as deny
	balance   scheduler.BalanceSource
	inference inference.Client
	sanitize  *sanitizer.Sanitizer
	spend     *spend.Tracker // optional; nil means SessionSpendCents always reports 0
	log       telemetry.Logger
	now       func() time.Time

	onStateChange StateChangeFunc

	runID              string
	state              AgentState
	tier               scheduler.Tier
	idleTurnCount      int
	consecutiveErrors  int
	lastKnownBalance   *scheduler.Balance
	recentToolNameSets []map[string]struct{}
	wakeDrained        bool

	systemPrompt string
	modelID      string
	maxTokens    int
}

// Option configures Controller construction.
type Option func(*Controller)

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }
func WithLogger(l telemetry.Logger) Option   { return func(c *Controller) { c.log = l } }
func WithApprovalBroker(b *approval.Broker) Option {
	return func(c *Controller) { c.approvals = b }
}
func WithSpendTracker(t *spend.Tracker) Option { return func(c *Controller) { c.spend = t } }
func WithOnStateChange(fn StateChangeFunc) Option  { return func(c *Controller) { c.onStateChange = fn } }
func WithSystemPrompt(prompt string) Option        { return func(c *Controller) { c.systemPrompt = prompt } }
func WithModel(modelID string, maxTokens int) Option {
	return func(c *Controller) { c.modelID = modelID; c.maxTokens = maxTokens }
}

// New constructs a Controller and loads its persisted state. An absent or
// unreadable persisted state starts at StateSetup without a log entry; an
// invalid one coerces to StateSetup with an error log.
func New(ctx context.Context, s *store.Store, engine *policy.Engine, registry *tools.Registry, inboxBox *inbox.Box, bal scheduler.BalanceSource, infer inference.Client, sz *sanitizer.Sanitizer, runID string, opts ...Option) *Controller {
	c := &Controller{
		store:     s,
		engine:    engine,
		registry:  registry,
		inboxBox:  inboxBox,
		balance:   bal,
		inference: infer,
		sanitize:  sz,
		runID:     runID,
		log:       telemetry.NoopLogger{},
		now:       time.Now,
		state:     StateSetup,
		tier:      scheduler.TierNormal,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loadState(ctx)
	return c
}

func (c *Controller) loadState(ctx context.Context) {
	entry, err := c.store.GetKV(ctx, stateKVKey)
	if err != nil {
		c.state = StateSetup
		return
	}
	s := AgentState(entry.Value)
	if !validState(s) {
		c.log.Error(ctx, "agentloop: invalid persisted state, coercing to setup", "persisted", entry.Value)
		c.state = StateSetup
		return
	}
	c.state = s
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() AgentState { return c.state }

func (c *Controller) transition(ctx context.Context, next AgentState) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	if err := c.store.PutKV(ctx, stateKVKey, string(next)); err != nil {
		c.log.Error(ctx, "agentloop: failed to persist state transition", "from", prev, "to", next, "error", err)
	}
	if c.onStateChange != nil {
		c.onStateChange(prev, next)
	}
}

// drainStaleWakeEvents consumes every wake event enqueued before the loop
// started, exactly once, so they cannot re-wake a sleep that begins later
// in the same process lifetime.
func (c *Controller) drainStaleWakeEvents(ctx context.Context) {
	if c.wakeDrained {
		return
	}
	c.wakeDrained = true
	// DrainWakeEvents both reads and marks consumed in one call, so
	// whatever it returns here can never re-wake a later sleep.
	if _, err := c.store.DrainWakeEvents(ctx); err != nil {
		c.log.Error(ctx, "agentloop: failed to drain stale wake events", "error", err)
	}
}

// gateOnFinancialTier fetches the current balance (with last-known-cache
// fallback), recomputes the survival tier, and reports any transition.
func (c *Controller) gateOnFinancialTier(ctx context.Context) scheduler.Tier {
	bal, err := c.balance.FetchBalance(ctx)
	switch {
	case err == nil:
		c.lastKnownBalance = &bal
	case c.lastKnownBalance != nil:
		c.log.Warn(ctx, "agentloop: balance fetch failed, using last-known cache", "error", err)
		bal = *c.lastKnownBalance
	default:
		c.log.Error(ctx, "api_unreachable", "error", err)
		bal = scheduler.Balance{CreditCents: BalanceUnreachable}
	}

	tier := scheduler.DeriveTier(bal.CreditCents)
	c.tier = tier

	switch tier {
	case scheduler.TierCritical:
		c.transition(ctx, StateCritical)
	case scheduler.TierLowCompute:
		c.transition(ctx, StateLowCompute)
	default:
		switch c.state {
		case StateCritical, StateLowCompute, StateSetup, StateWaking, StateSleeping:
			c.transition(ctx, StateRunning)
		}
	}
	return tier
}

// gatherInput resolves this cycle's user input: an explicit pending Input
// takes precedence; otherwise inbox messages are claimed and sanitized.
// The returned claimed slice must be acknowledged or reconciled by the
// caller regardless of whether any content survived sanitization.
func (c *Controller) gatherInput(ctx context.Context, pending *Input) (text string, source policy.InputSource, claimed []inbox.Message, err error) {
	if pending != nil && pending.Text != "" {
		return pending.Text, pending.Source, nil, nil
	}

	msgs, err := c.inboxBox.Claim(ctx, inboxClaimLimit)
	if err != nil {
		return "", policy.InputSourceUndefined, nil, fmt.Errorf("agentloop: claim inbox: %w", err)
	}
	if len(msgs) == 0 {
		return "", policy.InputSourceUndefined, nil, nil
	}

	var combined string
	for _, m := range msgs {
		res := c.sanitize.Sanitize(m.FromAddr, sanitizer.ModeMessage, m.Content)
		if res.Blocked {
			c.log.Warn(ctx, "agentloop: inbox message blocked by sanitizer", "from", m.FromAddr, "reason", res.Reason)
			continue
		}
		if combined != "" {
			combined += "\n\n"
		}
		combined += fmt.Sprintf("[from %s] %s", m.FromAddr, res.Content)
	}
	return combined, policy.InputSourceAgent, msgs, nil
}

// buildRequest assembles the inference request from the system prompt,
// recent turn history, and this cycle's input.
func (c *Controller) buildRequest(ctx context.Context, userText string) (*inference.Request, error) {
	var messages []*inference.Message
	if c.systemPrompt != "" {
		messages = append(messages, &inference.Message{
			Role:  inference.ConversationRoleSystem,
			Parts: []inference.Part{inference.TextPart{Text: c.systemPrompt}},
		})
	}

	recent, err := c.store.RecentTurns(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("agentloop: recent turns: %w", err)
	}
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		if t.InputText != nil && *t.InputText != "" {
			messages = append(messages, &inference.Message{
				Role:  inference.ConversationRoleUser,
				Parts: []inference.Part{inference.TextPart{Text: *t.InputText}},
			})
		}
		if t.AssistantText != "" {
			messages = append(messages, &inference.Message{
				Role:  inference.ConversationRoleAssistant,
				Parts: []inference.Part{inference.TextPart{Text: t.AssistantText}},
			})
		}
	}

	if userText != "" {
		messages = append(messages, &inference.Message{
			Role:  inference.ConversationRoleUser,
			Parts: []inference.Part{inference.TextPart{Text: userText}},
		})
	}

	var defs []*inference.ToolDefinition
	for _, spec := range c.registry.All() {
		defs = append(defs, &inference.ToolDefinition{
			Name:        string(spec.Name),
			Description: spec.Description,
			InputSchema: json.RawMessage(spec.Payload.Schema),
		})
	}

	return &inference.Request{
		RunID:     c.runID,
		Model:     c.modelID,
		Messages:  messages,
		Tools:     defs,
		MaxTokens: c.maxTokens,
	}, nil
}

// injectLoopBreaker builds the system message forced onto the transcript
// when the last MaxRepetitiveTurns turns all called the identical
// tool-name set, and clears the tracked history so detection restarts.
func (c *Controller) injectLoopBreaker(ctx context.Context) string {
	c.recentToolNameSets = nil
	const msg = "You have repeated the same set of tool calls for several turns in a row. Stop and reconsider your approach before continuing."
	c.log.Warn(ctx, "agentloop: repetitive tool-call pattern detected, injecting course-correction", "turns", MaxRepetitiveTurns)
	return msg
}

func sameToolNameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (c *Controller) isRepetitive() bool {
	if len(c.recentToolNameSets) < MaxRepetitiveTurns {
		return false
	}
	first := c.recentToolNameSets[0]
	if len(first) == 0 {
		return false
	}
	for _, s := range c.recentToolNameSets[1:] {
		if !sameToolNameSet(first, s) {
			return false
		}
	}
	return true
}
