// Package policy implements the priority-ordered rule evaluator that gates
// every tool invocation with an allow/deny/quarantine decision, with
// fail-closed semantics and a durable, append-only decision log.
package policy

import "github.com/sentrycore/sentinel/internal/tools"

// InputSource tags where a request originated, used to derive AuthorityLevel.
type InputSource string

const (
	InputSourceUndefined InputSource = ""
	InputSourceHeartbeat InputSource = "heartbeat"
	InputSourceCreator   InputSource = "creator"
	InputSourceAgent     InputSource = "agent"
	InputSourceSystem    InputSource = "system"
	InputSourceWakeup    InputSource = "wakeup"
)

// AuthorityLevel is derived from InputSource and gates dangerous-tier tools.
type AuthorityLevel string

const (
	AuthorityExternal AuthorityLevel = "external"
	AuthorityAgent    AuthorityLevel = "agent"
	AuthoritySystem   AuthorityLevel = "system"
)

// DeriveAuthority maps an input source to its authority level.
func DeriveAuthority(source InputSource) AuthorityLevel {
	switch source {
	case InputSourceCreator, InputSourceAgent:
		return AuthorityAgent
	case InputSourceSystem, InputSourceWakeup:
		return AuthoritySystem
	default: // InputSourceUndefined, InputSourceHeartbeat
		return AuthorityExternal
	}
}

// TurnContext carries the per-turn state rules need beyond the immediate
// tool call: how many tool calls this turn has made so far, and how much
// has already been committed to spend this session.
type TurnContext struct {
	InputSource       InputSource
	TurnToolCallCount int
	SessionSpendCents int64
}

// ToolInfo is the subset of a registered Core Tool a policy evaluation
// needs: enough to apply selectors without coupling policy to the full
// tools.ToolSpec execute handler.
type ToolInfo struct {
	Name      tools.Ident
	Category  string
	RiskLevel tools.RiskLevel
}

// Request is one policy evaluation's input.
type Request struct {
	Tool        ToolInfo
	Args        map[string]any
	Context     map[string]any
	TurnContext TurnContext
}
