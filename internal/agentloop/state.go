// Package agentloop implements the Agent Loop Controller: the bounded
// think/act/observe cycle that drives one turn at a time, gated by the
// policy engine and backed by the store's atomic transaction.
package agentloop

import (
	"time"

	"github.com/sentrycore/sentinel/internal/tools"
)

// AgentState is the controller's persisted lifecycle state.
type AgentState string

const (
	StateSetup      AgentState = "setup"
	StateWaking     AgentState = "waking"
	StateRunning    AgentState = "running"
	StateSleeping   AgentState = "sleeping"
	StateLowCompute AgentState = "low_compute"
	StateCritical   AgentState = "critical"
	// StateDead is reserved for an explicit termination signal; nothing in
	// this package's balance-driven transitions ever produces it.
	StateDead AgentState = "dead"
)

func validState(s AgentState) bool {
	switch s {
	case StateSetup, StateWaking, StateRunning, StateSleeping, StateLowCompute, StateCritical, StateDead:
		return true
	default:
		return false
	}
}

// Bounds matching spec.md §4.5's cycle invariants.
const (
	MaxToolCallsPerTurn  = 10
	MaxRepetitiveTurns   = 3
	MaxIdleTurns         = 3
	MaxConsecutiveErrors = 5

	IdleSleepDuration  = 60 * time.Second
	ErrorSleepDuration = 300 * time.Second
)

// BalanceUnreachable is the sentinel credit balance reported when the
// external sandbox is unreachable and no last-known cache exists. It sorts
// into scheduler.DeriveTier's lowest bucket without a special case.
const BalanceUnreachable int64 = -1

// mutatingTools is the fixed enumeration used by idle detection: a turn
// that calls none of these does not count as having done agent-initiated
// work, regardless of how many non-mutating calls (reads, chats) it made.
var mutatingTools = map[tools.Ident]bool{
	"write_file":             true,
	"edit_own_file":          true,
	"exec":                   true,
	"transfer_credits":       true,
	"x402_fetch":             true,
	"fund_child":             true,
	"install_npm_package":    true,
	"install_mcp_server":     true,
	"install_skill":          true,
	"create_skill":           true,
	"remove_skill":           true,
	"pull_upstream":          true,
	"expose_port":            true,
	"remove_port":            true,
	"modify_heartbeat":       true,
	"send_message":           true,
	"update_genesis_prompt":  true,
	"spawn_child":            true,
}

// IsMutating reports whether name is classified as a mutating tool for
// idle detection.
func IsMutating(name tools.Ident) bool {
	return mutatingTools[name]
}
