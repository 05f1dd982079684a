// Package scheduler implements the Durable Scheduler: a crash-safe
// heartbeat runner with per-task leases, dedup keys, a FIFO wake-event
// queue, and survival-tier gating, all backed by the persistent store.
package scheduler

// Tier classifies the agent's current financial survival state. Lower
// tiers gate out tasks whose tier_minimum requires more headroom than the
// agent currently has.
type Tier string

const (
	TierCritical    Tier = "critical"
	TierLowCompute  Tier = "low_compute"
	TierNormal      Tier = "normal"
	TierHigh        Tier = "high"
	// TierDead is reserved for an explicit terminal signal. Nothing in the
	// balance-derivation path ever produces it — see DeriveTier.
	TierDead Tier = "dead"
)

var tierRank = map[Tier]int{
	TierDead:       -1,
	TierCritical:   0,
	TierLowCompute: 1,
	TierNormal:     2,
	TierHigh:       3,
}

// Meets reports whether current satisfies a task's tier_minimum
// requirement: current must rank at or above minimum. TierDead never
// meets any minimum, including TierDead itself, since dead tasks don't run.
func Meets(current, minimum Tier) bool {
	if current == TierDead {
		return false
	}
	return tierRank[current] >= tierRank[minimum]
}

// DeriveTier maps a credit balance in cents to a survival tier using the
// default thresholds. Zero credits maps to critical, never dead: dead is
// explicit-only (spec.md §9 open question 3), set directly by whatever
// terminal condition the caller observed, never inferred from a balance.
func DeriveTier(balanceCents int64) Tier {
	switch {
	case balanceCents <= 10:
		return TierCritical
	case balanceCents <= 50:
		return TierLowCompute
	case balanceCents <= 100:
		return TierNormal
	default:
		return TierHigh
	}
}
