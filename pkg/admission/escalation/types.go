package escalation

import "time"

// Tier is the severity assigned to an identifier.
type Tier string

const (
	// TierNormal is the default tier; no abuse observed.
	TierNormal Tier = "NORMAL"

	// TierWatch marks an identifier with repeated violations worth watching.
	TierWatch Tier = "WATCH"

	// TierHigh marks sustained violation pressure.
	TierHigh Tier = "HIGH"

	// TierCritical blocks the identifier outright until it cools down.
	TierCritical Tier = "CRITICAL"
)

// rank orders tiers for upward/downward comparisons.
func (t Tier) rank() int {
	switch t {
	case TierWatch:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// Above reports whether t is a more severe tier than other.
func (t Tier) Above(other Tier) bool {
	return t.rank() > other.rank()
}

// Transition is the outcome of evaluating one violation.
type Transition struct {
	// From and To are the tiers before and after evaluation.
	From Tier
	To   Tier

	// Escalated is true when this evaluation moved the identifier to a more
	// severe tier. Under concurrent evaluations exactly one caller observes
	// Escalated for a given transition.
	Escalated bool

	// WeightedCount is the weighted violation count over the horizon at
	// evaluation time.
	WeightedCount float64
}

// Violation describes a denial to be recorded.
type Violation struct {
	Identifier string
	RouteKey   string
	Weight     float64
	Sensitive  bool
	At         time.Time
}
