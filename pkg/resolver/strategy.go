package resolver

// Strategy names a conflict resolution policy for a field.
type Strategy string

// Resolution strategies.
const (
	// StrategyLatestWins takes the side with the most recent per-field
	// modification stamp; equal stamps fall back to StrategyRegistryWins.
	StrategyLatestWins Strategy = "latest_wins"

	// StrategyRegistryWins always takes the registry's value. The registry
	// is the default authority for ties and unresolvable cases.
	StrategyRegistryWins Strategy = "registry_wins"

	// StrategyAgentWins always takes the agent store's value.
	StrategyAgentWins Strategy = "agent_wins"

	// StrategySourceWins applies a non-conflicting change from whichever
	// side made it.
	StrategySourceWins Strategy = "source_wins"

	// StrategyAutoMerge unions list values when both sides appended.
	StrategyAutoMerge Strategy = "auto_merge"

	// StrategyEscalate never resolves automatically.
	StrategyEscalate Strategy = "escalate"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLatestWins, StrategyRegistryWins, StrategyAgentWins,
		StrategySourceWins, StrategyAutoMerge, StrategyEscalate:
		return true
	}
	return false
}

// ResolvedBy identifies who decided a resolution.
type ResolvedBy string

// Resolution deciders.
const (
	ResolvedByAuto  ResolvedBy = "auto"
	ResolvedByHuman ResolvedBy = "human"
)
