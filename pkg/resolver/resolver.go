// Package resolver classifies detected field changes as conflicting or
// not and decides how each one is applied. Resolution is deterministic:
// given the same changeset and configuration, repeated runs produce
// identical output.
package resolver

import (
	"context"

	"github.com/agentstation/utc"

	"github.com/agentpress/syncbridge/pkg/detector"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

// DefaultAutoThreshold is the minimum confidence for automatic resolution.
const DefaultAutoThreshold = 0.8

// Conflict describes the same field changed incompatibly on both sides
// since the last synchronization. Conflicts are transient: created during
// resolution and consumed immediately into a Resolution or Escalation.
type Conflict struct {
	ChangeID            string       `json:"change_id"`
	Path                string       `json:"field_path"`
	Severity            Severity     `json:"severity"`
	RegistryValue       entity.Value `json:"registry_value"`
	AgentValue          entity.Value `json:"agent_value"`
	RegistryStamp       utc.Time     `json:"registry_modified_at"`
	AgentStamp          utc.Time     `json:"agent_modified_at"`
	RecommendedStrategy Strategy     `json:"recommended_strategy"`
	Confidence          float64      `json:"confidence"`
}

// Resolution is the decided outcome for one field path.
type Resolution struct {
	Path       string        `json:"field_path"`
	Strategy   Strategy      `json:"strategy"`
	Value      entity.Value  `json:"merged_value"`
	Source     entity.Source `json:"source,omitempty"` // winning side, when one side won
	ResolvedBy ResolvedBy    `json:"resolved_by"`
	Severity   Severity      `json:"severity,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Escalation is a conflict whose confidence fell below the automatic
// threshold; it must be queryable so a human can resolve it without
// re-deriving the conflict.
type Escalation struct {
	ID       string   `json:"id"`
	EntityID string   `json:"entity_id"`
	Conflict Conflict `json:"conflict"`
	RaisedAt utc.Time `json:"raised_at"`
}

// Resolver decides resolutions for a changeset.
type Resolver interface {
	// Resolve returns one Resolution per automatically resolvable field
	// path and one Escalation per path needing human review. The error
	// return is for malformed input only.
	Resolve(ctx context.Context, cs *detector.ChangeSet) ([]Resolution, []Escalation, error)
}

// resolver is the default implementation of Resolver.
type resolver struct {
	rules           *RuleTable
	scorer          Scorer
	fallback        Scorer
	threshold       float64
	epsilon         float64
	defaultStrategy Strategy
}

// New creates a new Resolver with default settings.
func New(opts ...Option) Resolver {
	r := &resolver{
		rules:           DefaultRules(),
		scorer:          NewHeuristicScorer(),
		fallback:        NewHeuristicScorer(),
		threshold:       DefaultAutoThreshold,
		epsilon:         1e-9,
		defaultStrategy: StrategyLatestWins,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve classifies every changed path and decides its outcome.
func (r *resolver) Resolve(ctx context.Context, cs *detector.ChangeSet) ([]Resolution, []Escalation, error) {
	resolutions := []Resolution{}
	escalations := []Escalation{}

	grouped := cs.ByPath()
	for _, path := range cs.Paths() {
		changes := grouped[path]

		registry, agent, err := splitBySource(path, changes)
		if err != nil {
			return nil, nil, err
		}

		// Only one side modified the field: not a conflict, the change
		// applies as-is.
		if registry == nil || agent == nil {
			c := agent
			if registry != nil {
				c = registry
			}
			resolutions = append(resolutions, Resolution{
				Path:       path,
				Strategy:   StrategySourceWins,
				Value:      c.New,
				Source:     c.Source,
				ResolvedBy: ResolvedByAuto,
				Reason:     "only " + c.Source.String() + " changed this field",
			})
			continue
		}

		// Both sides landed on the same value: converged, nothing to merge.
		if registry.New.Equal(agent.New, r.epsilon) {
			resolutions = append(resolutions, Resolution{
				Path:       path,
				Strategy:   StrategySourceWins,
				Value:      registry.New,
				Source:     entity.SourceRegistry,
				ResolvedBy: ResolvedByAuto,
				Reason:     "both sides converged on the same value",
			})
			continue
		}

		conflict, err := r.classify(ctx, cs.EntityID, path, registry, agent)
		if err != nil {
			return nil, nil, err
		}

		if conflict.RecommendedStrategy == StrategyEscalate || conflict.Confidence < r.threshold {
			escalations = append(escalations, Escalation{
				ID:       conflict.ChangeID,
				EntityID: cs.EntityID,
				Conflict: conflict,
				RaisedAt: cs.DetectedAt,
			})
			continue
		}

		resolutions = append(resolutions, r.decide(conflict))
	}

	return resolutions, escalations, nil
}

// classify builds the Conflict record for a field both sides changed.
func (r *resolver) classify(ctx context.Context, entityID, path string, registry, agent *detector.FieldChange) (Conflict, error) {
	rule := r.rules.RuleFor(path)
	strategy := rule.Strategy
	if strategy == "" {
		strategy = r.defaultStrategy
	}

	conflict := Conflict{
		ChangeID:            entityID + "#" + path,
		Path:                path,
		Severity:            rule.Severity,
		RegistryValue:       registry.New,
		AgentValue:          agent.New,
		RegistryStamp:       registry.ModifiedAt,
		AgentStamp:          agent.ModifiedAt,
		RecommendedStrategy: strategy,
	}

	confidence, err := r.scorer.Score(ctx, conflict)
	if err != nil {
		// The scorer may be remote; a scoring failure falls back to the
		// deterministic heuristic rather than failing the run.
		confidence, err = r.fallback.Score(ctx, conflict)
		if err != nil {
			return Conflict{}, errors.NewSyncError(entityID, "score", 0, err)
		}
	}
	conflict.Confidence = confidence

	return conflict, nil
}

// decide resolves a conflict whose confidence cleared the threshold.
func (r *resolver) decide(c Conflict) Resolution {
	res := Resolution{
		Path:       c.Path,
		Strategy:   c.RecommendedStrategy,
		ResolvedBy: ResolvedByAuto,
		Severity:   c.Severity,
		Confidence: c.Confidence,
	}

	switch c.RecommendedStrategy {
	case StrategyRegistryWins:
		res.Value = c.RegistryValue
		res.Source = entity.SourceRegistry
		res.Reason = "registry is authoritative for this field"

	case StrategyAgentWins:
		res.Value = c.AgentValue
		res.Source = entity.SourceAgentStore
		res.Reason = "agent store is authoritative for this field"

	case StrategyAutoMerge:
		if merged, ok := mergeLists(c.RegistryValue, c.AgentValue, r.epsilon); ok {
			res.Value = merged
			res.Reason = "list union of both sides"
			return res
		}
		// Not mergeable shapes: fall through to latest wins.
		res.Strategy = StrategyLatestWins
		fallthrough

	default: // StrategyLatestWins
		winner, side := latestWins(c)
		res.Value = winner
		res.Source = side
		if side == entity.SourceRegistry && !c.RegistryStamp.After(c.AgentStamp) {
			res.Reason = "equal stamps, registry is the default authority"
		} else {
			res.Reason = "most recent per-field modification wins"
		}
	}

	return res
}

// latestWins picks the side with the later per-field modification stamp.
// Exactly equal stamps prefer the registry, the default authority, to
// guarantee determinism.
func latestWins(c Conflict) (entity.Value, entity.Source) {
	if c.AgentStamp.After(c.RegistryStamp) {
		return c.AgentValue, entity.SourceAgentStore
	}
	return c.RegistryValue, entity.SourceRegistry
}

// mergeLists unions two list values, registry elements first, deduplicated
// structurally. Returns false when either side is not a list.
func mergeLists(a, b entity.Value, epsilon float64) (entity.Value, bool) {
	if a.Kind != entity.KindList || b.Kind != entity.KindList {
		return entity.Value{}, false
	}
	merged := make([]entity.Value, 0, len(a.List)+len(b.List))
	merged = append(merged, a.List...)
	for _, elem := range b.List {
		dup := false
		for _, existing := range merged {
			if existing.Equal(elem, epsilon) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, elem)
		}
	}
	return entity.Value{Kind: entity.KindList, List: merged}, true
}

// splitBySource separates a path's changes into the registry's and the
// agent store's. More than one change per source at the same path means
// the detector's invariants were violated upstream.
func splitBySource(path string, changes []detector.FieldChange) (registry, agent *detector.FieldChange, err error) {
	for i := range changes {
		c := &changes[i]
		switch c.Source {
		case entity.SourceRegistry:
			if registry != nil {
				return nil, nil, errors.NewMalformedDataError("", path, "duplicate registry change")
			}
			registry = c
		case entity.SourceAgentStore:
			if agent != nil {
				return nil, nil, errors.NewMalformedDataError("", path, "duplicate agent store change")
			}
			agent = c
		default:
			return nil, nil, errors.NewMalformedDataError("", path, "unknown change source "+c.Source.String())
		}
	}
	return registry, agent, nil
}
