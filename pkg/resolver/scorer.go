package resolver

import (
	"context"

	"github.com/agentpress/syncbridge/pkg/entity"
)

// Scorer assigns a confidence in [0,1] that a conflict can be resolved
// automatically. Implementations may be remote (semantic similarity
// models); they must carry their own timeouts and have no side effects.
type Scorer interface {
	Score(ctx context.Context, c Conflict) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, c Conflict) (float64, error)

// Score implements the Scorer interface.
func (f ScorerFunc) Score(ctx context.Context, c Conflict) (float64, error) {
	return f(ctx, c)
}

// HeuristicScorer is the default deterministic scorer. It never consults
// anything outside the conflict itself, so repeated resolution runs of the
// same changeset produce identical results.
type HeuristicScorer struct{}

// NewHeuristicScorer creates a new HeuristicScorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score rates a conflict by severity and by how structurally close the two
// values are. High-severity fields score low so editorial decisions are
// escalated rather than silently merged.
func (s *HeuristicScorer) Score(_ context.Context, c Conflict) (float64, error) {
	base := 0.0
	switch c.Severity {
	case SeverityLow:
		base = 0.9
	case SeverityMedium:
		base = 0.85
	case SeverityHigh:
		base = 0.5
	default:
		base = 0.5
	}

	// Same-kind values are easier to merge than shape changes.
	if c.RegistryValue.Kind != c.AgentValue.Kind {
		base -= 0.2
	}

	// A deletion racing a modification is the riskiest shape.
	if c.RegistryValue.IsNull() != c.AgentValue.IsNull() {
		base -= 0.1
	}

	// List conflicts are mergeable by union.
	if c.RegistryValue.Kind == entity.KindList && c.AgentValue.Kind == entity.KindList {
		base += 0.1
	}

	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base, nil
}
