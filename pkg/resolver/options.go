package resolver

// Option configures a Resolver.
type Option func(*resolver)

// WithRules replaces the default field rule table.
func WithRules(rules *RuleTable) Option {
	return func(r *resolver) {
		if rules != nil {
			r.rules = rules
		}
	}
}

// WithScorer sets the confidence scorer. The heuristic scorer remains the
// fallback when the configured scorer fails.
func WithScorer(s Scorer) Option {
	return func(r *resolver) {
		if s != nil {
			r.scorer = s
		}
	}
}

// WithThreshold sets the minimum confidence for automatic resolution.
// Conflicts scoring below it are escalated.
func WithThreshold(t float64) Option {
	return func(r *resolver) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// WithEpsilon sets the tolerance for numeric value comparison.
func WithEpsilon(eps float64) Option {
	return func(r *resolver) {
		if eps >= 0 {
			r.epsilon = eps
		}
	}
}

// WithDefaultStrategy sets the strategy used when no rule matches a path.
func WithDefaultStrategy(s Strategy) Option {
	return func(r *resolver) {
		if s.Valid() {
			r.defaultStrategy = s
		}
	}
}
