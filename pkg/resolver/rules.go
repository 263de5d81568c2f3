package resolver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/agentpress/syncbridge/pkg/errors"
)

// Severity classifies how disruptive a conflicting field is.
type Severity string

// Conflict severities, from least to most disruptive.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FieldRule configures classification and resolution for fields matching
// a path pattern (supports trailing-* and filepath.Match wildcards).
type FieldRule struct {
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Severity Severity `json:"severity" yaml:"severity"`
	Strategy Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// RuleTable resolves field paths to their configured rule. The most
// specific matching pattern wins.
type RuleTable struct {
	Rules []FieldRule `json:"rules" yaml:"rules"`
}

// DefaultRules returns the standard rule table: editorial status and
// decision fields are high severity, quality metrics medium, free-form
// metadata and tags low.
func DefaultRules() *RuleTable {
	return &RuleTable{
		Rules: []FieldRule{
			{Pattern: "status", Severity: SeverityHigh},
			{Pattern: "decision*", Severity: SeverityHigh},
			{Pattern: "stage", Severity: SeverityHigh},
			{Pattern: "quality_score", Severity: SeverityMedium},
			{Pattern: "reviewers*", Severity: SeverityMedium},
			{Pattern: "metadata*", Severity: SeverityLow},
			{Pattern: "tags*", Severity: SeverityLow, Strategy: StrategyAutoMerge},
			{Pattern: "*", Severity: SeverityMedium},
		},
	}
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule table %s: %w", path, err)
	}
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, errors.NewMalformedDataError("", path, "parsing rule table: "+err.Error())
	}
	for _, rule := range table.Rules {
		switch rule.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			return nil, errors.NewMalformedDataError("", path, "unknown severity "+string(rule.Severity))
		}
	}
	return &table, nil
}

// RuleFor returns the best matching rule for a field path. Priority is
// pattern specificity (longest pattern wins), then declaration order.
func (t *RuleTable) RuleFor(fieldPath string) FieldRule {
	var best FieldRule
	bestLen := -1
	for _, rule := range t.Rules {
		if MatchesPattern(fieldPath, rule.Pattern) && len(rule.Pattern) > bestLen {
			best = rule
			bestLen = len(rule.Pattern)
		}
	}
	if bestLen == -1 {
		return FieldRule{Pattern: "*", Severity: SeverityMedium}
	}
	return best
}

// MatchesPattern checks if a field path matches a pattern (supports * wildcards)
func MatchesPattern(fieldPath, pattern string) bool {
	// Handle exact matches
	if fieldPath == pattern {
		return true
	}

	// Handle simple wildcard at the end
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(fieldPath) >= len(prefix) && fieldPath[:len(prefix)] == prefix
	}

	// Handle filepath.Match patterns
	matched, err := filepath.Match(pattern, fieldPath)
	if err != nil {
		return false
	}
	return matched
}
