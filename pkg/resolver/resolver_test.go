package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpress/syncbridge/pkg/detector"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

func changeset(entityID string, changes ...detector.FieldChange) *detector.ChangeSet {
	return &detector.ChangeSet{
		EntityID:   entityID,
		Changes:    changes,
		DetectedAt: utc.Now(),
	}
}

func change(path string, source entity.Source, newVal entity.Value, at utc.Time) detector.FieldChange {
	return detector.FieldChange{
		Path:       path,
		Old:        entity.Null(),
		New:        newVal,
		Source:     source,
		ModifiedAt: at,
	}
}

func TestResolveSingleSideChange(t *testing.T) {
	cs := changeset("model/claude",
		change("description", entity.SourceAgentStore, entity.String("updated"), utc.Now()))

	resolutions, escalations, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Empty(t, escalations)
	require.Len(t, resolutions, 1)

	res := resolutions[0]
	assert.Equal(t, StrategySourceWins, res.Strategy)
	assert.Equal(t, entity.SourceAgentStore, res.Source)
	assert.Equal(t, "updated", res.Value.Str)
	assert.Equal(t, ResolvedByAuto, res.ResolvedBy)
}

func TestResolveConvergedValues(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("description", entity.SourceRegistry, entity.String("same"), now),
		change("description", entity.SourceAgentStore, entity.String("same"), now))

	resolutions, escalations, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Empty(t, escalations)
	require.Len(t, resolutions, 1)
	assert.Equal(t, "same", resolutions[0].Value.Str)
	assert.Contains(t, resolutions[0].Reason, "converged")
}

func TestResolveLatestWins(t *testing.T) {
	earlier := utc.New(time.Now().Add(-time.Hour))
	later := utc.Now()
	cs := changeset("model/claude",
		change("description", entity.SourceRegistry, entity.String("stale"), earlier),
		change("description", entity.SourceAgentStore, entity.String("fresh"), later))

	resolutions, escalations, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Empty(t, escalations)
	require.Len(t, resolutions, 1)

	res := resolutions[0]
	assert.Equal(t, StrategyLatestWins, res.Strategy)
	assert.Equal(t, entity.SourceAgentStore, res.Source)
	assert.Equal(t, "fresh", res.Value.Str)
}

func TestResolveEqualStampsPreferRegistry(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("description", entity.SourceRegistry, entity.String("registry"), now),
		change("description", entity.SourceAgentStore, entity.String("agent"), now))

	resolutions, _, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, entity.SourceRegistry, resolutions[0].Source)
	assert.Contains(t, resolutions[0].Reason, "default authority")
}

func TestResolveHighSeverityEscalates(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("status", entity.SourceRegistry, entity.String("published"), now),
		change("status", entity.SourceAgentStore, entity.String("retracted"), now))

	resolutions, escalations, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Empty(t, resolutions)
	require.Len(t, escalations, 1)

	esc := escalations[0]
	assert.Equal(t, "model/claude#status", esc.ID)
	assert.Equal(t, "model/claude", esc.EntityID)
	assert.Equal(t, SeverityHigh, esc.Conflict.Severity)
	assert.Equal(t, "published", esc.Conflict.RegistryValue.Str)
	assert.Equal(t, "retracted", esc.Conflict.AgentValue.Str)
}

func TestResolveAutoMergeLists(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("tags", entity.SourceRegistry,
			entity.ListOf(entity.String("llm"), entity.String("chat")), now),
		change("tags", entity.SourceAgentStore,
			entity.ListOf(entity.String("chat"), entity.String("vision")), now))

	resolutions, escalations, err := New().Resolve(context.Background(), cs)
	require.NoError(t, err)
	require.Empty(t, escalations)
	require.Len(t, resolutions, 1)

	res := resolutions[0]
	assert.Equal(t, StrategyAutoMerge, res.Strategy)
	require.Len(t, res.Value.List, 3)
	assert.Equal(t, "llm", res.Value.List[0].Str)
	assert.Equal(t, "chat", res.Value.List[1].Str)
	assert.Equal(t, "vision", res.Value.List[2].Str)
}

func TestResolveDeterministic(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("tags", entity.SourceRegistry, entity.ListOf(entity.String("a")), now),
		change("tags", entity.SourceAgentStore, entity.ListOf(entity.String("b")), now),
		change("quality_score", entity.SourceRegistry, entity.Number(0.9), now),
		change("quality_score", entity.SourceAgentStore, entity.Number(0.4), now))

	r := New()
	first, firstEsc, err := r.Resolve(context.Background(), cs)
	require.NoError(t, err)
	second, secondEsc, err := r.Resolve(context.Background(), cs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, firstEsc, secondEsc)
}

func TestResolveScorerFallback(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("quality_score", entity.SourceRegistry, entity.Number(0.9), now),
		change("quality_score", entity.SourceAgentStore, entity.Number(0.4), now))

	failing := ScorerFunc(func(context.Context, Conflict) (float64, error) {
		return 0, fmt.Errorf("remote scorer unavailable")
	})

	resolutions, escalations, err := New(WithScorer(failing)).Resolve(context.Background(), cs)
	require.NoError(t, err)
	// The deterministic heuristic takes over and still resolves.
	assert.Len(t, resolutions, 1)
	assert.Empty(t, escalations)
}

func TestResolveThresholdEscalation(t *testing.T) {
	now := utc.Now()
	cs := changeset("model/claude",
		change("quality_score", entity.SourceRegistry, entity.Number(0.9), now),
		change("quality_score", entity.SourceAgentStore, entity.Number(0.4), now))

	confident := ScorerFunc(func(context.Context, Conflict) (float64, error) {
		return 0.99, nil
	})
	unsure := ScorerFunc(func(context.Context, Conflict) (float64, error) {
		return 0.2, nil
	})

	resolutions, escalations, err := New(WithScorer(confident)).Resolve(context.Background(), cs)
	require.NoError(t, err)
	assert.Len(t, resolutions, 1)
	assert.Empty(t, escalations)

	resolutions, escalations, err = New(WithScorer(unsure)).Resolve(context.Background(), cs)
	require.NoError(t, err)
	assert.Empty(t, resolutions)
	assert.Len(t, escalations, 1)
}

func TestHeuristicScorer(t *testing.T) {
	scorer := NewHeuristicScorer()

	score := func(c Conflict) float64 {
		s, err := scorer.Score(context.Background(), c)
		require.NoError(t, err)
		return s
	}

	low := score(Conflict{Severity: SeverityLow,
		RegistryValue: entity.String("a"), AgentValue: entity.String("b")})
	high := score(Conflict{Severity: SeverityHigh,
		RegistryValue: entity.String("a"), AgentValue: entity.String("b")})
	assert.Greater(t, low, high)

	sameKind := score(Conflict{Severity: SeverityMedium,
		RegistryValue: entity.String("a"), AgentValue: entity.String("b")})
	kindChange := score(Conflict{Severity: SeverityMedium,
		RegistryValue: entity.String("a"), AgentValue: entity.Number(1)})
	assert.Greater(t, sameKind, kindChange)

	deletion := score(Conflict{Severity: SeverityMedium,
		RegistryValue: entity.Null(), AgentValue: entity.String("b")})
	assert.Less(t, deletion, sameKind)
}

func TestRuleForSpecificity(t *testing.T) {
	table := &RuleTable{Rules: []FieldRule{
		{Pattern: "*", Severity: SeverityMedium},
		{Pattern: "metadata*", Severity: SeverityLow},
		{Pattern: "metadata.owner", Severity: SeverityHigh},
	}}

	assert.Equal(t, SeverityHigh, table.RuleFor("metadata.owner").Severity)
	assert.Equal(t, SeverityLow, table.RuleFor("metadata.notes").Severity)
	assert.Equal(t, SeverityMedium, table.RuleFor("anything").Severity)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - pattern: "status"
    severity: high
    strategy: escalate
  - pattern: "*"
    severity: medium
`), 0o644))

	table, err := LoadRules(path)
	require.NoError(t, err)
	rule := table.RuleFor("status")
	assert.Equal(t, SeverityHigh, rule.Severity)
	assert.Equal(t, StrategyEscalate, rule.Strategy)

	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - pattern: "status"
    severity: catastrophic
`), 0o644))
	_, err = LoadRules(path)
	assert.Error(t, err)

	// A missing file is a configuration mistake, not a store outage the
	// retry policy should back off on.
	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.False(t, errors.IsStoreUnavailable(err))
	assert.False(t, errors.IsRetryable(err))
}
