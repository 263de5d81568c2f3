package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/lock"
	"github.com/agentpress/syncbridge/pkg/resolver"
	"github.com/agentpress/syncbridge/pkg/store"
)

var testID = entity.ID{Type: "model", ID: "claude"}

type fixture struct {
	registry *store.Memory
	agent    *store.Memory
	ledger   eventstore.Store
	locks    lock.Manager
	coord    Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		registry: store.NewMemory(entity.SourceRegistry),
		agent:    store.NewMemory(entity.SourceAgentStore),
		ledger:   eventstore.NewMemory(),
		locks:    lock.NewMemory(lock.WithAcquireTimeout(200 * time.Millisecond)),
	}
	all := append([]Option{
		WithEventStore(f.ledger),
		WithLockManager(f.locks),
		WithRetryAfter(time.Second),
	}, opts...)
	f.coord = New(f.registry, f.agent, all...)
	return f
}

func seeded(version int64, fields map[string]entity.Value, stamp utc.Time) entity.State {
	s := entity.NewState()
	for k, v := range fields {
		s.Set(k, v, stamp)
	}
	s.Version = version
	return s
}

func eventTypes(t *testing.T, ledger eventstore.Store, id entity.ID) []eventstore.Type {
	t.Helper()
	evs, err := ledger.Replay(context.Background(), id.String(), 1)
	require.NoError(t, err)
	out := make([]eventstore.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestSyncNoopWhenConvergent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := utc.Now()
	state := seeded(1, map[string]entity.Value{"name": entity.String("claude")}, now)
	f.registry.Seed(testID, state)
	f.agent.Seed(testID, state)

	// Field identical on both sides with an empty baseline still reads as
	// both sides "adding" the same value, which converges without writes.
	res, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.NotEmpty(t, res.RunID)

	// Now fully convergent: the next run is a noop.
	res, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.True(t, res.Noop)
	first := res.LedgerVersion

	// A repeated convergent run at the same store versions does not grow
	// the ledger.
	res, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, first, res.LedgerVersion)
}

func TestSyncPropagatesSingleSideChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := utc.Now()
	f.registry.Seed(testID, seeded(1, map[string]entity.Value{
		"name":        entity.String("claude"),
		"description": entity.String("fast model"),
	}, now))

	res, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.False(t, res.Noop)
	assert.True(t, res.Applied())
	require.Len(t, res.Resolutions, 2)
	assert.Empty(t, res.Escalations)

	// The agent store was created with the registry's fields.
	ag, err := f.agent.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "claude", ag.Get("name").Str)
	assert.Equal(t, "fast model", ag.Get("description").Str)
	assert.Equal(t, int64(1), ag.Version)

	// The registry itself was not rewritten.
	reg, err := f.registry.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.Version)

	assert.Equal(t, []eventstore.Type{eventstore.TypeChangesApplied}, eventTypes(t, f.ledger, testID))

	// The baseline advanced: the next run is a noop.
	res, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.True(t, res.Noop)
}

func TestSyncResolvesConflictLatestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"description": entity.String("v1")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	// Both sides edit the same field; the agent store's edit is newer.
	f.registry.Seed(testID, seeded(2, map[string]entity.Value{
		"description": entity.String("registry edit"),
	}, utc.New(time.Now().Add(-time.Hour))))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{
		"description": entity.String("agent edit"),
	}, utc.Now()))

	res, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, entity.SourceAgentStore, res.Resolutions[0].Source)
	assert.Greater(t, res.Resolutions[0].Confidence, 0.0)

	// Both stores hold the winning value.
	reg, err := f.registry.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "agent edit", reg.Get("description").Str)
	ag, err := f.agent.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "agent edit", ag.Get("description").Str)

	types := eventTypes(t, f.ledger, testID)
	assert.Equal(t, eventstore.TypeConflictResolved, types[len(types)-1])
}

func TestSyncEscalatesHighSeverityConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"status": entity.String("draft")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	f.registry.Seed(testID, seeded(2, map[string]entity.Value{
		"status": entity.String("published"),
	}, utc.Now()))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{
		"status": entity.String("retracted"),
	}, utc.Now()))

	res, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialSuccess, res.Outcome)
	assert.Empty(t, res.Resolutions)
	require.Len(t, res.Escalations, 1)

	// Neither store was touched.
	reg, err := f.registry.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "published", reg.Get("status").Str)
	ag, err := f.agent.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "retracted", ag.Get("status").Str)

	pending := f.coord.Escalations()
	require.Len(t, pending, 1)
	assert.Equal(t, "model/claude#status", pending[0].ID)

	types := eventTypes(t, f.ledger, testID)
	assert.Contains(t, types, eventstore.TypeEscalationRaised)

	// Until a human decides, re-running re-detects the same conflict
	// instead of auto-applying either side.
	res, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialSuccess, res.Outcome)
	assert.Len(t, f.coord.Escalations(), 1)
}

func TestResolveEscalationWithWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"status": entity.String("draft")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	f.registry.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("published")}, utc.Now()))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("retracted")}, utc.Now()))
	_, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	res, err := f.coord.ResolveEscalation(ctx, "model/claude#status", Decision{
		Winner:     entity.SourceAgentStore,
		ResolvedBy: "alex",
		Note:       "retraction was intentional",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, resolver.ResolvedByHuman, res.Resolutions[0].ResolvedBy)

	// Both stores converged on the decided value.
	reg, err := f.registry.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "retracted", reg.Get("status").Str)
	ag, err := f.agent.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "retracted", ag.Get("status").Str)

	assert.Empty(t, f.coord.Escalations())
	types := eventTypes(t, f.ledger, testID)
	assert.Equal(t, eventstore.TypeEscalationResolved, types[len(types)-1])

	// The baseline advanced past the conflict: the next run is a noop.
	nres, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.True(t, nres.Noop)
}

func TestResolveEscalationWithExplicitValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"status": entity.String("draft")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	f.registry.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("published")}, utc.Now()))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("retracted")}, utc.Now()))
	_, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	value := entity.String("under_review")
	res, err := f.coord.ResolveEscalation(ctx, "model/claude#status", Decision{Value: &value})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	reg, err := f.registry.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "under_review", reg.Get("status").Str)
	ag, err := f.agent.Read(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "under_review", ag.Get("status").Str)
}

func TestResolveEscalationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.ResolveEscalation(ctx, "whatever", Decision{})
	assert.Error(t, err)

	_, err = f.coord.ResolveEscalation(ctx, "missing", Decision{Winner: entity.SourceRegistry})
	assert.True(t, errors.IsNotFound(err))
}

// writeFailingAdapter reads normally but rejects writes, simulating a
// store that degrades mid-run.
type writeFailingAdapter struct {
	*store.Memory
	mu       sync.Mutex
	failing  bool
	attempts int
}

func (a *writeFailingAdapter) Write(ctx context.Context, id entity.ID, state entity.State, expectedVersion int64) error {
	a.mu.Lock()
	failing := a.failing
	a.attempts++
	a.mu.Unlock()
	if failing {
		return errors.WrapStore(string(a.Source()), "write", id.String(), errors.ErrStoreUnavailable)
	}
	return a.Memory.Write(ctx, id, state, expectedVersion)
}

func (a *writeFailingAdapter) setFailing(failing bool) {
	a.mu.Lock()
	a.failing = failing
	a.mu.Unlock()
}

func (a *writeFailingAdapter) writeAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

func TestSyncRollsBackRegistryOnAgentFailure(t *testing.T) {
	registry := store.NewMemory(entity.SourceRegistry)
	agent := &writeFailingAdapter{Memory: store.NewMemory(entity.SourceAgentStore)}
	ledger := eventstore.NewMemory()
	coord := New(registry, agent,
		WithEventStore(ledger),
		WithMaxAttempts(1))
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{
		"tags": entity.ListOf(entity.String("a")),
	}, base)
	registry.Seed(testID, converged)
	agent.Seed(testID, converged)
	_, err := coord.Sync(ctx, testID)
	require.NoError(t, err)

	// Both sides append a different tag: the auto-merged union differs
	// from both lives, so both stores need a write.
	registry.Seed(testID, seeded(2, map[string]entity.Value{
		"tags": entity.ListOf(entity.String("a"), entity.String("b")),
	}, utc.Now()))
	agent.Seed(testID, seeded(2, map[string]entity.Value{
		"tags": entity.ListOf(entity.String("a"), entity.String("c")),
	}, utc.Now()))
	agent.setFailing(true)

	// The merged value lands on the registry first and is rolled back
	// when the agent store write fails; the exhausted transient error
	// defers the run with the stores intact.
	res, err := coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, DefaultRetryAfter, res.RetryAfter)

	reg, err := registry.Read(ctx, testID)
	require.NoError(t, err)
	require.Len(t, reg.Get("tags").List, 2)
	assert.Equal(t, "b", reg.GetPath("tags[1]").Str)

	// A deferred run records no failure event.
	types := eventTypes(t, ledger, testID)
	assert.NotEqual(t, eventstore.TypeSyncFailed, types[len(types)-1])

	// Once the agent store recovers, the merge lands on both sides.
	agent.setFailing(false)
	res, err = coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	reg, err = registry.Read(ctx, testID)
	require.NoError(t, err)
	require.Len(t, reg.Get("tags").List, 3)
	ag, err := agent.Read(ctx, testID)
	require.NoError(t, err)
	require.Len(t, ag.Get("tags").List, 3)
	assert.Equal(t, "c", ag.GetPath("tags[2]").Str)
}

func TestSyncDefersWhenStoreStaysUnavailable(t *testing.T) {
	registry := store.NewMemory(entity.SourceRegistry)
	agent := &writeFailingAdapter{Memory: store.NewMemory(entity.SourceAgentStore)}
	agent.setFailing(true)
	ledger := eventstore.NewMemory()
	coord := New(registry, agent,
		WithEventStore(ledger),
		WithMaxAttempts(2))
	ctx := context.Background()

	registry.Seed(testID, seeded(1, map[string]entity.Value{
		"name": entity.String("claude"),
	}, utc.Now()))

	// Every attempt hits the unavailable agent store. The run burns its
	// retry budget, then defers instead of failing: nothing was applied
	// and a later run can still succeed.
	res, err := coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, DefaultRetryAfter, res.RetryAfter)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, 2, agent.writeAttempts())
	assert.NotContains(t, eventTypes(t, ledger, testID), eventstore.TypeSyncFailed)
}

func TestSyncDeferredWhenLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lk, err := f.locks.Acquire(ctx, testID.String(), time.Minute)
	require.NoError(t, err)
	defer func() { _ = f.locks.Release(ctx, lk) }()

	res, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.NotEmpty(t, res.Reason)
}

func TestSyncRetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A concurrent writer bumps the agent store between the read and the
	// write of the first attempt. The conflictingAdapter fails the first
	// write with a version conflict; the retry re-reads and succeeds.
	conflicting := &conflictOnFirstWrite{Memory: f.agent}
	coord := New(f.registry, conflicting,
		WithEventStore(f.ledger),
		WithLockManager(f.locks))

	f.registry.Seed(testID, seeded(1, map[string]entity.Value{
		"name": entity.String("claude"),
	}, utc.Now()))

	res, err := coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.True(t, conflicting.conflicted)
}

type conflictOnFirstWrite struct {
	*store.Memory
	mu         sync.Mutex
	conflicted bool
}

func (c *conflictOnFirstWrite) Write(ctx context.Context, id entity.ID, state entity.State, expectedVersion int64) error {
	c.mu.Lock()
	first := !c.conflicted
	c.conflicted = true
	c.mu.Unlock()
	if first {
		return errors.NewVersionConflictError(id.String(), expectedVersion, expectedVersion+1)
	}
	return c.Memory.Write(ctx, id, state, expectedVersion)
}

func TestSyncPublishesLedgerEvents(t *testing.T) {
	pub := &capturePublisher{}
	f := newFixture(t, WithPublisher(pub))
	ctx := context.Background()

	f.registry.Seed(testID, seeded(1, map[string]entity.Value{
		"name": entity.String("claude"),
	}, utc.Now()))

	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	evs := pub.events()
	require.NotEmpty(t, evs)
	assert.Equal(t, eventstore.TypeChangesApplied, evs[len(evs)-1].Type)
	assert.Equal(t, testID.String(), evs[0].EntityID)
}

type capturePublisher struct {
	mu  sync.Mutex
	evs []eventstore.Event
}

func (p *capturePublisher) Publish(ev eventstore.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
}

func (p *capturePublisher) events() []eventstore.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]eventstore.Event(nil), p.evs...)
}

func TestSyncCompaction(t *testing.T) {
	f := newFixture(t, WithCompactEvery(1))
	ctx := context.Background()

	// Every applied run compacts the ledger down to events past the
	// snapshot.
	for i := 0; i < 3; i++ {
		f.registry.Seed(testID, seeded(int64(i+1), map[string]entity.Value{
			"description": entity.String("rev " + string(rune('a'+i))),
		}, utc.Now()))
		res, err := f.coord.Sync(ctx, testID)
		require.NoError(t, err)
		require.Equal(t, OutcomeSucceeded, res.Outcome)
	}

	evs, err := f.ledger.Replay(ctx, testID.String(), 1)
	require.NoError(t, err)
	assert.Empty(t, evs)

	snap, err := f.ledger.LatestSnapshot(ctx, testID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	assert.Equal(t, "rev c", snap.State.Get("description").Str)
}

func TestRebuildEscalationsFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"status": entity.String("draft")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	f.registry.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("published")}, utc.Now()))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("retracted")}, utc.Now()))
	_, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	require.Len(t, f.coord.Escalations(), 1)

	// A fresh process over the same ledger starts with an empty queue and
	// recovers the pending escalation by replay.
	restarted := New(f.registry, f.agent,
		WithEventStore(f.ledger),
		WithLockManager(f.locks),
	)
	assert.Empty(t, restarted.Escalations())

	restored, err := restarted.RebuildEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	pending := restarted.Escalations()
	require.Len(t, pending, 1)
	assert.Equal(t, "model/claude#status", pending[0].ID)

	// Once a human resolves it, replay no longer restores it.
	_, err = restarted.ResolveEscalation(ctx, pending[0].ID, Decision{
		Winner:     entity.SourceRegistry,
		ResolvedBy: "ops",
	})
	require.NoError(t, err)

	second := New(f.registry, f.agent,
		WithEventStore(f.ledger),
		WithLockManager(f.locks),
	)
	restored, err = second.RebuildEscalations(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)
	assert.Empty(t, second.Escalations())
}

// serializingAdapter counts store operations that run concurrently for
// the same entity. With per-entity locking in front, the count stays
// zero no matter how many runs contend.
type serializingAdapter struct {
	*store.Memory
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (a *serializingAdapter) Read(ctx context.Context, id entity.ID) (entity.State, error) {
	if a.inFlight.Add(1) > 1 {
		a.overlaps.Add(1)
	}
	defer a.inFlight.Add(-1)
	return a.Memory.Read(ctx, id)
}

func (a *serializingAdapter) Write(ctx context.Context, id entity.ID, state entity.State, expectedVersion int64) error {
	if a.inFlight.Add(1) > 1 {
		a.overlaps.Add(1)
	}
	defer a.inFlight.Add(-1)
	return a.Memory.Write(ctx, id, state, expectedVersion)
}

func TestSyncConcurrentRunsAreMutuallyExclusive(t *testing.T) {
	registry := store.NewMemory(entity.SourceRegistry)
	agent := &serializingAdapter{Memory: store.NewMemory(entity.SourceAgentStore)}
	ledger := eventstore.NewMemory()
	locks := lock.NewMemory(lock.WithAcquireTimeout(200 * time.Millisecond))
	coord := New(registry, agent,
		WithEventStore(ledger),
		WithLockManager(locks))
	ctx := context.Background()

	registry.Seed(testID, seeded(1, map[string]entity.Value{
		"name": entity.String("claude"),
	}, utc.Now()))

	const workers = 8
	results := make([]*Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.Sync(ctx, testID)
		}(i)
	}
	wg.Wait()

	// One run applies the change; the rest either waited their turn and
	// saw a convergent entity or timed out on the lock and deferred.
	applied := 0
	for i := range results {
		require.NoError(t, errs[i])
		switch results[i].Outcome {
		case OutcomeSucceeded, OutcomeDeferred:
		default:
			t.Fatalf("worker %d: unexpected outcome %q", i, results[i].Outcome)
		}
		if results[i].Applied() {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Zero(t, agent.overlaps.Load())

	evs, err := ledger.Replay(ctx, testID.String(), 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, eventstore.TypeChangesApplied, evs[0].Type)
	assert.Equal(t, int64(1), evs[0].Version)
}

func countType(types []eventstore.Type, want eventstore.Type) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestSyncDoesNotRepeatPendingEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := utc.Now()
	converged := seeded(1, map[string]entity.Value{"status": entity.String("draft")}, base)
	f.registry.Seed(testID, converged)
	f.agent.Seed(testID, converged)
	_, err := f.coord.Sync(ctx, testID)
	require.NoError(t, err)

	f.registry.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("published")}, utc.Now()))
	f.agent.Seed(testID, seeded(2, map[string]entity.Value{"status": entity.String("retracted")}, utc.Now()))

	// Polling re-detects the same conflict on every run while it awaits
	// a human, but only the first run raises it on the ledger.
	for i := 0; i < 3; i++ {
		res, err := f.coord.Sync(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, OutcomePartialSuccess, res.Outcome)
	}
	assert.Equal(t, 1, countType(eventTypes(t, f.ledger, testID), eventstore.TypeEscalationRaised))
	require.Len(t, f.coord.Escalations(), 1)

	// A different value on one side is a new conflict and is raised
	// again, replacing the pending entry.
	f.agent.Seed(testID, seeded(3, map[string]entity.Value{"status": entity.String("archived")}, utc.Now()))
	_, err = f.coord.Sync(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, 2, countType(eventTypes(t, f.ledger, testID), eventstore.TypeEscalationRaised))
	pending := f.coord.Escalations()
	require.Len(t, pending, 1)
	assert.Equal(t, "archived", pending[0].Conflict.AgentValue.Str)
}
