// Package coordinator orchestrates synchronization runs: lock, detect,
// resolve, apply, record. A run either completes its write phase on both
// stores or compensates the half-applied side, so the two stores never
// silently diverge because of a crashed run.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentstation/utc"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/agentpress/syncbridge/pkg/detector"
	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/lock"
	"github.com/agentpress/syncbridge/pkg/logging"
	"github.com/agentpress/syncbridge/pkg/resolver"
	"github.com/agentpress/syncbridge/pkg/store"
)

// Defaults for run orchestration.
const (
	DefaultLockTTL     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryAfter  = 5 * time.Second
	defaultEpsilon     = 1e-9
)

// Coordinator runs entity synchronization end to end.
type Coordinator interface {
	// Sync synchronizes one entity. The returned Result is always
	// non-nil; the error mirrors Result.Err for OutcomeFailed runs so
	// callers can use either convention.
	Sync(ctx context.Context, id entity.ID) (*Result, error)

	// ResolveEscalation applies a human decision to a pending escalation
	// and records it in the ledger.
	ResolveEscalation(ctx context.Context, escalationID string, decision Decision) (*Result, error)

	// Escalations lists conflicts awaiting human resolution.
	Escalations() []resolver.Escalation

	// Escalation returns one pending escalation by ID.
	Escalation(id string) (resolver.Escalation, error)

	// RebuildEscalations repopulates the pending escalation queue from
	// the ledger. Call once at startup when the ledger is durable.
	RebuildEscalations(ctx context.Context) (int, error)
}

type coordinator struct {
	registry  store.Adapter
	agent     store.Adapter
	detect    detector.Detector
	resolve   resolver.Resolver
	locks     lock.Manager
	ledger    eventstore.Store
	queue     *EscalationQueue
	publisher Publisher

	lockTTL      time.Duration
	maxAttempts  uint
	retryAfter   time.Duration
	epsilon      float64
	compactEvery int64
}

// New creates a Coordinator over the two store adapters. Unconfigured
// collaborators default to their in-memory implementations.
func New(registry, agent store.Adapter, opts ...Option) Coordinator {
	c := &coordinator{
		registry:    registry,
		agent:       agent,
		detect:      detector.New(),
		resolve:     resolver.New(),
		locks:       lock.NewMemory(),
		ledger:      eventstore.NewMemory(),
		queue:       NewEscalationQueue(),
		publisher:   nopPublisher{},
		lockTTL:     DefaultLockTTL,
		maxAttempts: DefaultMaxAttempts,
		retryAfter:  DefaultRetryAfter,
		epsilon:     defaultEpsilon,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *coordinator) Escalations() []resolver.Escalation {
	return c.queue.List()
}

func (c *coordinator) Escalation(id string) (resolver.Escalation, error) {
	return c.queue.Get(id)
}

func (c *coordinator) Sync(ctx context.Context, id entity.ID) (*Result, error) {
	runID := uuid.NewString()
	ctx = logging.WithRun(logging.WithEntity(ctx, id.String()), runID)
	log := logging.Ctx(ctx)

	res := &Result{
		RunID:    runID,
		EntityID: id.String(),
		StartedAt: utc.Now(),
	}

	lk, err := c.locks.Acquire(ctx, id.String(), c.lockTTL)
	if err != nil {
		res.FinishedAt = utc.Now()
		if errors.IsLockTimeout(err) {
			res.Outcome = OutcomeDeferred
			res.RetryAfter = c.retryAfter
			res.Reason = err.Error()
			log.Warn().Dur("retry_after", c.retryAfter).Msg("entity locked elsewhere, deferring run")
			return res, nil
		}
		return c.fail(ctx, res, "lock", err)
	}

	// Heartbeat renews at a third of the TTL. A failed renewal cancels
	// the run context before the next store write can happen.
	runCtx, cancel := context.WithCancelCause(ctx)
	hbDone := make(chan struct{})
	go c.heartbeat(runCtx, cancel, lk, hbDone)

	err = c.syncWithRetry(runCtx, id, res)

	cancel(nil)
	<-hbDone
	if relErr := c.locks.Release(context.WithoutCancel(ctx), lk); relErr != nil && !errors.IsLockLost(relErr) {
		log.Warn().Err(relErr).Msg("lock release failed")
	}

	if err != nil {
		if cause := context.Cause(runCtx); cause != nil && errors.IsLockLost(cause) {
			err = cause
		} else if errors.Is(err, context.Canceled) || errors.IsCancelled(err) {
			err = errors.ErrCancelled
		}
		var syncErr *errors.SyncError
		if (errors.IsVersionConflict(err) || errors.IsStoreUnavailable(err)) && !errors.As(err, &syncErr) {
			// Transient classes that exhausted the retry budget defer
			// rather than fail: the stores are intact (apply rolls back
			// before surfacing) and a later run can succeed. A failed
			// rollback is a SyncError and still fails loudly below.
			res.Outcome = OutcomeDeferred
			res.RetryAfter = c.retryAfter
			res.Reason = err.Error()
			res.FinishedAt = utc.Now()
			log.Warn().Err(err).Dur("retry_after", c.retryAfter).Msg("transient errors exhausted retry budget, deferring run")
			return res, nil
		}
		return c.fail(ctx, res, stepOf(err), err)
	}

	res.FinishedAt = utc.Now()
	log.Info().
		Str("outcome", string(res.Outcome)).
		Bool("noop", res.Noop).
		Int("resolutions", len(res.Resolutions)).
		Int("escalations", len(res.Escalations)).
		Msg("sync run finished")
	return res, nil
}

// fail finalizes a failed run and best-effort records it in the ledger.
func (c *coordinator) fail(ctx context.Context, res *Result, step string, err error) (*Result, error) {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Reason = err.Error()
	res.FinishedAt = utc.Now()
	if errors.IsRetryable(err) {
		res.RetryAfter = c.retryAfter
	}

	logging.Ctx(ctx).Error().Err(err).Str("step", step).Msg("sync run failed")

	if !errors.IsLockTimeout(err) {
		recordCtx := context.WithoutCancel(ctx)
		if ev, appendErr := c.appendEvent(recordCtx, res.EntityID, eventstore.TypeSyncFailed, FailedPayload{
			RunID: res.RunID,
			Step:  step,
			Error: err.Error(),
		}); appendErr != nil {
			logging.Ctx(ctx).Error().Err(appendErr).Msg("failed to record sync failure")
		} else {
			res.LedgerVersion = ev.Version
		}
	}
	return res, err
}

// stepOf maps an error to the run step it most likely failed in, for the
// failure event's audit payload.
func stepOf(err error) string {
	switch {
	case errors.IsLockLost(err):
		return "heartbeat"
	case errors.IsVersionConflict(err), errors.IsStoreUnavailable(err):
		return "apply"
	case errors.IsMalformedData(err):
		return "detect"
	case errors.IsCancelled(err):
		return "cancelled"
	default:
		return "run"
	}
}

// heartbeat keeps the lock alive for the duration of the run.
func (c *coordinator) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, lk *lock.Lock, done chan struct{}) {
	defer close(done)

	interval := lk.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.locks.Renew(ctx, lk, lk.TTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Ctx(ctx).Error().Err(err).Str("key", lk.Key).Msg("lock renewal failed, aborting run")
				cancel(errors.NewLockLostError(lk.Key, lk.Holder, "renew"))
				return
			}
		}
	}
}

// syncWithRetry retries the detect-resolve-apply cycle on transient
// failures. Version conflicts re-read both sides, so a retry operates on
// fresh state.
func (c *coordinator) syncWithRetry(ctx context.Context, id entity.ID, res *Result) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.syncOnce(ctx, id, res)
		if err != nil && !errors.IsVersionConflict(err) && !errors.IsStoreUnavailable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxAttempts))
	return err
}

// syncOnce is one full detect-resolve-apply-record cycle under the lock.
func (c *coordinator) syncOnce(ctx context.Context, id entity.ID, res *Result) error {
	reg, err := c.readSide(ctx, c.registry, id)
	if err != nil {
		return err
	}
	ag, err := c.readSide(ctx, c.agent, id)
	if err != nil {
		return err
	}

	base := entity.NewState()
	if snap, err := c.ledger.LatestSnapshot(ctx, id.String()); err == nil {
		base = snap.State
	} else if !errors.IsNotFound(err) {
		return err
	}

	cs, err := c.detect.Detect(id.String(),
		detector.Side{Source: entity.SourceRegistry, Base: base, Live: reg},
		detector.Side{Source: entity.SourceAgentStore, Base: base, Live: ag},
	)
	if err != nil {
		return err
	}

	if cs.Empty() {
		return c.recordNoop(ctx, id, cs, res)
	}

	resolutions, escalations, err := c.resolve.Resolve(ctx, cs)
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Debug().
		Int("changes", len(cs.Changes)).
		Int("resolutions", len(resolutions)).
		Int("escalations", len(escalations)).
		Msg("changeset resolved")

	ledgerVersion, err := c.apply(ctx, id, res.RunID, base, reg, ag, resolutions, escalations)
	if err != nil {
		return err
	}

	res.Resolutions = resolutions
	res.Escalations = escalations
	res.LedgerVersion = ledgerVersion
	if len(escalations) > 0 {
		res.Outcome = OutcomePartialSuccess
	} else {
		res.Outcome = OutcomeSucceeded
	}
	return nil
}

// readSide reads one store's state; a missing entity reads as the empty
// state at version zero, so creation propagates like any other change.
func (c *coordinator) readSide(ctx context.Context, adapter store.Adapter, id entity.ID) (entity.State, error) {
	state, err := adapter.Read(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return entity.NewState(), nil
		}
		return entity.State{}, err
	}
	return state, nil
}

// recordNoop records a convergent run. When the ledger head is already a
// noop at the same observed store versions, the append is suppressed so
// repeated convergent runs don't grow the ledger.
func (c *coordinator) recordNoop(ctx context.Context, id entity.ID, cs *detector.ChangeSet, res *Result) error {
	res.Outcome = OutcomeSucceeded
	res.Noop = true

	head, err := c.ledger.Latest(ctx, id.String())
	switch {
	case err == nil && head.Type == eventstore.TypeSyncNoop:
		var p NoopPayload
		if json.Unmarshal(head.Payload, &p) == nil &&
			p.RegistryVersion == cs.RegistryVersion && p.AgentVersion == cs.AgentVersion {
			res.LedgerVersion = head.Version
			logging.Ctx(ctx).Debug().Msg("already convergent, noop suppressed")
			return nil
		}
	case err != nil && !errors.IsNotFound(err):
		return err
	}

	ev, err := c.appendEvent(ctx, id.String(), eventstore.TypeSyncNoop, NoopPayload{
		RunID:           res.RunID,
		RegistryVersion: cs.RegistryVersion,
		AgentVersion:    cs.AgentVersion,
	})
	if err != nil {
		return err
	}
	res.LedgerVersion = ev.Version
	return nil
}

// apply writes resolved state to both stores (two-phase with compensating
// rollback), then records the run in the ledger and refreshes the
// baseline snapshot.
func (c *coordinator) apply(ctx context.Context, id entity.ID, runID string, base, reg, ag entity.State, resolutions []resolver.Resolution, escalations []resolver.Escalation) (int64, error) {
	now := utc.Now()

	regTarget, regChanged, err := applyResolutions(reg, resolutions, now, c.epsilon)
	if err != nil {
		return 0, err
	}
	agTarget, agChanged, err := applyResolutions(ag, resolutions, now, c.epsilon)
	if err != nil {
		return 0, err
	}

	// Phase one: registry. Phase two: agent store, compensated by
	// restoring the registry's prior state when it fails.
	if regChanged {
		if err := c.registry.Write(ctx, id, regTarget, reg.Version); err != nil {
			return 0, err
		}
	}
	if agChanged {
		if err := c.agent.Write(ctx, id, agTarget, ag.Version); err != nil {
			if regChanged {
				rbCtx := context.WithoutCancel(ctx)
				if rbErr := c.registry.Write(rbCtx, id, reg, reg.Version+1); rbErr != nil {
					logging.Ctx(ctx).Error().Err(rbErr).
						Msg("compensating rollback failed, stores may diverge until next run")
					return 0, errors.NewSyncError(id.String(), "rollback", 0, rbErr)
				}
				logging.Ctx(ctx).Warn().Err(err).Msg("agent store write failed, registry write rolled back")
			}
			return 0, err
		}
	}

	for _, esc := range escalations {
		if pending, err := c.queue.Get(esc.ID); err == nil &&
			pending.Conflict.RegistryValue.Equal(esc.Conflict.RegistryValue, c.epsilon) &&
			pending.Conflict.AgentValue.Equal(esc.Conflict.AgentValue, c.epsilon) {
			// Same conflict already awaiting a human; the original raise
			// event stands and polling runs do not grow the ledger.
			continue
		}
		if _, err := c.appendEvent(ctx, id.String(), eventstore.TypeEscalationRaised, EscalationRaisedPayload{
			RunID:      runID,
			Escalation: esc,
		}); err != nil {
			return 0, err
		}
		c.queue.Add(esc)
	}

	if !regChanged && !agChanged && len(escalations) > 0 {
		// Nothing applied, everything escalated. The raise events are
		// the run's record.
		head, err := c.ledger.Latest(ctx, id.String())
		if err != nil {
			return 0, err
		}
		return head.Version, nil
	}

	evType := eventstore.TypeChangesApplied
	for _, r := range resolutions {
		if r.Confidence > 0 {
			// At least one true conflict was auto-resolved.
			evType = eventstore.TypeConflictResolved
			break
		}
	}

	escalatedPaths := make([]string, 0, len(escalations))
	for _, esc := range escalations {
		escalatedPaths = append(escalatedPaths, esc.Conflict.Path)
	}

	ev, err := c.appendEvent(ctx, id.String(), evType, AppliedPayload{
		RunID:           runID,
		Resolutions:     resolutions,
		EscalatedPaths:  escalatedPaths,
		RegistryVersion: regTarget.Version,
		AgentVersion:    agTarget.Version,
	})
	if err != nil {
		return 0, err
	}

	if err := c.saveBaseline(ctx, id, base, resolutions, ev.Version, now); err != nil {
		return 0, err
	}
	return ev.Version, nil
}

// saveBaseline advances the three-way-merge baseline to include the
// applied resolutions. Escalated paths keep their old baseline value so
// the conflict is re-detected until a human resolves it.
func (c *coordinator) saveBaseline(ctx context.Context, id entity.ID, base entity.State, resolutions []resolver.Resolution, version int64, now utc.Time) error {
	next, _, err := applyResolutions(base, resolutions, now, c.epsilon)
	if err != nil {
		return err
	}
	next.Version = version

	if err := c.ledger.SaveSnapshot(ctx, eventstore.Snapshot{
		EntityID: id.String(),
		Version:  version,
		State:    next,
		TakenAt:  now,
	}); err != nil {
		return err
	}

	if c.compactEvery > 0 && version%c.compactEvery == 0 {
		if n, err := c.ledger.Compact(ctx, id.String()); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("ledger compaction failed")
		} else if n > 0 {
			logging.Ctx(ctx).Debug().Int64("dropped", n).Msg("ledger compacted")
		}
	}
	return nil
}

// applyResolutions returns a copy of state with every resolution's value
// set and its root field re-stamped. Values already in place are skipped,
// so an idempotent re-run writes nothing.
func applyResolutions(state entity.State, resolutions []resolver.Resolution, now utc.Time, epsilon float64) (entity.State, bool, error) {
	out := state.Clone()
	changed := false

	for _, r := range resolutions {
		if out.GetPath(r.Path).Equal(r.Value, epsilon) {
			continue
		}
		if err := out.SetPath(r.Path, r.Value); err != nil {
			return entity.State{}, false, err
		}
		if out.Stamps == nil {
			out.Stamps = make(map[string]utc.Time)
		}
		out.Stamps[entity.RootOf(r.Path)] = now
		changed = true
	}
	return out, changed, nil
}

func (c *coordinator) ResolveEscalation(ctx context.Context, escalationID string, decision Decision) (*Result, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	esc, err := c.queue.Get(escalationID)
	if err != nil {
		return nil, err
	}
	id, ok := entity.ParseID(esc.EntityID)
	if !ok {
		return nil, errors.NewMalformedDataError(esc.EntityID, "", "unparseable entity id")
	}

	runID := uuid.NewString()
	ctx = logging.WithRun(logging.WithEntity(ctx, esc.EntityID), runID)
	res := &Result{
		RunID:     runID,
		EntityID:  esc.EntityID,
		StartedAt: utc.Now(),
	}

	lk, err := c.locks.Acquire(ctx, esc.EntityID, c.lockTTL)
	if err != nil {
		if errors.IsLockTimeout(err) {
			res.Outcome = OutcomeDeferred
			res.RetryAfter = c.retryAfter
			res.Reason = err.Error()
			res.FinishedAt = utc.Now()
			return res, nil
		}
		return c.fail(ctx, res, "lock", err)
	}
	defer func() {
		if relErr := c.locks.Release(context.WithoutCancel(ctx), lk); relErr != nil && !errors.IsLockLost(relErr) {
			logging.Ctx(ctx).Warn().Err(relErr).Msg("lock release failed")
		}
	}()

	resolution := decisionResolution(esc, decision)

	if err := c.applyDecision(ctx, id, resolution); err != nil {
		return c.fail(ctx, res, "apply", err)
	}

	ev, err := c.appendEvent(ctx, esc.EntityID, eventstore.TypeEscalationResolved, EscalationResolvedPayload{
		RunID:        runID,
		EscalationID: escalationID,
		Resolution:   resolution,
		Decision:     decision,
	})
	if err != nil {
		return c.fail(ctx, res, "record", err)
	}

	now := utc.Now()
	if err := c.advanceBaselinePath(ctx, id, resolution, ev.Version, now); err != nil {
		return c.fail(ctx, res, "snapshot", err)
	}

	c.queue.Remove(escalationID)

	res.Outcome = OutcomeSucceeded
	res.Resolutions = []resolver.Resolution{resolution}
	res.LedgerVersion = ev.Version
	res.FinishedAt = now
	logging.Ctx(ctx).Info().Str("escalation_id", escalationID).Msg("escalation resolved")
	return res, nil
}

// decisionResolution turns a human decision into a Resolution. The values
// offered are the ones the reviewer actually saw in the escalation, not a
// fresh read, so the decision means what the reviewer thinks it means.
func decisionResolution(esc resolver.Escalation, d Decision) resolver.Resolution {
	value := esc.Conflict.RegistryValue
	source := entity.SourceRegistry
	switch {
	case d.Value != nil:
		value = *d.Value
		source = ""
	case d.Winner == entity.SourceAgentStore:
		value = esc.Conflict.AgentValue
		source = entity.SourceAgentStore
	}

	reason := d.Note
	if reason == "" {
		reason = "resolved by " + firstNonEmpty(d.ResolvedBy, "operator")
	}

	return resolver.Resolution{
		Path:       esc.Conflict.Path,
		Strategy:   resolver.StrategyEscalate,
		Value:      value,
		Source:     source,
		ResolvedBy: resolver.ResolvedByHuman,
		Severity:   esc.Conflict.Severity,
		Reason:     reason,
	}
}

// applyDecision writes the decided value to both stores, two-phase like a
// normal run.
func (c *coordinator) applyDecision(ctx context.Context, id entity.ID, resolution resolver.Resolution) error {
	now := utc.Now()
	resolutions := []resolver.Resolution{resolution}

	reg, err := c.readSide(ctx, c.registry, id)
	if err != nil {
		return err
	}
	ag, err := c.readSide(ctx, c.agent, id)
	if err != nil {
		return err
	}

	regTarget, regChanged, err := applyResolutions(reg, resolutions, now, c.epsilon)
	if err != nil {
		return err
	}
	agTarget, agChanged, err := applyResolutions(ag, resolutions, now, c.epsilon)
	if err != nil {
		return err
	}

	if regChanged {
		if err := c.registry.Write(ctx, id, regTarget, reg.Version); err != nil {
			return err
		}
	}
	if agChanged {
		if err := c.agent.Write(ctx, id, agTarget, ag.Version); err != nil {
			if regChanged {
				rbCtx := context.WithoutCancel(ctx)
				if rbErr := c.registry.Write(rbCtx, id, reg, reg.Version+1); rbErr != nil {
					return errors.NewSyncError(id.String(), "rollback", 0, rbErr)
				}
			}
			return err
		}
	}
	return nil
}

// advanceBaselinePath folds a human resolution into the baseline snapshot.
func (c *coordinator) advanceBaselinePath(ctx context.Context, id entity.ID, resolution resolver.Resolution, version int64, now utc.Time) error {
	base := entity.NewState()
	if snap, err := c.ledger.LatestSnapshot(ctx, id.String()); err == nil {
		base = snap.State
	} else if !errors.IsNotFound(err) {
		return err
	}
	return c.saveBaseline(ctx, id, base, []resolver.Resolution{resolution}, version, now)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
