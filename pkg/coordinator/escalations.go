package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/logging"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

// Decision is a human's answer to an escalated conflict. Either Winner
// names the side whose value to keep, or Value supplies an explicit
// override; Value takes precedence when both are set.
type Decision struct {
	Winner     entity.Source `json:"winner,omitempty"`
	Value      *entity.Value `json:"value,omitempty"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// Validate checks that the decision picks exactly one outcome.
func (d Decision) Validate() error {
	if d.Value == nil && !d.Winner.Valid() {
		return errors.New("decision must name a winning side or supply a value")
	}
	return nil
}

// EscalationQueue holds conflicts awaiting human resolution. The ledger's
// escalation_raised events are the durable record; the queue is the fast
// lookup the API serves from, rebuilt from the ledger on restart.
type EscalationQueue struct {
	mu   sync.RWMutex
	byID map[string]resolver.Escalation
}

// NewEscalationQueue returns an empty queue.
func NewEscalationQueue() *EscalationQueue {
	return &EscalationQueue{byID: make(map[string]resolver.Escalation)}
}

// Add inserts or refreshes a pending escalation. Re-raising the same
// conflict on a later run overwrites the stale entry.
func (q *EscalationQueue) Add(esc resolver.Escalation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byID[esc.ID] = esc
}

// Get returns a pending escalation by ID.
func (q *EscalationQueue) Get(id string) (resolver.Escalation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	esc, ok := q.byID[id]
	if !ok {
		return resolver.Escalation{}, errors.ErrNotFound
	}
	return esc, nil
}

// Remove drops a resolved escalation.
func (q *EscalationQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byID, id)
}

// List returns pending escalations ordered by raise time, then ID.
func (q *EscalationQueue) List() []resolver.Escalation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]resolver.Escalation, 0, len(q.byID))
	for _, esc := range q.byID {
		out = append(out, esc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].RaisedAt.Before(out[j].RaisedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of pending escalations.
func (q *EscalationQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.byID)
}

// RebuildEscalations repopulates the pending queue by replaying the
// ledger, so a restarted process serves escalations raised before it
// started. An escalation resolved later in the ledger stays resolved.
// Returns the number of escalations restored.
func (c *coordinator) RebuildEscalations(ctx context.Context) (int, error) {
	ids, err := c.ledger.Entities(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, entityID := range ids {
		events, err := c.ledger.Replay(ctx, entityID, 0)
		if err != nil {
			return restored, err
		}

		pending := make(map[string]resolver.Escalation)
		for _, ev := range events {
			switch ev.Type {
			case eventstore.TypeEscalationRaised:
				var p EscalationRaisedPayload
				if err := json.Unmarshal(ev.Payload, &p); err != nil {
					logging.Ctx(ctx).Warn().
						Str("entity_id", entityID).
						Str("event_id", ev.EventID).
						Err(err).
						Msg("skipping corrupt escalation_raised payload")
					continue
				}
				pending[p.Escalation.ID] = p.Escalation
			case eventstore.TypeEscalationResolved:
				var p EscalationResolvedPayload
				if err := json.Unmarshal(ev.Payload, &p); err != nil {
					continue
				}
				delete(pending, p.EscalationID)
			}
		}

		for _, esc := range pending {
			c.queue.Add(esc)
			restored++
		}
	}
	return restored, nil
}
