package coordinator

import (
	"context"
	"encoding/json"

	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/logging"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

// Publisher receives every ledger event the coordinator appends, after it
// is durable. The server's event broker implements this to feed live
// SSE and websocket subscribers. Publish must not block.
type Publisher interface {
	Publish(ev eventstore.Event)
}

// nopPublisher is the default when no feed is wired.
type nopPublisher struct{}

func (nopPublisher) Publish(eventstore.Event) {}

// NoopPayload is the payload of a sync_noop event: the two store versions
// the run observed as already convergent.
type NoopPayload struct {
	RunID           string `json:"run_id"`
	RegistryVersion int64  `json:"registry_version"`
	AgentVersion    int64  `json:"agent_version"`
}

// AppliedPayload is the payload of changes_applied and conflict_resolved
// events.
type AppliedPayload struct {
	RunID           string                `json:"run_id"`
	Resolutions     []resolver.Resolution `json:"resolutions"`
	EscalatedPaths  []string              `json:"escalated_paths,omitempty"`
	RegistryVersion int64                 `json:"registry_version"`
	AgentVersion    int64                 `json:"agent_version"`
}

// EscalationRaisedPayload is the payload of an escalation_raised event.
type EscalationRaisedPayload struct {
	RunID      string              `json:"run_id"`
	Escalation resolver.Escalation `json:"escalation"`
}

// EscalationResolvedPayload is the payload of an escalation_resolved event.
type EscalationResolvedPayload struct {
	RunID        string              `json:"run_id"`
	EscalationID string              `json:"escalation_id"`
	Resolution   resolver.Resolution `json:"resolution"`
	Decision     Decision            `json:"decision"`
}

// FailedPayload is the payload of a sync_failed event.
type FailedPayload struct {
	RunID string `json:"run_id"`
	Step  string `json:"step"`
	Error string `json:"error"`
}

// appendEvent marshals the payload, appends the event, and publishes it.
// The ledger append is the durability point; publish failures cannot lose
// the event.
func (c *coordinator) appendEvent(ctx context.Context, entityID string, evType eventstore.Type, payload any) (eventstore.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return eventstore.Event{}, err
	}

	ev, err := c.ledger.Append(ctx, eventstore.Event{
		EntityID: entityID,
		Type:     evType,
		Payload:  raw,
	})
	if err != nil {
		return eventstore.Event{}, err
	}

	logging.Ctx(ctx).Debug().
		Str("event_id", ev.EventID).
		Str("type", string(ev.Type)).
		Int64("version", ev.Version).
		Msg("ledger event appended")

	c.publisher.Publish(ev)
	return ev, nil
}
