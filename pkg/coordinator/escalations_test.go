package coordinator

import (
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

func escalation(id, entityID string, raisedAt utc.Time) resolver.Escalation {
	return resolver.Escalation{
		ID:       id,
		EntityID: entityID,
		Conflict: resolver.Conflict{
			ChangeID: id,
			Path:     "status",
			Severity: resolver.SeverityHigh,
		},
		RaisedAt: raisedAt,
	}
}

func TestEscalationQueue(t *testing.T) {
	q := NewEscalationQueue()
	assert.Equal(t, 0, q.Len())

	now := utc.Now()
	q.Add(escalation("b#status", "model/b", now))
	q.Add(escalation("a#status", "model/a", now.Add(-time.Minute)))
	assert.Equal(t, 2, q.Len())

	// Listed oldest first.
	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a#status", list[0].ID)
	assert.Equal(t, "b#status", list[1].ID)

	got, err := q.Get("a#status")
	require.NoError(t, err)
	assert.Equal(t, "model/a", got.EntityID)

	_, err = q.Get("missing")
	assert.True(t, errors.IsNotFound(err))

	// Re-raising the same conflict replaces the queued entry.
	updated := escalation("a#status", "model/a", utc.Now())
	updated.Conflict.AgentValue = entity.String("retracted")
	q.Add(updated)
	assert.Equal(t, 2, q.Len())
	got, err = q.Get("a#status")
	require.NoError(t, err)
	assert.Equal(t, "retracted", got.Conflict.AgentValue.Str)

	q.Remove("a#status")
	assert.Equal(t, 1, q.Len())
	q.Remove("a#status") // idempotent
	assert.Equal(t, 1, q.Len())
}

func TestDecisionValidate(t *testing.T) {
	assert.Error(t, Decision{}.Validate())
	assert.Error(t, Decision{Winner: "somewhere"}.Validate())
	assert.NoError(t, Decision{Winner: entity.SourceRegistry}.Validate())
	assert.NoError(t, Decision{Winner: entity.SourceAgentStore}.Validate())

	v := entity.String("x")
	assert.NoError(t, Decision{Value: &v}.Validate())
}
