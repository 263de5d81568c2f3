package coordinator

import (
	"time"

	"github.com/agentstation/utc"

	"github.com/agentpress/syncbridge/pkg/resolver"
)

// Outcome classifies how a synchronization run ended.
type Outcome string

// Run outcomes.
const (
	// OutcomeSucceeded means every detected change was applied (or there
	// was nothing to do).
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomePartialSuccess means some fields were applied while others
	// were escalated for human resolution.
	OutcomePartialSuccess Outcome = "partial_success"

	// OutcomeDeferred means the run could not proceed for a transient
	// reason, either the entity's lock was held elsewhere or the retry
	// budget ran out against an unavailable store. The stores are
	// unchanged and the run should be retried after RetryAfter.
	OutcomeDeferred Outcome = "deferred"

	// OutcomeFailed means the run aborted with an error after starting.
	OutcomeFailed Outcome = "failed"
)

// Result is what a synchronization run reports back to its caller.
type Result struct {
	RunID    string  `json:"run_id"`
	EntityID string  `json:"entity_id"`
	Outcome  Outcome `json:"outcome"`

	// Noop is set when the run found the sides already convergent.
	Noop bool `json:"noop,omitempty"`

	// LedgerVersion is the entity's ledger version after the run's
	// terminal event, or the last durable version when the run failed.
	LedgerVersion int64 `json:"ledger_version,omitempty"`

	Resolutions []resolver.Resolution `json:"resolutions,omitempty"`
	Escalations []resolver.Escalation `json:"escalations,omitempty"`

	// RetryAfter is a hint for deferred and retryable failed runs.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	StartedAt  utc.Time `json:"started_at"`
	FinishedAt utc.Time `json:"finished_at"`

	// Err carries the failure for OutcomeFailed. Not serialized; Reason
	// holds the string form.
	Err    error  `json:"-"`
	Reason string `json:"reason,omitempty"`
}

// Applied reports whether the run wrote any resolved state.
func (r *Result) Applied() bool {
	return len(r.Resolutions) > 0 && (r.Outcome == OutcomeSucceeded || r.Outcome == OutcomePartialSuccess) && !r.Noop
}
