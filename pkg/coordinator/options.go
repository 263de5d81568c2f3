package coordinator

import (
	"time"

	"github.com/agentpress/syncbridge/pkg/detector"
	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/lock"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

// Option configures a Coordinator.
type Option func(*coordinator)

// WithDetector sets the change detector.
func WithDetector(d detector.Detector) Option {
	return func(c *coordinator) {
		if d != nil {
			c.detect = d
		}
	}
}

// WithResolver sets the conflict resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(c *coordinator) {
		if r != nil {
			c.resolve = r
		}
	}
}

// WithLockManager sets the distributed lock manager.
func WithLockManager(m lock.Manager) Option {
	return func(c *coordinator) {
		if m != nil {
			c.locks = m
		}
	}
}

// WithEventStore sets the ledger backend.
func WithEventStore(s eventstore.Store) Option {
	return func(c *coordinator) {
		if s != nil {
			c.ledger = s
		}
	}
}

// WithEscalationQueue shares an escalation queue with the API layer.
func WithEscalationQueue(q *EscalationQueue) Option {
	return func(c *coordinator) {
		if q != nil {
			c.queue = q
		}
	}
}

// WithPublisher sets the live event feed sink.
func WithPublisher(p Publisher) Option {
	return func(c *coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLockTTL sets the per-run lock TTL. The heartbeat renews at a third
// of this interval.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *coordinator) {
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithMaxAttempts bounds detect-resolve-apply retries on transient errors.
func WithMaxAttempts(n uint) Option {
	return func(c *coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryAfter sets the retry hint returned with deferred runs.
func WithRetryAfter(d time.Duration) Option {
	return func(c *coordinator) {
		if d > 0 {
			c.retryAfter = d
		}
	}
}

// WithEpsilon sets the tolerance for numeric value comparison.
func WithEpsilon(eps float64) Option {
	return func(c *coordinator) {
		if eps >= 0 {
			c.epsilon = eps
		}
	}
}

// WithCompactEvery compacts an entity's ledger whenever its version is a
// multiple of n. Zero disables compaction.
func WithCompactEvery(n int64) Option {
	return func(c *coordinator) {
		if n >= 0 {
			c.compactEvery = n
		}
	}
}
