// Package lock provides the mutual-exclusion primitive serializing
// synchronization runs per entity. At most one active lock exists per key
// at any instant; TTL expiry makes a crashed holder's lock reclaimable.
package lock

import (
	"context"
	"time"

	"github.com/agentstation/utc"
	"github.com/cenkalti/backoff/v5"

	"github.com/agentpress/syncbridge/pkg/errors"
)

// Default lock parameters.
const (
	DefaultTTL            = 30 * time.Second
	DefaultAcquireTimeout = 10 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
	maxRetryInterval      = 2 * time.Second
)

// Lock is a held per-entity lock. It exists only for the duration of one
// synchronization run.
type Lock struct {
	Key        string        `json:"entity_id"`
	Holder     string        `json:"holder"`
	AcquiredAt utc.Time      `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
}

// Manager is the distributed lock manager. Acquire blocks up to the
// configured acquire timeout, retrying with jittered backoff, and returns
// ErrLockTimeout when the key stays held. Callers must treat that as
// "try again later", not fatal.
type Manager interface {
	// Acquire takes the lock for key with the given ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error)

	// Release frees a held lock. Releasing a lock that expired or was
	// taken over returns ErrLockLost.
	Release(ctx context.Context, lk *Lock) error

	// Renew extends a held lock's expiry (heartbeat). Renewing a lock
	// that expired or was taken over returns ErrLockLost.
	Renew(ctx context.Context, lk *Lock, ttl time.Duration) error
}

// acquireWithBackoff drives an atomic check-and-set attempt with jittered
// exponential backoff until it succeeds, the window elapses, or the
// context is cancelled.
func acquireWithBackoff(ctx context.Context, key string, timeout time.Duration, try func() (*Lock, error)) (*Lock, error) {
	started := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultRetryInterval
	bo.MaxInterval = maxRetryInterval

	lk, err := backoff.Retry(ctx, func() (*Lock, error) {
		lk, err := try()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if lk == nil {
			return nil, errors.ErrLockTimeout // held by someone else, retry
		}
		return lk, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(timeout))

	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrCancelled
		}
		if errors.IsLockTimeout(err) {
			return nil, errors.NewLockTimeoutError(key, time.Since(started))
		}
		return nil, err
	}
	return lk, nil
}
