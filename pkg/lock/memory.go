package lock

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentpress/syncbridge/pkg/errors"
)

// memoryManager keeps lock state in process memory. Suitable for a single
// coordinator process and for tests.
type memoryManager struct {
	mu             sync.Mutex
	held           map[string]*record
	acquireTimeout time.Duration
	clock          func() time.Time
}

type record struct {
	holder    string
	expiresAt time.Time
}

// MemoryOption configures the in-memory lock manager.
type MemoryOption func(*memoryManager)

// WithAcquireTimeout bounds how long Acquire waits for a contended key.
func WithAcquireTimeout(d time.Duration) MemoryOption {
	return func(m *memoryManager) {
		m.acquireTimeout = d
	}
}

// WithClock overrides the time source. Used by tests to force expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *memoryManager) {
		m.clock = now
	}
}

// NewMemory returns an in-memory lock manager.
func NewMemory(opts ...MemoryOption) Manager {
	m := &memoryManager{
		held:           make(map[string]*record),
		acquireTimeout: DefaultAcquireTimeout,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *memoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return acquireWithBackoff(ctx, key, m.acquireTimeout, func() (*Lock, error) {
		return m.tryAcquire(key, ttl), nil
	})
}

// tryAcquire is a single atomic check-and-set. It returns nil when the key
// is held by a live lock.
func (m *memoryManager) tryAcquire(key string, ttl time.Duration) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if rec, ok := m.held[key]; ok && now.Before(rec.expiresAt) {
		return nil
	}

	holder := uuid.NewString()
	m.held[key] = &record{holder: holder, expiresAt: now.Add(ttl)}
	return &Lock{
		Key:        key,
		Holder:     holder,
		AcquiredAt: utc.New(now),
		TTL:        ttl,
	}
}

func (m *memoryManager) Release(_ context.Context, lk *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.held[lk.Key]
	if !ok || rec.holder != lk.Holder {
		return errors.NewLockLostError(lk.Key, lk.Holder, "release")
	}
	delete(m.held, lk.Key)
	return nil
}

func (m *memoryManager) Renew(_ context.Context, lk *Lock, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = lk.TTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	rec, ok := m.held[lk.Key]
	if !ok || rec.holder != lk.Holder || !now.Before(rec.expiresAt) {
		return errors.NewLockLostError(lk.Key, lk.Holder, "renew")
	}
	rec.expiresAt = now.Add(ttl)
	return nil
}
