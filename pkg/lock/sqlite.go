package lock

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentpress/syncbridge/pkg/errors"
)

const lockSchema = `
CREATE TABLE IF NOT EXISTS sync_locks (
	key         TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at  INTEGER NOT NULL
);
`

// sqliteManager persists lock state in SQLite so that multiple coordinator
// processes sharing a database file contend correctly. Expiry is enforced
// by comparing stored deadlines against the local clock on every
// operation, so no background reaper is needed.
type sqliteManager struct {
	db             *sql.DB
	acquireTimeout time.Duration
	clock          func() time.Time
}

// SQLiteOption configures the SQLite lock manager.
type SQLiteOption func(*sqliteManager)

// WithSQLiteAcquireTimeout bounds how long Acquire waits for a contended key.
func WithSQLiteAcquireTimeout(d time.Duration) SQLiteOption {
	return func(m *sqliteManager) {
		m.acquireTimeout = d
	}
}

// NewSQLite returns a lock manager backed by the given database. The
// schema is created if missing.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) (Manager, error) {
	if _, err := db.Exec(lockSchema); err != nil {
		return nil, errors.WrapStore("lock_store", "init", "", err)
	}
	m := &sqliteManager{
		db:             db,
		acquireTimeout: DefaultAcquireTimeout,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *sqliteManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return acquireWithBackoff(ctx, key, m.acquireTimeout, func() (*Lock, error) {
		return m.tryAcquire(ctx, key, ttl)
	})
}

// tryAcquire inserts the lock row, or steals it when the stored deadline
// has passed. Zero rows affected means the key is held by a live lock.
func (m *sqliteManager) tryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	now := m.clock()
	holder := uuid.NewString()
	acquired := utc.New(now)

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO sync_locks (key, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE sync_locks.expires_at <= ?`,
		key, holder, acquired.Format(time.RFC3339Nano), now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return nil, errors.WrapStore("lock_store", "acquire", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.WrapStore("lock_store", "acquire", key, err)
	}
	if n == 0 {
		return nil, nil
	}
	return &Lock{
		Key:        key,
		Holder:     holder,
		AcquiredAt: acquired,
		TTL:        ttl,
	}, nil
}

func (m *sqliteManager) Release(ctx context.Context, lk *Lock) error {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM sync_locks WHERE key = ? AND holder = ?`,
		lk.Key, lk.Holder)
	if err != nil {
		return errors.WrapStore("lock_store", "release", lk.Key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.WrapStore("lock_store", "release", lk.Key, err)
	} else if n == 0 {
		return errors.NewLockLostError(lk.Key, lk.Holder, "release")
	}
	return nil
}

func (m *sqliteManager) Renew(ctx context.Context, lk *Lock, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = lk.TTL
	}
	now := m.clock()
	res, err := m.db.ExecContext(ctx, `
		UPDATE sync_locks SET expires_at = ?
		WHERE key = ? AND holder = ? AND expires_at > ?`,
		now.Add(ttl).UnixNano(), lk.Key, lk.Holder, now.UnixNano())
	if err != nil {
		return errors.WrapStore("lock_store", "renew", lk.Key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.WrapStore("lock_store", "renew", lk.Key, err)
	} else if n == 0 {
		return errors.NewLockLostError(lk.Key, lk.Holder, "renew")
	}
	return nil
}
