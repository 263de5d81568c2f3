package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentpress/syncbridge/pkg/errors"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS sync_events (
	event_id  TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	type      TEXT NOT NULL,
	payload   TEXT,
	version   INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	UNIQUE (entity_id, version)
);

CREATE TABLE IF NOT EXISTS sync_snapshots (
	entity_id TEXT PRIMARY KEY,
	version   INTEGER NOT NULL,
	state     TEXT NOT NULL,
	taken_at  TEXT NOT NULL
);
`

// sqliteStore persists the ledger in SQLite. The UNIQUE(entity_id, version)
// constraint is the monotonicity guarantee: of two concurrent appends at
// the same version, exactly one commits and the other gets a version
// conflict to retry.
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite ledger at the given DSN.
// Use "file::memory:?cache=shared" for an in-memory database shared across
// connections.
func OpenSQLite(dsn string) (Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, errors.WrapStore("event_store", "open", "", err)
	}
	store, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

// NewSQLite returns a ledger backed by the given database. The schema is
// created if missing.
func NewSQLite(db *sql.DB) (Store, error) {
	if _, err := db.Exec(eventSchema); err != nil {
		return nil, errors.WrapStore("event_store", "init", "", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Append(ctx context.Context, ev Event) (Event, error) {
	if !ev.Type.Valid() {
		return Event{}, errors.NewMalformedDataError(ev.EntityID, "", "unknown event type "+string(ev.Type))
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = utc.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, errors.WrapStore("event_store", "append", ev.EntityID, err)
	}
	defer tx.Rollback()

	head, err := headVersion(ctx, tx, ev.EntityID)
	if err != nil {
		return Event{}, err
	}

	next := head + 1
	switch {
	case ev.Version == 0:
		ev.Version = next
	case ev.Version != next:
		return Event{}, errors.NewVersionConflictError(ev.EntityID, next, ev.Version)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_events (event_id, entity_id, type, payload, version, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.EntityID, string(ev.Type), nullablePayload(ev.Payload),
		ev.Version, ev.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		// A concurrent append won the version under us.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Event{}, errors.NewVersionConflictError(ev.EntityID, next, ev.Version)
		}
		return Event{}, errors.WrapStore("event_store", "append", ev.EntityID, err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, errors.WrapStore("event_store", "append", ev.EntityID, err)
	}
	return ev, nil
}

// headVersion returns the entity's current head version inside tx,
// consulting the snapshot when compaction emptied the event rows.
func headVersion(ctx context.Context, tx *sql.Tx, entityID string) (int64, error) {
	var head sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM sync_events WHERE entity_id = ?`, entityID).Scan(&head)
	if err != nil {
		return 0, errors.WrapStore("event_store", "append", entityID, err)
	}
	if head.Valid {
		return head.Int64, nil
	}

	var snapVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM sync_snapshots WHERE entity_id = ?`, entityID).Scan(&snapVersion)
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.WrapStore("event_store", "append", entityID, err)
	}
	return snapVersion.Int64, nil
}

func (s *sqliteStore) Replay(ctx context.Context, entityID string, fromVersion int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, type, payload, version, timestamp
		FROM sync_events
		WHERE entity_id = ? AND version >= ?
		ORDER BY version ASC`,
		entityID, fromVersion)
	if err != nil {
		return nil, errors.WrapStore("event_store", "replay", entityID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows, entityID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("event_store", "replay", entityID, err)
	}
	return out, nil
}

func (s *sqliteStore) Latest(ctx context.Context, entityID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, type, payload, version, timestamp
		FROM sync_events
		WHERE entity_id = ?
		ORDER BY version DESC
		LIMIT 1`,
		entityID)

	ev, err := scanEvent(row, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *sqliteStore) Entities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM sync_events
		UNION
		SELECT entity_id FROM sync_snapshots
		ORDER BY entity_id ASC`)
	if err != nil {
		return nil, errors.WrapStore("event_store", "entities", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapStore("event_store", "entities", "", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("event_store", "entities", "", err)
	}
	return out, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return errors.WrapStore("event_store", "snapshot", snap.EntityID, err)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = utc.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_snapshots (entity_id, version, state, taken_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			taken_at = excluded.taken_at
		WHERE sync_snapshots.version < excluded.version`,
		snap.EntityID, snap.Version, string(state), snap.TakenAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapStore("event_store", "snapshot", snap.EntityID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.WrapStore("event_store", "snapshot", snap.EntityID, err)
	} else if n == 0 {
		var current int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT version FROM sync_snapshots WHERE entity_id = ?`,
			snap.EntityID).Scan(&current); err == nil {
			return errors.NewVersionConflictError(snap.EntityID, current, snap.Version)
		}
		return errors.NewVersionConflictError(snap.EntityID, 0, snap.Version)
	}
	return nil
}

func (s *sqliteStore) LatestSnapshot(ctx context.Context, entityID string) (*Snapshot, error) {
	var (
		snap    Snapshot
		state   string
		takenAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, state, taken_at FROM sync_snapshots WHERE entity_id = ?`,
		entityID).Scan(&snap.Version, &state, &takenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapStore("event_store", "snapshot", entityID, err)
	}

	snap.EntityID = entityID
	if err := json.Unmarshal([]byte(state), &snap.State); err != nil {
		return nil, errors.NewMalformedDataError(entityID, "", "corrupt snapshot state: "+err.Error())
	}
	if ts, err := utc.Parse(time.RFC3339Nano, takenAt); err == nil {
		snap.TakenAt = ts
	}
	return &snap, nil
}

func (s *sqliteStore) Compact(ctx context.Context, entityID string) (int64, error) {
	var snapVersion int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM sync_snapshots WHERE entity_id = ?`, entityID).Scan(&snapVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.WrapStore("event_store", "compact", entityID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_events WHERE entity_id = ? AND version <= ?`,
		entityID, snapVersion)
	if err != nil {
		return 0, errors.WrapStore("event_store", "compact", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapStore("event_store", "compact", entityID, err)
	}
	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner, entityID string) (Event, error) {
	var (
		ev      Event
		evType  string
		payload sql.NullString
		ts      string
	)
	if err := row.Scan(&ev.EventID, &evType, &payload, &ev.Version, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, err
		}
		return Event{}, errors.WrapStore("event_store", "scan", entityID, err)
	}

	ev.EntityID = entityID
	ev.Type = Type(evType)
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	parsed, err := utc.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, errors.NewMalformedDataError(entityID, "", "corrupt event timestamp: "+err.Error())
	}
	ev.Timestamp = parsed
	return ev, nil
}

func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
