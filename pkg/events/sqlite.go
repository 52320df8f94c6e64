package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore mirrors the event log into SQLite so notifications survive
// process restarts. It is attached to a Log as its Sink.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		validator TEXT NOT NULL DEFAULT '',
		initiator TEXT NOT NULL DEFAULT '',
		owner_initiated INTEGER NOT NULL DEFAULT 0,
		data JSON,
		prev_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Persist implements Sink.
func (s *SQLiteStore) Persist(ev Event) error {
	var dataJSON []byte
	if ev.Data != nil {
		var err error
		dataJSON, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	query := `INSERT INTO events (
		sequence, id, timestamp, kind, validator, initiator, owner_initiated, data, prev_hash, content_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ownerInitiated := 0
	if ev.OwnerInitiated {
		ownerInitiated = 1
	}
	_, err := s.db.ExecContext(context.Background(), query,
		ev.Sequence, ev.ID, ev.Timestamp.UTC().Format(time.RFC3339Nano), string(ev.Kind),
		ev.Validator, ev.Initiator, ownerInitiated, nullableString(dataJSON), ev.PrevHash, ev.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Sequence, err)
	}
	return nil
}

// Last returns the highest persisted sequence and its content hash, for
// resuming the chain after a restart. An empty store returns zero values.
func (s *SQLiteStore) Last(ctx context.Context) (uint64, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence, content_hash FROM events ORDER BY sequence DESC LIMIT 1`)
	var (
		seq  uint64
		hash string
	)
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("last event: %w", err)
	}
	return seq, hash, nil
}

// List returns up to limit events in ascending sequence order, starting
// after the given sequence. limit <= 0 means no limit.
func (s *SQLiteStore) List(ctx context.Context, afterSequence uint64, limit int) ([]Event, error) {
	query := `
	SELECT sequence, id, timestamp, kind, validator, initiator, owner_initiated, data, prev_hash, content_hash
	FROM events WHERE sequence > ? ORDER BY sequence ASC`
	args := []any{afterSequence}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev             Event
			ts             string
			kind           string
			ownerInitiated int
			dataJSON       sql.NullString
		)
		if err := rows.Scan(&ev.Sequence, &ev.ID, &ts, &kind, &ev.Validator, &ev.Initiator, &ownerInitiated, &dataJSON, &ev.PrevHash, &ev.ContentHash); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		ev.OwnerInitiated = ownerInitiated != 0
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
		if dataJSON.Valid && dataJSON.String != "" {
			_ = json.Unmarshal([]byte(dataJSON.String), &ev.Data)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
