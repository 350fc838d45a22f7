package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/session"
)

// SessionStore persists loop records and slot state in SQLite.
// It implements session.Store.
type SessionStore struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionStore creates a session store. Rows idle for longer than ttl
// read as missing; a non-positive ttl never expires.
func NewSessionStore(db *DB, ttl time.Duration) *SessionStore {
	return &SessionStore{db: db, ttl: ttl, now: time.Now}
}

var _ session.Store = (*SessionStore)(nil)

func (s *SessionStore) fresh(updatedAt int64) bool {
	if s.ttl <= 0 {
		return true
	}
	return s.now().Sub(time.UnixMilli(updatedAt)) <= s.ttl
}

// GetRecord implements loop.SessionStore.
func (s *SessionStore) GetRecord(ctx context.Context, sessionID string) (*loop.Record, error) {
	var rec loop.Record
	if err := s.get(ctx, "get_loop", `SELECT record, updated_at FROM session_loops WHERE session_id = ?`, sessionID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutRecord implements loop.SessionStore.
func (s *SessionStore) PutRecord(ctx context.Context, sessionID string, record *loop.Record) error {
	if record == nil {
		record = &loop.Record{}
	}
	return s.put(ctx, "put_loop", `
		INSERT INTO session_loops (session_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, sessionID, record)
}

// DeleteRecord implements loop.SessionStore.
func (s *SessionStore) DeleteRecord(ctx context.Context, sessionID string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM session_loops WHERE session_id = ?`, sessionID); err != nil {
		return domerrors.NewStorageError("session", "delete_loop", err)
	}
	return nil
}

// GetState implements session.StateStore.
func (s *SessionStore) GetState(ctx context.Context, sessionID string) (*session.State, error) {
	var st session.State
	if err := s.get(ctx, "get_state", `SELECT state, updated_at FROM session_states WHERE session_id = ?`, sessionID, &st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// PutState implements session.StateStore.
func (s *SessionStore) PutState(ctx context.Context, state *session.State) error {
	if state == nil || state.SessionID == "" {
		return domerrors.NewValidationError("session_id", "state must carry a session id")
	}
	return s.put(ctx, "put_state", `
		INSERT INTO session_states (session_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, state.SessionID, state)
}

// DeleteState implements session.StateStore.
func (s *SessionStore) DeleteState(ctx context.Context, sessionID string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM session_states WHERE session_id = ?`, sessionID); err != nil {
		return domerrors.NewStorageError("session", "delete_state", err)
	}
	return nil
}

// PurgeExpired deletes sessions idle for longer than the TTL and returns
// the number of rows removed.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, domerrors.NewStorageError("session", "purge", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, q := range []string{
		`DELETE FROM session_loops WHERE updated_at < ?`,
		`DELETE FROM session_states WHERE updated_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff)
		if err != nil {
			return 0, domerrors.NewStorageError("session", "purge", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, domerrors.NewStorageError("session", "purge", err)
	}
	if total > 0 {
		s.db.logger.WithField("removed", total).Debug("Purged expired sessions")
	}
	return total, nil
}

func (s *SessionStore) get(ctx context.Context, op, query, sessionID string, dst any) error {
	var (
		raw       string
		updatedAt int64
	)
	err := s.db.conn.QueryRowContext(ctx, query, sessionID).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domerrors.ErrNotFound
	}
	if err != nil {
		return domerrors.NewStorageError("session", op, err)
	}
	if !s.fresh(updatedAt) {
		return domerrors.ErrNotFound
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return domerrors.NewStorageError("session", op, err)
	}
	return nil
}

func (s *SessionStore) put(ctx context.Context, op, query, sessionID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return domerrors.NewStorageError("session", op, err)
	}
	if _, err := s.db.conn.ExecContext(ctx, query, sessionID, string(data), s.now().UnixMilli()); err != nil {
		return domerrors.NewStorageError("session", op, err)
	}
	return nil
}
