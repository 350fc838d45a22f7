package session

import (
	"context"
	"sync"
	"time"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
)

// MemoryStore keeps sessions in process memory. Entries idle for longer
// than the TTL are treated as missing and removed by Purge.
//
// Each session is an independent map entry holding an immutable copy, so
// writers for different sessions never contend. It is not shared across
// processes; use the sqlite or redis backend for more than one replica.
type MemoryStore struct {
	records sync.Map // session id -> memoryItem[*loop.Record]
	states  sync.Map // session id -> memoryItem[*State]
	ttl     time.Duration
	now     func() time.Time
}

type memoryItem[T any] struct {
	value     T
	updatedAt time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now}
}

func (m *MemoryStore) expired(t time.Time) bool {
	return m.ttl > 0 && m.now().Sub(t) > m.ttl
}

func load[T any](m *MemoryStore, items *sync.Map, sessionID string) (T, bool) {
	var zero T
	v, ok := items.Load(sessionID)
	if !ok {
		return zero, false
	}
	item := v.(memoryItem[T])
	if m.expired(item.updatedAt) {
		return zero, false
	}
	return item.value, true
}

// GetRecord implements loop.SessionStore.
func (m *MemoryStore) GetRecord(_ context.Context, sessionID string) (*loop.Record, error) {
	rec, ok := load[*loop.Record](m, &m.records, sessionID)
	if !ok {
		return nil, domerrors.ErrNotFound
	}
	return rec.Clone(), nil
}

// PutRecord implements loop.SessionStore.
func (m *MemoryStore) PutRecord(_ context.Context, sessionID string, record *loop.Record) error {
	if record == nil {
		record = &loop.Record{}
	}
	m.records.Store(sessionID, memoryItem[*loop.Record]{value: record.Clone(), updatedAt: m.now()})
	return nil
}

// DeleteRecord implements loop.SessionStore.
func (m *MemoryStore) DeleteRecord(_ context.Context, sessionID string) error {
	m.records.Delete(sessionID)
	return nil
}

// GetState implements StateStore.
func (m *MemoryStore) GetState(_ context.Context, sessionID string) (*State, error) {
	state, ok := load[*State](m, &m.states, sessionID)
	if !ok {
		return nil, domerrors.ErrNotFound
	}
	return state.Clone(), nil
}

// PutState implements StateStore.
func (m *MemoryStore) PutState(_ context.Context, state *State) error {
	if state == nil || state.SessionID == "" {
		return domerrors.NewValidationError("session_id", "state must carry a session id")
	}
	m.states.Store(state.SessionID, memoryItem[*State]{value: state.Clone(), updatedAt: m.now()})
	return nil
}

// DeleteState implements StateStore.
func (m *MemoryStore) DeleteState(_ context.Context, sessionID string) error {
	m.states.Delete(sessionID)
	return nil
}

// Purge removes expired sessions and returns how many were dropped. An
// entry rewritten while the purge runs is kept.
func (m *MemoryStore) Purge(_ context.Context) (int, error) {
	removed := 0
	for _, items := range []*sync.Map{&m.records, &m.states} {
		items.Range(func(key, value any) bool {
			if m.expiredItem(value) && items.CompareAndDelete(key, value) {
				removed++
			}
			return true
		})
	}
	return removed, nil
}

func (m *MemoryStore) expiredItem(v any) bool {
	switch item := v.(type) {
	case memoryItem[*loop.Record]:
		return m.expired(item.updatedAt)
	case memoryItem[*State]:
		return m.expired(item.updatedAt)
	default:
		return false
	}
}
