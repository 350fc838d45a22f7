package assistant

import (
	"context"
	"sync"
)

// turnLocks serialises turns of the same session in arrival order. Entries
// are reference counted and removed when no turn holds or waits on them.
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	ch   chan struct{} // Buffered(1): holding the token means holding the lock
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[string]*turnLock)}
}

// acquire blocks until the session lock is held or ctx is done. The returned
// func releases it.
func (t *turnLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &turnLock{ch: make(chan struct{}, 1)}
		t.locks[sessionID] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.release(sessionID, l)
		}, nil
	case <-ctx.Done():
		t.release(sessionID, l)
		return nil, ctx.Err()
	}
}

func (t *turnLocks) release(sessionID string, l *turnLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, sessionID)
	}
}

func (t *turnLocks) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
