package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serializes turns per session: at most one Submit runs for a
// given session id while other sessions proceed concurrently.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionSlot
}

// sessionSlot is a one-token semaphore shared by every waiter on a session.
type sessionSlot struct {
	token    chan struct{}
	refCount int
}

// NewSessionLocker creates a new session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{
		locks: make(map[string]*sessionSlot),
	}
}

// Lock acquires the lock for the given session ID. It blocks until the
// lock is acquired or the context is cancelled. The returned unlock function
// MUST be called exactly once when the turn is over.
func (sl *SessionLocker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	sl.mu.Lock()
	slot, ok := sl.locks[sessionID]
	if !ok {
		slot = &sessionSlot{token: make(chan struct{}, 1)}
		sl.locks[sessionID] = slot
	}
	slot.refCount++
	sl.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.token
				sl.release(sessionID, slot)
			})
		}, nil
	case <-ctx.Done():
		sl.release(sessionID, slot)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) release(sessionID string, slot *sessionSlot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	slot.refCount--
	if slot.refCount == 0 {
		delete(sl.locks, sessionID)
	}
}

// ActiveCount returns the number of sessions with held or pending locks.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
