package qcmengine

import (
	"sync"
	"time"
)

type lockKey struct {
	sessionID string
	slot      int
}

// LockTable tracks in-flight generation attempts per (session, slot). It is
// process-local and never persisted. An entry older than the TTL is treated as
// abandoned and reclaimed at acquire time, so a crashed attempt cannot wedge a
// slot forever.
type LockTable struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	held map[lockKey]time.Time
}

// NewLockTable creates a lock table with the given staleness TTL.
func NewLockTable(ttl time.Duration) *LockTable {
	return &LockTable{
		ttl:  ttl,
		now:  time.Now,
		held: make(map[lockKey]time.Time),
	}
}

// TryAcquire attempts to take the (session, slot) lock without blocking.
// Returns false if a live attempt already holds it.
func (t *LockTable) TryAcquire(sessionID string, slot int) bool {
	key := lockKey{sessionID, slot}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if started, ok := t.held[key]; ok && now.Sub(started) < t.ttl {
		return false
	}
	t.held[key] = now
	return true
}

// Touch refreshes the hold timestamp of a held (session, slot) lock so
// long-running but healthy work is not reclaimed as stale. Touching an unheld
// lock is a no-op.
func (t *LockTable) Touch(sessionID string, slot int) {
	key := lockKey{sessionID, slot}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[key]; ok {
		t.held[key] = t.now()
	}
}

// Release frees the (session, slot) lock. Releasing an unheld lock is a no-op.
func (t *LockTable) Release(sessionID string, slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, lockKey{sessionID, slot})
}

// Held reports whether a live entry exists for (session, slot).
func (t *LockTable) Held(sessionID string, slot int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.held[lockKey{sessionID, slot}]
	return ok && t.now().Sub(started) < t.ttl
}
