// Package control owns the safety surface of the engine: domain locks,
// operator control requests with their approval gate, the task execution
// controller, and crash recovery of orphaned tasks.
package control

import (
	"sync"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Locks is the TTL domain lock map. Expired locks are removed lazily on the
// next check; there is no sweeper goroutine.
type Locks struct {
	mu    sync.RWMutex
	now   func() time.Time
	locks map[string]models.DomainLock
}

// NewLocks creates an empty lock map.
func NewLocks() *Locks {
	return &Locks{
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]models.DomainLock),
	}
}

// SetClock replaces the time source. Tests only.
func (l *Locks) SetClock(now func() time.Time) { l.now = now }

// Lock places or extends a lock on the given label for the duration.
func (l *Locks) Lock(label, by string, ttl time.Duration, reason string) models.DomainLock {
	lock := models.DomainLock{
		Domain:      label,
		LockedBy:    by,
		LockedUntil: l.now().Add(ttl),
		Reason:      reason,
	}
	l.mu.Lock()
	l.locks[label] = lock
	l.mu.Unlock()
	return lock
}

// Unlock removes a lock. Returns false when no active lock existed.
func (l *Locks) Unlock(label string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[label]
	if !ok {
		return false
	}
	delete(l.locks, label)
	return lock.Active(l.now())
}

// Locked reports whether the classification domain is under an active lock.
// Satisfies the scheduler's domain guard.
func (l *Locks) Locked(domain models.Domain) bool {
	return l.LockedLabel(string(domain))
}

// LockedLabel reports whether any label (domain or host) is locked.
func (l *Locks) LockedLabel(label string) bool {
	l.mu.RLock()
	lock, ok := l.locks[label]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	if lock.Active(l.now()) {
		return true
	}
	l.mu.Lock()
	if cur, still := l.locks[label]; still && !cur.Active(l.now()) {
		delete(l.locks, label)
	}
	l.mu.Unlock()
	return false
}

// Active returns all currently binding locks.
func (l *Locks) Active() []models.DomainLock {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.DomainLock, 0, len(l.locks))
	for label, lock := range l.locks {
		if !lock.Active(now) {
			delete(l.locks, label)
			continue
		}
		out = append(out, lock)
	}
	return out
}
