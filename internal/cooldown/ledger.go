package cooldown

import (
	"sync"
	"time"

	"timerbot/internal/activity"
)

// expireEpsilon pushes a forced expiry just past the cooldown boundary.
const expireEpsilon = time.Second

// Key identifies a (user, activity) pair.
type Key struct {
	UserID   int64
	Activity string
}

// Ledger records the last start of every (user, activity) pair. It is the
// source of truth for eligibility and does no I/O.
type Ledger struct {
	mu     sync.RWMutex
	starts map[Key]time.Time
}

func NewLedger() *Ledger {
	return &Ledger{starts: map[Key]time.Time{}}
}

// StartedAt returns the recorded start, if any.
func (l *Ledger) StartedAt(userID int64, activityID string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.starts[Key{userID, activityID}]
	return t, ok
}

// IsEligible reports whether the cooldown of a has elapsed at now.
func (l *Ledger) IsEligible(userID int64, a activity.Activity, now time.Time) bool {
	return l.Remaining(userID, a, now) == 0
}

// Remaining is max(0, cooldown - (now - start)); 0 when never started.
func (l *Ledger) Remaining(userID int64, a activity.Activity, now time.Time) time.Duration {
	start, ok := l.StartedAt(userID, a.ID)
	if !ok {
		return 0
	}
	left := a.Cooldown - now.Sub(start)
	if left < 0 {
		return 0
	}
	return left
}

// RecordStart overwrites the entry unconditionally.
func (l *Ledger) RecordStart(userID int64, activityID string, at time.Time) {
	l.mu.Lock()
	l.starts[Key{userID, activityID}] = at
	l.mu.Unlock()
}

// ForceExpire back-dates the entry so the pair is eligible at now.
func (l *Ledger) ForceExpire(userID int64, a activity.Activity, now time.Time) {
	l.RecordStart(userID, a.ID, now.Add(-a.Cooldown-expireEpsilon))
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.starts)
}
