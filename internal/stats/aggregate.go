// Package stats keeps the in-memory daily aggregate of activity triggers and
// folds it into the persisted totals once a day.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Aggregate counts triggers per activity and distinct users since the last
// reset. It satisfies cooldown.UsageSink.
type Aggregate struct {
	mu     sync.Mutex
	counts map[string]uint64
	users  map[int64]struct{}
	since  time.Time
}

// Snapshot is a point-in-time copy of an Aggregate.
type Snapshot struct {
	Counts      map[string]uint64 `json:"counts"`
	UniqueUsers int               `json:"unique_users"`
	Since       time.Time         `json:"since"`
}

// Total sums every activity count.
func (s Snapshot) Total() uint64 {
	var n uint64
	for _, v := range s.Counts {
		n += v
	}
	return n
}

func NewAggregate(since time.Time) *Aggregate {
	return &Aggregate{
		counts: map[string]uint64{},
		users:  map[int64]struct{}{},
		since:  since,
	}
}

func (a *Aggregate) Record(userID int64, activityID string) {
	a.mu.Lock()
	a.counts[activityID]++
	a.users[userID] = struct{}{}
	a.mu.Unlock()
}

func (a *Aggregate) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// take returns the current period and starts a new one at now.
func (a *Aggregate) take(now time.Time) (Snapshot, map[int64]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, users := a.snapshotLocked(), a.users
	a.counts = map[string]uint64{}
	a.users = map[int64]struct{}{}
	a.since = now
	return s, users
}

// restore merges a taken period back after a failed fold.
func (a *Aggregate) restore(s Snapshot, users map[int64]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range s.Counts {
		a.counts[k] += v
	}
	for id := range users {
		a.users[id] = struct{}{}
	}
	if s.Since.Before(a.since) {
		a.since = s.Since
	}
}

// Users lists the distinct users of the current period in ascending order.
func (a *Aggregate) Users() []int64 {
	a.mu.Lock()
	out := make([]int64, 0, len(a.users))
	for id := range a.users {
		out = append(out, id)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Aggregate) snapshotLocked() Snapshot {
	counts := make(map[string]uint64, len(a.counts))
	for k, v := range a.counts {
		counts[k] = v
	}
	return Snapshot{Counts: counts, UniqueUsers: len(a.users), Since: a.since}
}
