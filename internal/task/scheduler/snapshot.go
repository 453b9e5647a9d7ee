package scheduler

import (
	"slices"
	"strings"
	"sync"
	"time"
)

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type JobInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Running bool
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}

// Snapshot lists jobs by name with their next fire time, plus recent runs
// oldest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	loc := s.locationLocked()
	now := time.Now().In(loc)
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: loc.String(), Jobs: make([]JobInfo, 0, len(s.entries))}
	for _, e := range s.entries {
		info := JobInfo{Name: e.name, Spec: e.spec, Timeout: e.timeout, Running: e.running}
		if sched, err := s.parser.Parse(e.spec); err == nil {
			info.Next = sched.Next(now)
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()

	slices.SortFunc(snap.Jobs, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	snap.History = s.hist.list()
	return snap
}

// history keeps the last max run outcomes.
type history struct {
	mu    sync.Mutex
	max   int
	items []HistoryItem
}

func (h *history) resize(n int) {
	if n <= 0 {
		n = defaultHistory
	}
	h.mu.Lock()
	h.max = n
	h.trim()
	h.mu.Unlock()
}

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	h.items = append(h.items, it)
	h.trim()
	h.mu.Unlock()
}

func (h *history) trim() {
	if over := len(h.items) - h.max; over > 0 {
		h.items = slices.Delete(h.items, 0, over)
	}
}

func (h *history) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.items)
}
