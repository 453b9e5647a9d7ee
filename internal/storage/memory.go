package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Memory is an in-process Store. Values are deep-copied on the way in and out.
type Memory struct {
	mu       sync.Mutex
	profiles map[int64]Profile
	totals   Totals
	audit    []AuditEntry
	closed   bool

	// FailSave, when set, is returned by SaveProfile and SaveTotals.
	FailSave error
}

func NewMemory() *Memory {
	return &Memory{profiles: map[int64]Profile{}}
}

func (m *Memory) LoadProfile(_ context.Context, userID int64) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) SaveProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory store closed")
	}
	if m.FailSave != nil {
		return m.FailSave
	}
	m.profiles[p.UserID] = p.Clone()
	return nil
}

func (m *Memory) ListProfileIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.profiles))
	for id := range m.profiles {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) LoadTotals(_ context.Context) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTotals(m.totals), nil
}

func (m *Memory) SaveTotals(_ context.Context, t Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.totals = cloneTotals(t)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the appended audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func cloneTotals(t Totals) Totals {
	out := t
	out.Activities = make(map[string]uint64, len(t.Activities))
	for k, v := range t.Activities {
		out.Activities[k] = v
	}
	if t.LastDaily != nil {
		out.LastDaily = make(map[string]uint64, len(t.LastDaily))
		for k, v := range t.LastDaily {
			out.LastDaily[k] = v
		}
	}
	return out
}
