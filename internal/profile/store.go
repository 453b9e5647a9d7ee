// Package profile is the write-through cache in front of storage.Store.
//
// Every mutation is applied in memory first and then persisted. A failed save
// is reported as ErrPersistence but the in-memory value is kept: memory stays
// authoritative until the next successful save.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"timerbot/internal/clock"
	"timerbot/internal/storage"
	logx "timerbot/pkg/logx"
)

type Profile = storage.Profile

var ErrPersistence = errors.New("profile persistence failed")

type entry struct {
	mu sync.Mutex
	p  Profile
	ok bool // loaded or created
}

type Store struct {
	st  storage.Store
	clk clock.Clock
	log logx.Logger

	mu    sync.Mutex
	cache map[int64]*entry
}

func New(st storage.Store, clk clock.Clock, log logx.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{st: st, clk: clk, log: log.With(logx.String("comp", "profile")), cache: map[int64]*entry{}}
}

func (s *Store) entry(userID int64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[userID]
	if !ok {
		e = &entry{}
		s.cache[userID] = e
	}
	return e
}

// loadLocked fills e from the backend, creating a fresh profile when none exists.
// The returned bool reports whether the profile was created.
func (s *Store) loadLocked(ctx context.Context, userID int64, e *entry) (bool, error) {
	if e.ok {
		return false, nil
	}
	p, err := s.st.LoadProfile(ctx, userID)
	switch {
	case err == nil:
		e.p, e.ok = normalize(p, userID), true
		return false, nil
	case errors.Is(err, storage.ErrNotFound):
		now := s.clk.Now()
		e.p = normalize(Profile{UserID: userID, RegisteredAt: now, LastActive: now}, userID)
		e.ok = true
		return true, nil
	default:
		return false, fmt.Errorf("load profile %d: %w", userID, err)
	}
}

func normalize(p Profile, userID int64) Profile {
	p.UserID = userID
	if p.Notifications == nil {
		p.Notifications = map[string]bool{}
	}
	if p.Usage == nil {
		p.Usage = map[string]storage.Usage{}
	}
	if p.LastTimerAt == nil {
		p.LastTimerAt = map[string]time.Time{}
	}
	return p
}

// Get returns a copy of the profile, creating and persisting it on first use.
func (s *Store) Get(ctx context.Context, userID int64) (Profile, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	created, err := s.loadLocked(ctx, userID, e)
	if err != nil {
		return Profile{}, err
	}
	if created {
		if err := s.saveLocked(ctx, e); err != nil {
			return e.p.Clone(), err
		}
	}
	return e.p.Clone(), nil
}

// Lookup returns a stored profile without creating one.
func (s *Store) Lookup(ctx context.Context, userID int64) (Profile, bool, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ok {
		return e.p.Clone(), true, nil
	}
	p, err := s.st.LoadProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	e.p, e.ok = normalize(p, userID), true
	return e.p.Clone(), true, nil
}

// Update applies fn to the cached profile and persists the result.
// On ErrPersistence the returned profile reflects the in-memory change.
func (s *Store) Update(ctx context.Context, userID int64, fn func(p *Profile)) (Profile, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := s.loadLocked(ctx, userID, e); err != nil {
		return Profile{}, err
	}
	fn(&e.p)
	e.p.LastActive = s.clk.Now()
	err := s.saveLocked(ctx, e)
	return e.p.Clone(), err
}

func (s *Store) saveLocked(ctx context.Context, e *entry) error {
	if err := s.st.SaveProfile(ctx, e.p); err != nil {
		s.log.Warn("profile save failed", logx.Int64("user_id", e.p.UserID), logx.Err(err))
		return fmt.Errorf("%w: user %d: %v", ErrPersistence, e.p.UserID, err)
	}
	return nil
}

// IDs lists every stored user.
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	return s.st.ListProfileIDs(ctx)
}

// Touch records activity and refreshes the username.
func (s *Store) Touch(ctx context.Context, userID int64, username string) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) {
		if username != "" {
			p.Username = username
		}
	})
}

// RecordUsage bumps today/total for the activity and stores the start time.
// A non-empty username replaces the stored one.
func (s *Store) RecordUsage(ctx context.Context, userID int64, username, activityID string, at time.Time) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) {
		if username != "" {
			p.Username = username
		}
		u := p.Usage[activityID]
		u.Today++
		u.Total++
		p.Usage[activityID] = u
		p.LastTimerAt[activityID] = at
	})
}

// ClearLastTimer forgets the persisted starts of the given activities.
func (s *Store) ClearLastTimer(ctx context.Context, userID int64, activityIDs ...string) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) {
		for _, id := range activityIDs {
			delete(p.LastTimerAt, id)
		}
	})
}

// NotificationsEnabled reports the per-activity flag. Missing means enabled.
func NotificationsEnabled(p Profile, activityID string) bool {
	v, ok := p.Notifications[activityID]
	return !ok || v
}

func (s *Store) SetNotification(ctx context.Context, userID int64, activityID string, enabled bool) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) {
		p.Notifications[activityID] = enabled
	})
}

func (s *Store) SetDailyDigest(ctx context.Context, userID int64, on bool) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) { p.DailyDigest = on })
}

func (s *Store) SetStartupNotice(ctx context.Context, userID int64, on bool) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) { p.StartupNotice = on })
}

// SetPreferredChat routes notifications to chatID; nil restores direct delivery.
func (s *Store) SetPreferredChat(ctx context.Context, userID int64, chatID *int64) (Profile, error) {
	return s.Update(ctx, userID, func(p *Profile) {
		if chatID == nil {
			p.PreferredChat = nil
			return
		}
		v := *chatID
		p.PreferredChat = &v
	})
}

// ResetToday zeroes every Today counter of every stored profile. It keeps
// going on per-user failures and returns the first error.
func (s *Store) ResetToday(ctx context.Context) (int, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	var first error
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e := s.entry(id)
		e.mu.Lock()
		if _, err := s.loadLocked(ctx, id, e); err != nil {
			e.mu.Unlock()
			if first == nil {
				first = err
			}
			continue
		}
		for k, u := range e.p.Usage {
			u.Today = 0
			e.p.Usage[k] = u
		}
		if err := s.saveLocked(ctx, e); err != nil && first == nil {
			first = err
		}
		e.mu.Unlock()
		n++
	}
	return n, first
}

// Each calls fn with a copy of every stored profile. Load errors are logged
// and skipped.
func (s *Store) Each(ctx context.Context, fn func(p Profile) error) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, ok, err := s.Lookup(ctx, id)
		if err != nil {
			s.log.Warn("profile load failed", logx.Int64("user_id", id), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}
