package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"timerbot/internal/clock"
	"timerbot/internal/eventbus"
	"timerbot/internal/profile"
	"timerbot/internal/storage"
	logx "timerbot/pkg/logx"
)

const dayLayout = "2006-01-02"

// Deps wires a Service. Aggregate is required; Store may be nil, in which
// case totals live in memory only.
type Deps struct {
	Aggregate *Aggregate
	Store     storage.Store
	Profiles  *profile.Store
	Clock     clock.Clock
	Logger    logx.Logger
	Bus       eventbus.Bus
	// Location decides where a day starts. Default time.Local.
	Location *time.Location
}

// ResetReport describes one ResetDaily run.
type ResetReport struct {
	Day      string   `json:"day"`
	Skipped  bool     `json:"skipped"`
	Folded   Snapshot `json:"folded"`
	Profiles int      `json:"profiles"`
}

type Service struct {
	agg      *Aggregate
	store    storage.Store
	profiles *profile.Store
	clk      clock.Clock
	log      logx.Logger
	bus      eventbus.Bus
	loc      *time.Location

	mu     sync.Mutex
	totals storage.Totals // used when store is nil
}

func New(d Deps) (*Service, error) {
	if d.Aggregate == nil {
		return nil, errors.New("stats: aggregate is required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Service{
		agg:      d.Aggregate,
		store:    d.Store,
		profiles: d.Profiles,
		clk:      d.Clock,
		log:      d.Logger.With(logx.String("comp", "stats")),
		bus:      d.Bus,
		loc:      d.Location,
	}, nil
}

func (s *Service) Aggregate() *Aggregate { return s.agg }

// Today returns the aggregate of the current period.
func (s *Service) Today() Snapshot { return s.agg.Snapshot() }

// Totals returns the persisted running totals.
func (s *Service) Totals(ctx context.Context) (storage.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) (storage.Totals, error) {
	if s.store == nil {
		return cloneTotals(s.totals), nil
	}
	t, err := s.store.LoadTotals(ctx)
	if err != nil {
		return storage.Totals{}, fmt.Errorf("load totals: %w", err)
	}
	return t, nil
}

func (s *Service) saveLocked(ctx context.Context, t storage.Totals) error {
	if s.store == nil {
		s.totals = cloneTotals(t)
		return nil
	}
	if err := s.store.SaveTotals(ctx, t); err != nil {
		return fmt.Errorf("save totals: %w", err)
	}
	return nil
}

// ResetDaily folds the current aggregate into the totals, starts a new
// period and zeroes every profile's Today counters. It runs at most once per
// local calendar day; later calls on the same day report Skipped.
func (s *Service) ResetDaily(ctx context.Context) (ResetReport, error) {
	now := s.clk.Now().In(s.loc)
	day := now.Format(dayLayout)
	rep := ResetReport{Day: day}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.loadLocked(ctx)
	if err != nil {
		return rep, err
	}
	if t.LastResetDay == day {
		s.log.Info("daily reset already done", logx.String("day", day))
		rep.Skipped = true
		return rep, nil
	}

	snap, users := s.agg.take(now)
	if t.Activities == nil {
		t.Activities = map[string]uint64{}
	}
	for id, n := range snap.Counts {
		t.Activities[id] += n
	}
	t.LastDaily = snap.Counts
	t.LastDailyUnique = uint64(snap.UniqueUsers)
	t.LastReset = now
	t.LastResetDay = day
	if s.profiles != nil {
		if ids, err := s.profiles.IDs(ctx); err == nil {
			t.UniqueUsers = uint64(len(ids))
		} else {
			s.log.Warn("count profiles failed", logx.Err(err))
		}
	}

	if err := s.saveLocked(ctx, t); err != nil {
		s.agg.restore(snap, users)
		s.log.Error("daily reset failed; aggregate kept", logx.Err(err))
		return rep, err
	}
	rep.Folded = snap

	var resetErr error
	if s.profiles != nil {
		rep.Profiles, resetErr = s.profiles.ResetToday(ctx)
	}
	fields := []logx.Field{
		logx.String("day", day),
		logx.Uint64("triggers", snap.Total()),
		logx.Int("unique_users", snap.UniqueUsers),
		logx.Int("profiles", rep.Profiles),
	}
	if resetErr != nil {
		s.log.Warn("daily reset: some profiles not reset", append(fields, logx.Err(resetErr))...)
	} else {
		s.log.Info("daily reset done", fields...)
	}
	eventbus.Emit(s.bus, eventbus.StatsReset, now, rep)
	return rep, resetErr
}

func cloneTotals(t storage.Totals) storage.Totals {
	out := t
	out.Activities = cloneCounts(t.Activities)
	out.LastDaily = cloneCounts(t.LastDaily)
	return out
}

func cloneCounts(m map[string]uint64) map[string]uint64 {
	if m == nil {
		return nil
	}
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
