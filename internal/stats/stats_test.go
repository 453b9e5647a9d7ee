package stats

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timerbot/internal/activity"
	"timerbot/internal/clock"
	"timerbot/internal/eventbus"
	"timerbot/internal/profile"
	"timerbot/internal/storage"
	logx "timerbot/pkg/logx"
)

var t0 = time.Date(2026, 5, 1, 0, 1, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	agg      *Aggregate
	mem      *storage.Memory
	profiles *profile.Store
	clk      *clock.Fake
	bus      eventbus.Bus
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	mem := storage.NewMemory()
	profiles := profile.New(mem, clk, logx.Nop())
	agg := NewAggregate(t0)
	bus := eventbus.New()
	svc, err := New(Deps{
		Aggregate: agg,
		Store:     mem,
		Profiles:  profiles,
		Clock:     clk,
		Logger:    logx.Nop(),
		Bus:       bus,
		Location:  time.UTC,
	})
	require.NoError(t, err)
	return fixture{svc: svc, agg: agg, mem: mem, profiles: profiles, clk: clk, bus: bus}
}

func TestAggregateCountsDistinctUsers(t *testing.T) {
	t.Parallel()
	agg := NewAggregate(t0)
	agg.Record(1, "slot")
	agg.Record(1, "slot")
	agg.Record(2, "avventura")

	s := agg.Snapshot()
	assert.Equal(t, map[string]uint64{"slot": 2, "avventura": 1}, s.Counts)
	assert.Equal(t, 2, s.UniqueUsers)
	assert.Equal(t, uint64(3), s.Total())
	assert.Equal(t, []int64{1, 2}, agg.Users())

	s.Counts["slot"] = 99
	assert.Equal(t, uint64(2), agg.Snapshot().Counts["slot"])
}

func TestResetDailyFoldsAndZeroes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	ch, unsub := f.bus.Subscribe(4)
	defer unsub()

	for _, id := range []int64{1, 2} {
		_, err := f.profiles.RecordUsage(ctx, id, "", "slot", f.clk.Now())
		require.NoError(t, err)
		f.agg.Record(id, "slot")
	}
	f.agg.Record(1, "avventura")

	rep, err := f.svc.ResetDaily(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, "2026-05-01", rep.Day)
	assert.Equal(t, 2, rep.Profiles)
	assert.Equal(t, uint64(3), rep.Folded.Total())

	tot, err := f.svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tot.Activities["slot"])
	assert.Equal(t, uint64(1), tot.Activities["avventura"])
	assert.Equal(t, uint64(2), tot.LastDailyUnique)
	assert.Equal(t, uint64(2), tot.UniqueUsers)
	assert.Equal(t, "2026-05-01", tot.LastResetDay)

	assert.Zero(t, f.svc.Today().Total())
	p, err := f.profiles.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.Usage{Today: 0, Total: 1}, p.Usage["slot"])

	ev := <-ch
	assert.Equal(t, eventbus.StatsReset, ev.Type)
}

func TestResetDailyRunsOncePerDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.agg.Record(1, "slot")
	_, err := f.svc.ResetDaily(ctx)
	require.NoError(t, err)

	f.agg.Record(1, "slot")
	f.clk.Advance(time.Hour)
	rep, err := f.svc.ResetDaily(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, uint64(1), f.svc.Today().Counts["slot"])

	f.clk.Advance(24 * time.Hour)
	rep, err = f.svc.ResetDaily(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)

	tot, err := f.svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tot.Activities["slot"])
	assert.Equal(t, "2026-05-02", tot.LastResetDay)
}

func TestResetDailyKeepsAggregateOnSaveFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.agg.Record(5, "forno")
	f.mem.FailSave = errors.New("disk full")

	_, err := f.svc.ResetDaily(context.Background())
	require.Error(t, err)
	s := f.svc.Today()
	assert.Equal(t, uint64(1), s.Counts["forno"])
	assert.Equal(t, 1, s.UniqueUsers)
	assert.True(t, s.Since.Equal(t0))
}

func TestServiceWithoutStore(t *testing.T) {
	t.Parallel()
	agg := NewAggregate(t0)
	svc, err := New(Deps{Aggregate: agg, Clock: clock.NewFake(t0), Location: time.UTC})
	require.NoError(t, err)

	agg.Record(1, "gica")
	_, err = svc.ResetDaily(context.Background())
	require.NoError(t, err)
	tot, err := svc.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tot.Activities["gica"])

	_, err = New(Deps{})
	require.Error(t, err)
}

func TestRenderers(t *testing.T) {
	t.Parallel()
	reg, err := activity.Load(nil)
	require.NoError(t, err)

	p := storage.Profile{UserID: 1, Usage: map[string]storage.Usage{"slot": {Today: 2, Total: 1}}}

	usage := PersonalUsage(reg, p, "mario")
	assert.Contains(t, usage, "@mario")
	assert.Contains(t, usage, "🎰 Slot: 2 oggi | 2 totale")

	assert.Equal(t, "@luigi, non hai ancora utilizzato alcun comando tracciato!",
		PersonalUsage(reg, storage.Profile{}, "luigi"))

	digest := DailyDigest(reg, p, t0)
	assert.Contains(t, digest, "01/05/2026")
	assert.Contains(t, digest, "🎰 *Slot*: 2 utilizzi oggi")
	assert.NotContains(t, digest, "Nessuna attività")
	assert.Contains(t, DailyDigest(reg, storage.Profile{}, t0), "Nessuna attività registrata oggi")

	global := GlobalReport(reg,
		Snapshot{Counts: map[string]uint64{"slot": 3}, UniqueUsers: 2},
		storage.Totals{Activities: map[string]uint64{"slot": 10, "forno": 1}, UniqueUsers: 7},
	)
	today, total, ok := strings.Cut(global, "*Utilizzi Totali (persistenti):*")
	require.True(t, ok)
	assert.Contains(t, today, "🎰 Slot: 3")
	assert.NotContains(t, today, "Forno")
	assert.Contains(t, today, "Utenti unici oggi: 2")
	assert.Contains(t, total, "🎰 Slot: 13")
	assert.Contains(t, total, "🔥 Forno: 1")
	assert.Contains(t, total, "Utenti registrati: 7")
}
