package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timerbot/internal/activity"
	"timerbot/internal/bot"
	"timerbot/internal/clock"
	"timerbot/internal/config"
	"timerbot/internal/cooldown"
	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	"timerbot/internal/stats"
	"timerbot/internal/storage"
	"timerbot/internal/task/scheduler"
	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

type sendRec struct {
	chat      int64
	text      string
	parseMode string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sendRec
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := sendRec{chat: to.ChatID, text: text}
	if opt != nil {
		r.parseMode = opt.ParseMode
	}
	a.sent = append(a.sent, r)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) chats() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int64, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.chat)
	}
	return out
}

type jobsFixture struct {
	ad    *fakeAdapter
	st    *storage.Memory
	prof  *profile.Store
	eng   *cooldown.Engine
	stats *stats.Service
	jobs  *dailyJobs
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC))
	ad := &fakeAdapter{}
	st := storage.NewMemory()
	prof := profile.New(st, clk, logx.Nop())
	reg, err := activity.Load(nil)
	require.NoError(t, err)

	agg := stats.NewAggregate(clk.Now())
	ss, err := stats.New(stats.Deps{Aggregate: agg, Store: st, Profiles: prof, Clock: clk, Location: time.UTC})
	require.NoError(t, err)

	notif := notifier.New(notifier.Config{RatePerSec: 100}, ad, logx.Nop(), nil)
	fan := notifier.NewFanout(notif, logx.Nop())
	fan.Start(ctx)
	t.Cleanup(func() { fan.Stop(context.Background()) })

	eng, err := cooldown.New(cooldown.Deps{
		Registry: reg,
		Profiles: prof,
		Notifier: bot.NewReadyNotifier(notif, prof, logx.Nop()),
		Clock:    clk,
		Logger:   logx.Nop(),
		Usage:    agg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	b, err := bot.New(bot.Deps{Engine: eng, Profiles: prof, Stats: ss, Audit: st, Clock: clk, Logger: logx.Nop()})
	require.NoError(t, err)

	return &jobsFixture{
		ad:    ad,
		st:    st,
		prof:  prof,
		eng:   eng,
		stats: ss,
		jobs: &dailyJobs{
			stats:  ss,
			bot:    b,
			reg:    reg,
			notif:  notif,
			fanout: fan,
			clk:    clk,
			log:    logx.Nop(),
		},
	}
}

func TestRegisterDailyJobs(t *testing.T) {
	f := newJobsFixture(t)
	s := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop(), nil)

	require.NoError(t, f.jobs.register(s, config.SchedulerConfig{DigestAt: "22:30"}))
	specs := map[string]string{}
	for _, j := range s.Snapshot().Jobs {
		specs[j.Name] = j.Spec
	}
	assert.Equal(t, map[string]string{
		JobStatsGlobal:   "0 0 * * *",
		JobStatsReset:    "1 0 * * *",
		JobStatsPersonal: "30 22 * * *",
	}, specs)

	// Re-registering replaces instead of duplicating.
	require.NoError(t, f.jobs.register(s, config.SchedulerConfig{ResetAt: "00:05"}))
	assert.Len(t, s.Snapshot().Jobs, 3)
}

func TestPostGlobal(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	_, err := f.eng.Trigger(ctx, cooldown.Request{UserID: 5, Username: "anna", ActivityID: "slot"})
	require.NoError(t, err)

	require.NoError(t, f.jobs.postGlobal(ctx))
	assert.Empty(t, f.ad.chats(), "no recipient configured")

	f.jobs.recipient.Store(-100)
	require.NoError(t, f.jobs.postGlobal(ctx))
	require.Equal(t, []int64{-100}, f.ad.chats())
	assert.Equal(t, "Markdown", f.ad.sent[0].parseMode)
	assert.Contains(t, f.ad.sent[0].text, "Slot")
}

func TestResetDailyFoldsAggregate(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	_, err := f.eng.Trigger(ctx, cooldown.Request{UserID: 5, Username: "anna", ActivityID: "slot"})
	require.NoError(t, err)

	require.NoError(t, f.jobs.resetDaily(ctx))
	totals, err := f.stats.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), totals.Activities["slot"])
	assert.Zero(t, f.stats.Today().Total())

	p, err := f.prof.Get(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, p.Usage["slot"].Today)
	assert.Equal(t, uint64(1), p.Usage["slot"].Total)
}

func TestDigestsAndStartupNoticesFanOut(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	_, err := f.prof.SetDailyDigest(ctx, 1, true)
	require.NoError(t, err)
	_, err = f.prof.SetStartupNotice(ctx, 2, true)
	require.NoError(t, err)
	_, err = f.prof.Get(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, f.jobs.sendDigests(ctx))
	require.Eventually(t, func() bool { return len(f.ad.chats()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1}, f.ad.chats())

	require.NoError(t, f.jobs.sendStartupNotices(ctx))
	require.Eventually(t, func() bool { return len(f.ad.chats()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, f.ad.chats())
}

func TestSubmitWithoutRecipientsIsNoop(t *testing.T) {
	f := newJobsFixture(t)
	require.NoError(t, f.jobs.sendDigests(context.Background()))
	assert.Empty(t, f.ad.chats())
}
