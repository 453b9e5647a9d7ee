package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"timerbot/internal/eventbus"
	logx "timerbot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}
	for _, bad := range []string{"", "24:00", "12:60", "1230", "aa:bb", "1:2:3"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q) expected error", bad)
		}
	}
}

func TestAddDailySnapshot(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }

	if err := s.AddDaily("stats.reset", "00:01", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily("stats.personal", "23:59", time.Minute, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily("bad", "25:00", 0, noop); err == nil {
		t.Fatal("expected error for invalid time")
	}
	if err := s.AddCron("bad", "not a spec", 0, noop); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}

	snap := s.Snapshot()
	if snap.Timezone != "UTC" {
		t.Fatalf("Timezone = %q", snap.Timezone)
	}
	if len(snap.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(snap.Jobs))
	}
	first := snap.Jobs[0]
	if first.Name != "stats.personal" || first.Spec != "59 23 * * *" {
		t.Fatalf("unexpected job %+v", first)
	}
	if next := snap.Jobs[1].Next; next.Hour() != 0 || next.Minute() != 1 {
		t.Fatalf("stats.reset next = %v, want 00:01", next)
	}

	// Re-registering replaces.
	if err := s.AddDaily("stats.reset", "00:05", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if got := len(s.Snapshot().Jobs); got != 2 {
		t.Fatalf("jobs after upsert = %d, want 2", got)
	}
	if !s.Remove("stats.reset") || s.Remove("stats.reset") {
		t.Fatal("Remove should succeed exactly once")
	}
}

func TestRunNowRecordsOutcome(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	boom := errors.New("boom")
	_ = s.AddCron("ok", "@daily", 0, func(context.Context) error { return nil })
	_ = s.AddCron("fail", "@daily", 0, func(context.Context) error { return boom })
	_ = s.AddCron("panic", "@daily", 0, func(context.Context) error { panic("kaboom") })

	if err := s.RunNow(context.Background(), "ok"); err != nil {
		t.Fatalf("ok: %v", err)
	}
	if err := s.RunNow(context.Background(), "fail"); !errors.Is(err, boom) {
		t.Fatalf("fail: %v", err)
	}
	if err := s.RunNow(context.Background(), "panic"); err == nil {
		t.Fatal("panic: expected error")
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("missing: %v", err)
	}

	hist := s.Snapshot().History
	if len(hist) != 3 {
		t.Fatalf("history = %d, want 3", len(hist))
	}
	if hist[0].Error != "" || hist[1].Error != "boom" || hist[2].Error == "" {
		t.Fatalf("unexpected history %+v", hist)
	}
	want := []string{eventbus.JobFinished, eventbus.JobFailed, eventbus.JobFailed}
	for i, typ := range want {
		if ev := <-ch; ev.Type != typ {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, typ)
		}
	}
}

func TestRunSkipsOverlapAndAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{DefaultTimeout: 50 * time.Millisecond}, logx.Nop(), nil)
	started := make(chan struct{})
	_ = s.AddCron("slow", "@daily", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	errc := make(chan error, 1)
	go func() { errc <- s.RunNow(context.Background(), "slow") }()
	<-started
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second run: %v, want ErrOverlapSkip", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("first run: %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not time out")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	s.Start(context.Background())
	if s.cr != nil {
		t.Fatal("disabled scheduler should not start cron")
	}

	s.Apply(Config{Enabled: true, Timezone: "UTC"})
	s.Start(context.Background())
	if s.cr == nil {
		t.Fatal("cron not started")
	}
	if got := s.Location().String(); got != "UTC" {
		t.Fatalf("Location = %s", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.cr != nil {
		t.Fatal("cron still set after Stop")
	}
}

func TestHistoryKeepsNewest(t *testing.T) {
	t.Parallel()
	s := New(Config{HistorySize: 2}, logx.Nop(), nil)
	for _, name := range []string{"a", "b", "c"} {
		_ = s.AddCron(name, "@daily", 0, func(context.Context) error { return nil })
		if err := s.RunNow(context.Background(), name); err != nil {
			t.Fatalf("RunNow(%s): %v", name, err)
		}
	}
	hist := s.Snapshot().History
	if len(hist) != 2 || hist[0].Name != "b" || hist[1].Name != "c" {
		t.Fatalf("history = %+v, want b, c", hist)
	}

	s.Apply(Config{HistorySize: 1})
	if hist := s.Snapshot().History; len(hist) != 1 || hist[0].Name != "c" {
		t.Fatalf("history after shrink = %+v", hist)
	}
}
