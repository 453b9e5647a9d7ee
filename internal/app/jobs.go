package app

import (
	"context"
	"errors"
	"sync/atomic"

	"timerbot/internal/activity"
	"timerbot/internal/bot"
	"timerbot/internal/clock"
	"timerbot/internal/config"
	"timerbot/internal/notifier"
	"timerbot/internal/stats"
	"timerbot/internal/task/scheduler"
	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

// Scheduled job names.
const (
	JobStatsReset    = "stats.reset"
	JobStatsGlobal   = "stats.global"
	JobStatsPersonal = "stats.personal"
)

// dailyJobs holds the work behind the nightly schedules and the startup
// notice.
type dailyJobs struct {
	stats  *stats.Service
	bot    *bot.Bot
	reg    *activity.Registry
	notif  *notifier.Service
	fanout *notifier.Fanout
	clk    clock.Clock
	log    logx.Logger

	recipient atomic.Int64
}

// register (re)installs the three daily jobs; existing ones are replaced.
func (j *dailyJobs) register(s *scheduler.Service, sc config.SchedulerConfig) error {
	if err := s.AddDaily(JobStatsGlobal, config.Or(sc.GlobalStatsAt, config.DefaultGlobalStatsAt), 0, j.postGlobal); err != nil {
		return err
	}
	if err := s.AddDaily(JobStatsReset, config.Or(sc.ResetAt, config.DefaultResetAt), 0, j.resetDaily); err != nil {
		return err
	}
	return s.AddDaily(JobStatsPersonal, config.Or(sc.DigestAt, config.DefaultDigestAt), 0, j.sendDigests)
}

func (j *dailyJobs) resetDaily(ctx context.Context) error {
	_, err := j.stats.ResetDaily(ctx)
	return err
}

func (j *dailyJobs) postGlobal(ctx context.Context) error {
	chatID := j.recipient.Load()
	if chatID == 0 {
		j.log.Debug("global stats skipped: no recipient chat")
		return nil
	}
	totals, err := j.stats.Totals(ctx)
	if err != nil {
		return err
	}
	text := stats.GlobalReport(j.reg, j.stats.Today(), totals)
	return j.notif.Send(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: "Markdown"})
}

func (j *dailyJobs) sendDigests(ctx context.Context) error {
	items, err := j.bot.DailyDigests(ctx, j.clk.Now())
	if err != nil {
		return err
	}
	return j.submit("daily_digest", items)
}

func (j *dailyJobs) sendStartupNotices(ctx context.Context) error {
	items, err := j.bot.StartupNotices(ctx)
	if err != nil {
		return err
	}
	return j.submit("startup_notice", items)
}

func (j *dailyJobs) submit(name string, items []notifier.Item) error {
	if len(items) == 0 {
		j.log.Debug("fanout skipped: no recipients", logx.String("name", name))
		return nil
	}
	id, err := j.fanout.Submit(name, items)
	if err != nil {
		if errors.Is(err, notifier.ErrQueueFull) {
			j.log.Warn("fanout queue full", logx.String("name", name), logx.Int("items", len(items)))
		}
		return err
	}
	j.log.Info("fanout submitted", logx.String("name", name), logx.String("job", id), logx.Int("items", len(items)))
	return nil
}
