package app

import (
	"strconv"
	"strings"
	"time"

	"timerbot/internal/activity"
	"timerbot/internal/config"
	"timerbot/internal/httpapi"
	"timerbot/internal/notifier"
	"timerbot/internal/storage"
	"timerbot/internal/task/scheduler"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig returns enabled=false when no persistent driver is set.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	switch driver {
	case "sqlite", "sqlite3":
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	case "redis":
		if sc.Redis != nil {
			out.Redis = storage.RedisConfig{
				Addr:     strings.TrimSpace(sc.Redis.Addr),
				Password: sc.Redis.Password,
				DB:       sc.Redis.DB,
				Prefix:   sc.Redis.Prefix,
			}
		}
	}
	return out, true, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, nil
	}
	st, err := config.DurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		SendTimeout: st,
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	def, err := config.DurationOr("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       strings.TrimSpace(cfg.Scheduler.Timezone),
		DefaultTimeout: def,
		HistorySize:    cfg.Scheduler.HistorySize,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	rt, err := config.DurationOr("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.DurationOr("http.write_timeout", h.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	it, err := config.DurationOr("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapRouterOptions(cfg *config.Config, botUsername string) (router.Options, error) {
	to, err := config.DurationOr("telegram.command_timeout", cfg.Telegram.CommandTimeout, 15*time.Second)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{
		Workers:        cfg.Telegram.Workers,
		QueueSize:      cfg.Telegram.QueueSize,
		BotUsername:    botUsername,
		ObservedBots:   cfg.Telegram.GameBots,
		DefaultTimeout: to,
		UserRate:       cfg.Telegram.UserRate,
		UserBurst:      cfg.Telegram.UserBurst,
	}, nil
}

func mapActivityOverrides(cfg *config.Config) ([]activity.Override, error) {
	out := make([]activity.Override, 0, len(cfg.Activities))
	for i, a := range cfg.Activities {
		cd, err := config.DurationField("activities["+strconv.Itoa(i)+"].cooldown", a.Cooldown)
		if err != nil {
			return nil, err
		}
		out = append(out, activity.Override{
			ID:              a.ID,
			Cooldown:        cd,
			Glyph:           a.Glyph,
			Label:           a.Label,
			Aliases:         a.Aliases,
			Command:         a.Command,
			SilentWhenMuted: a.SilentWhenMuted,
			Disabled:        a.Disabled,
		})
	}
	return out, nil
}
