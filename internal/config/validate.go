package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scheduler defaults.
const (
	DefaultResetAt       = "00:01"
	DefaultGlobalStatsAt = "00:00"
	DefaultDigestAt      = "23:59"
)

// Validate checks everything that can be checked without side effects. It
// runs on load and before a hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or TIMERBOT_TOKEN)")
	}
	if cfg.Telegram.Workers < 0 || cfg.Telegram.QueueSize < 0 || cfg.Telegram.UserRate < 0 || cfg.Telegram.UserBurst < 0 {
		return fmt.Errorf("telegram.workers, queue_size, user_rate and user_burst must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.command_timeout", cfg.Telegram.CommandTimeout},
		{"scheduler.default_timeout", cfg.Scheduler.DefaultTimeout},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
	} {
		if _, err := DurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler.history_size must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.reset_at", cfg.Scheduler.ResetAt},
		{"scheduler.global_stats_at", cfg.Scheduler.GlobalStatsAt},
		{"scheduler.digest_at", cfg.Scheduler.DigestAt},
	} {
		if err := checkHHMM(f.path, f.raw); err != nil {
			return err
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
			return fmt.Errorf("notifier: workers, queue_size and rate_per_sec must be >= 0")
		}
		if _, err := DurationField("notifier.send_timeout", n.SendTimeout); err != nil {
			return err
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem":
		case "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
			if _, err := DurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
				return err
			}
		case "redis":
			if s.Redis == nil || strings.TrimSpace(s.Redis.Addr) == "" {
				return fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", s.Driver)
		}
	}

	seen := map[string]bool{}
	for i, a := range cfg.Activities {
		id := strings.ToLower(strings.TrimSpace(a.ID))
		if id == "" {
			return fmt.Errorf("activities[%d].id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("activities[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if _, err := DurationField(fmt.Sprintf("activities[%d].cooldown", i), a.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

// checkHHMM accepts "" (default) or a 24h "HH:MM".
func checkHHMM(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	hh, mm, ok := strings.Cut(s, ":")
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if !ok || herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("%s: invalid time %q (want HH:MM)", path, raw)
	}
	return nil
}

// Or returns raw, or def when raw is blank.
func Or(raw, def string) string {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	return strings.TrimSpace(raw)
}
