package config

import (
	"reflect"
	"sort"
	"strings"

	logx "timerbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.AdminIDs, nt.AdminIDs) ||
		!reflect.DeepEqual(ot.GameBots, nt.GameBots) ||
		ot.LogChatID != nt.LogChatID ||
		ot.Workers != nt.Workers ||
		ot.QueueSize != nt.QueueSize ||
		ot.UserRate != nt.UserRate ||
		ot.UserBurst != nt.UserBurst ||
		strings.TrimSpace(ot.CommandTimeout) != strings.TrimSpace(nt.CommandTimeout) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Any("telegram.game_bots", nt.GameBots),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Storage (never log passwords)
	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver_old", oDriver),
			logx.String("storage.driver", nDriver),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.reset_at", s.ResetAt),
			logx.String("scheduler.global_stats_at", s.GlobalStatsAt),
			logx.String("scheduler.digest_at", s.DigestAt),
		)
	}

	// Notifier (nil means defaults)
	var oN, nN NotifierConfig
	if oldCfg.Notifier != nil {
		oN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nN = *newCfg.Notifier
	}
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.String("notifier.send_timeout", nN.SendTimeout),
		)
	}

	// HTTP (never log token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
		)
	}

	if oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "stats")
		attrs = append(attrs, logx.Bool("stats.recipient_set", newCfg.Stats.RecipientChatID != 0))
	}

	if !reflect.DeepEqual(oldCfg.Activities, newCfg.Activities) {
		changed = append(changed, "activities")
		attrs = append(attrs, logx.Int("activities.overrides", len(newCfg.Activities)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists sections whose changes only apply after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "activities":
			out = append(out, s)
		}
	}
	return out
}
