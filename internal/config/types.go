package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
	Stats     StatsConfig     `json:"stats"`

	// Activities adjust or extend the built-in activity table. Changes need a
	// restart.
	Activities []ActivityConfig `json:"activities,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// LogChatID receives WARN+ log lines when logging.telegram.enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// GameBots are the usernames of the game bot(s) whose commands we
	// observe ("/usa@GameBot slot").
	GameBots []string `json:"game_bots,omitempty"`

	// Command dispatch pool.
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	// UserRate caps commands per user per second (0 = unlimited).
	UserRate  float64 `json:"user_rate,omitempty"`
	UserBurst int     `json:"user_burst,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./timerbot.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"` // prefer TIMERBOT_REDIS_PASSWORD
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// SchedulerConfig controls the daily jobs. Times are "HH:MM" in Timezone.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is an IANA name. Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`

	ResetAt       string `json:"reset_at,omitempty"`        // default "00:01"
	GlobalStatsAt string `json:"global_stats_at,omitempty"` // default "00:00"
	DigestAt      string `json:"digest_at,omitempty"`       // default "23:59"

	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls deliveries. Omitted means defaults.
type NotifierConfig struct {
	SendTimeout string `json:"send_timeout,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the read-only HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // prefer TIMERBOT_HTTP_TOKEN (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type StatsConfig struct {
	// RecipientChatID receives the nightly global report. 0 disables it.
	RecipientChatID int64 `json:"recipient_chat_id,omitempty"`
}

// ActivityConfig overrides one activity. Zero fields keep the default.
type ActivityConfig struct {
	ID              string   `json:"id"`
	Cooldown        string   `json:"cooldown,omitempty"`
	Glyph           string   `json:"glyph,omitempty"`
	Label           string   `json:"label,omitempty"`
	Aliases         []string `json:"aliases,omitempty"`
	Command         string   `json:"command,omitempty"`
	SilentWhenMuted *bool    `json:"silent_when_muted,omitempty"`
	Disabled        bool     `json:"disabled,omitempty"`
}
