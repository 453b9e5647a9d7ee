package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": one JSON document per user under Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis server at Redis.Addr
//   - "memory": process-local, for tests and dry runs
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, default "timerbot:"
}

// Usage counts triggers of one activity.
type Usage struct {
	Today uint64 `json:"today"`
	Total uint64 `json:"total"`
}

// Profile is the durable per-user record.
//
// LastTimerAt is the only persisted timer state; armed tasks are rebuilt from
// it at startup.
type Profile struct {
	UserID        int64                `json:"user_id"`
	Username      string               `json:"username"`
	RegisteredAt  time.Time            `json:"registered_at"`
	LastActive    time.Time            `json:"last_active"`
	Notifications map[string]bool      `json:"notifications,omitempty"`
	Usage         map[string]Usage     `json:"usage,omitempty"`
	LastTimerAt   map[string]time.Time `json:"last_timer_at,omitempty"`
	DailyDigest   bool                 `json:"daily_digest"`
	StartupNotice bool                 `json:"startup_notice"`
	PreferredChat *int64               `json:"preferred_chat,omitempty"`
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := p
	if p.Notifications != nil {
		out.Notifications = make(map[string]bool, len(p.Notifications))
		for k, v := range p.Notifications {
			out.Notifications[k] = v
		}
	}
	if p.Usage != nil {
		out.Usage = make(map[string]Usage, len(p.Usage))
		for k, v := range p.Usage {
			out.Usage[k] = v
		}
	}
	if p.LastTimerAt != nil {
		out.LastTimerAt = make(map[string]time.Time, len(p.LastTimerAt))
		for k, v := range p.LastTimerAt {
			out.LastTimerAt[k] = v
		}
	}
	if p.PreferredChat != nil {
		v := *p.PreferredChat
		out.PreferredChat = &v
	}
	return out
}

// Totals is the process-wide running aggregate, folded in at each daily reset.
type Totals struct {
	Activities  map[string]uint64 `json:"activities"`
	UniqueUsers uint64            `json:"unique_users"`

	// Snapshot of the last folded day.
	LastDaily       map[string]uint64 `json:"last_daily,omitempty"`
	LastDailyUnique uint64            `json:"last_daily_unique"`

	LastReset    time.Time `json:"last_reset"`
	LastResetDay string    `json:"last_reset_day,omitempty"` // YYYY-MM-DD, local
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target"`
	Error         string    `json:"error,omitempty"`
	MetaJSON      string    `json:"meta,omitempty"`
}
