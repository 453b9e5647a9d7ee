package storage

import (
	"context"
	"fmt"
	"strings"

	logx "timerbot/pkg/logx"
)

// Store is the persistence API behind the profile cache, stats and admin
// commands. Implementations are safe for concurrent use.
type Store interface {
	// LoadProfile returns ErrNotFound when the user has no record.
	LoadProfile(ctx context.Context, userID int64) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
	ListProfileIDs(ctx context.Context) ([]int64, error)

	// LoadTotals returns a zero Totals when nothing was saved yet.
	LoadTotals(ctx context.Context) (Totals, error)
	SaveTotals(ctx context.Context, t Totals) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"redis":   openRedis,
	"mem":     openMemory,
	"memory":  openMemory,
}

// Open builds the store named by cfg.Driver. A blank or "none" driver means
// storage is off and yields (nil, nil).
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}

func openMemory(Config, logx.Logger) (Store, error) { return NewMemory(), nil }
