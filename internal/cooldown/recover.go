package cooldown

import (
	"context"

	"timerbot/internal/eventbus"
	"timerbot/internal/profile"
	logx "timerbot/pkg/logx"
)

// RecoverReport summarizes a Recover pass.
type RecoverReport struct {
	Profiles int
	Seeded   int // ledger entries restored
	Armed    int // tasks re-armed
	Expired  int // starts already past their cooldown
}

// Recover rebuilds runtime state from persisted LastTimerAt values: the
// ledger is seeded for every stored start and a task is re-armed for every
// pair still on cooldown with notifications on. Usage counters are not
// touched. A failure on one profile never aborts the others.
func (e *Engine) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	if e.isClosed() {
		return rep, ErrClosed
	}
	acts := e.reg.All()

	err := e.profiles.Each(ctx, func(p profile.Profile) error {
		rep.Profiles++
		for _, a := range acts {
			last, ok := p.LastTimerAt[a.ID]
			if !ok || last.IsZero() {
				continue
			}
			key := Key{p.UserID, a.ID}
			pr := e.pair(key)

			name := p.Username
			if name == "" && profile.NotificationsEnabled(p, a.ID) && e.clk.Now().Sub(last) < a.Cooldown {
				name = e.recoverName(ctx, p.UserID)
			}

			pr.mu.Lock()
			now := e.clk.Now()
			if cur, ok := e.ledger.StartedAt(p.UserID, a.ID); !ok || last.After(cur) {
				e.ledger.RecordStart(p.UserID, a.ID, last)
				rep.Seeded++
			}
			elapsed := now.Sub(last)
			if elapsed <= 0 || elapsed >= a.Cooldown {
				pr.mu.Unlock()
				rep.Expired++
				continue
			}
			if pr.task != nil || !profile.NotificationsEnabled(p, a.ID) {
				pr.mu.Unlock()
				continue
			}
			t := e.armLocked(pr, key, Request{UserID: p.UserID, Username: name, ActivityID: a.ID}, a.Cooldown-elapsed, false, now)
			pr.mu.Unlock()

			rep.Armed++
			eventbus.Emit(e.bus, eventbus.TimerRestored, now, map[string]any{
				"user_id":  p.UserID,
				"activity": a.ID,
				"task_id":  t.id.String(),
				"delay":    t.expiresAt.Sub(now).String(),
			})
		}
		return nil
	})

	e.log.Info("timers recovered",
		logx.Int("profiles", rep.Profiles),
		logx.Int("seeded", rep.Seeded),
		logx.Int("armed", rep.Armed),
		logx.Int("expired", rep.Expired),
		logx.Int("ledger", e.ledger.Len()),
	)
	return rep, err
}

func (e *Engine) recoverName(ctx context.Context, userID int64) string {
	if e.dir == nil {
		return Placeholder(userID)
	}
	name, err := e.dir.LookupUsername(ctx, userID)
	if err != nil || name == "" {
		if err != nil {
			e.log.Debug("username lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		}
		return Placeholder(userID)
	}
	return name
}
