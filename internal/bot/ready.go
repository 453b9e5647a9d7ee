package bot

import (
	"context"

	"timerbot/internal/cooldown"
	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	logx "timerbot/pkg/logx"
)

// ReadyNotifier delivers "cooldown over" messages through the notifier,
// honouring the user's preferred chat.
type ReadyNotifier struct {
	svc      *notifier.Service
	profiles *profile.Store
	log      logx.Logger
}

func NewReadyNotifier(svc *notifier.Service, profiles *profile.Store, log logx.Logger) *ReadyNotifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ReadyNotifier{svc: svc, profiles: profiles, log: log.With(logx.String("comp", "bot.ready"))}
}

func (n *ReadyNotifier) NotifyReady(ctx context.Context, r cooldown.Ready) error {
	d := notifier.Delivery{
		UserID: r.UserID,
		Origin: r.Origin,
		Text:   ReadyText(r.Activity, r.Username),
	}
	if n.profiles != nil {
		p, ok, err := n.profiles.Lookup(ctx, r.UserID)
		switch {
		case err != nil:
			n.log.Debug("profile lookup failed", logx.Int64("user_id", r.UserID), logx.Err(err))
		case ok:
			d.PreferredChat = p.PreferredChat
		}
	}
	return n.svc.Deliver(ctx, d)
}

var _ cooldown.Notifier = (*ReadyNotifier)(nil)
