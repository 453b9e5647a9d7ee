package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"timerbot/internal/cooldown"
	"timerbot/internal/dhms"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
	"timerbot/pkg/tgui"
)

// cmdUsa handles "/usa <oggetto> [tempo]". Items the registry does not know
// belong to the game bot and are ignored.
func (b *Bot) cmdUsa(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return nil
	}
	a, ok := b.reg.Resolve(req.Args[0])
	if !ok {
		req.Logger.Debug("untracked item", logx.String("item", req.Args[0]))
		return nil
	}
	return b.useActivity(ctx, req, a.ID, req.Args[1:])
}

// useActivity triggers the activity, or shortens the armed timer when a
// duration follows.
func (b *Bot) useActivity(ctx context.Context, req *router.Request, activityID string, args []string) error {
	a, ok := b.reg.Get(activityID)
	if !ok {
		return fmt.Errorf("%w: %s", cooldown.ErrUnknownActivity, activityID)
	}
	user := username(req)
	creq := cooldown.Request{
		UserID:     req.FromID,
		Username:   req.Username,
		ActivityID: a.ID,
		Origin:     origin(req),
	}

	if len(args) > 0 {
		secs, err := dhms.Parse(args[0])
		if err != nil {
			return req.Reply(ctx, badFormatText(user), "")
		}
		_, err = b.eng.Modify(ctx, creq, secs)
		var rerr *cooldown.RangeError
		switch {
		case errors.Is(err, cooldown.ErrNoActiveTimer):
			return req.Reply(ctx, noTimerText(a, user), "")
		case errors.As(err, &rerr):
			return req.Reply(ctx, rangeText(user, rerr.Min, rerr.Max), "")
		case err != nil:
			return err
		}
		return req.Reply(ctx, modifiedText(a, user), "")
	}

	out, err := b.eng.Trigger(ctx, creq)
	var cerr *cooldown.CooldownError
	switch {
	case errors.As(err, &cerr):
		return req.Reply(ctx, cooldownText(a, user, cerr.Remaining), "")
	case err != nil:
		return err
	}
	if out.Silent {
		return nil
	}
	return req.Reply(ctx, startedText(a, mention(req), out.Armed), parseHTML)
}

func (b *Bot) toggle(ctx context.Context, req *router.Request, activityID string) error {
	a, ok := b.reg.Get(activityID)
	if !ok {
		return fmt.Errorf("%w: %s", cooldown.ErrUnknownActivity, activityID)
	}
	enabled, err := b.eng.ToggleNotifications(ctx, req.FromID, a.ID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, toggleText(a, username(req), enabled), "")
}

// cmdTimer lists every activity with its remaining cooldown.
func (b *Bot) cmdTimer(ctx context.Context, req *router.Request) error {
	now := b.clk.Now()
	lines := []string{fmt.Sprintf("⏱️ *Timer per @%s* ⏱️", tgui.EscMD(username(req)))}
	for _, st := range b.eng.Timers(req.FromID) {
		left := st.Remaining
		if st.Armed && st.Custom {
			left = st.ExpiresAt.Sub(now)
		}
		status := "✅ Disponibile"
		if left > 0 {
			status = "⏳ " + dhms.Format(seconds(left))
			if st.Armed {
				status += " (notifica attiva)"
			}
		}
		lines = append(lines, fmt.Sprintf("%s *%s*: %s", st.Activity.Glyph, st.Activity.Title(), status))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"), parseMarkdown)
}
