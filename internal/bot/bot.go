// Package bot turns chat commands into cooldown engine calls and renders the
// Italian replies users see.
package bot

import (
	"context"
	"errors"
	"strings"

	"timerbot/internal/activity"
	"timerbot/internal/clock"
	"timerbot/internal/cooldown"
	"timerbot/internal/profile"
	"timerbot/internal/stats"
	"timerbot/internal/storage"
	kit "timerbot/internal/transport"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
)

// Auditor records operator actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps wires the command layer. Engine and Profiles are required.
type Deps struct {
	Engine   *cooldown.Engine
	Profiles *profile.Store
	// Stats enables /stats when set.
	Stats  *stats.Service
	Audit  Auditor
	Clock  clock.Clock
	Logger logx.Logger
}

type Bot struct {
	eng      *cooldown.Engine
	reg      *activity.Registry
	profiles *profile.Store
	stats    *stats.Service
	audit    Auditor
	clk      clock.Clock
	log      logx.Logger
}

func New(d Deps) (*Bot, error) {
	if d.Engine == nil || d.Profiles == nil {
		return nil, errors.New("bot: engine and profiles are required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	return &Bot{
		eng:      d.Engine,
		reg:      d.Engine.Registry(),
		profiles: d.Profiles,
		stats:    d.Stats,
		audit:    d.Audit,
		clk:      d.Clock,
		log:      d.Logger.With(logx.String("comp", "bot")),
	}, nil
}

// Commands returns the command table for the router.
func (b *Bot) Commands() []router.Command {
	var cmds []router.Command
	for _, a := range b.reg.All() {
		id := a.ID
		if name := ownCommand(a); name != "" {
			cmds = append(cmds, router.Command{
				Name:        name,
				Description: "avvia " + a.Display() + " (o modifica il timer)",
				Handle: func(ctx context.Context, req *router.Request) error {
					return b.useActivity(ctx, req, id, req.Args)
				},
			})
		}
		cmds = append(cmds, router.Command{
			Name:   "no" + id,
			Hidden: true,
			Handle: func(ctx context.Context, req *router.Request) error {
				return b.toggle(ctx, req, id)
			},
		})
	}

	cmds = append(cmds,
		router.Command{Name: "usa", Description: "usa un oggetto: /usa slot [mm:ss]", Handle: b.cmdUsa},
		router.Command{Name: "timer", Description: "controlla i tuoi timer", Handle: b.cmdTimer},
		router.Command{Name: "utilizzi", Description: "le tue statistiche di utilizzo", Handle: b.cmdUsage},
		router.Command{Name: "siutilizzi", Description: "resoconto giornaliero degli utilizzi", Handle: b.cmdDigestOn},
		router.Command{Name: "noutilizzi", Hidden: true, Handle: b.cmdDigestOff},
		router.Command{Name: "notifiche_qui", Description: "ricevi le notifiche in questa chat", Handle: b.cmdNotifyHere},
		router.Command{Name: "notifiche_privato", Description: "ricevi le notifiche in privato", Handle: b.cmdNotifyPrivate},
		router.Command{Name: "avvio_si", Description: "avvisami quando il bot si riavvia", Handle: b.cmdStartupOn},
		router.Command{Name: "avvio_no", Hidden: true, Handle: b.cmdStartupOff},
		router.Command{Name: "impostazioni", Description: "le tue impostazioni", Handle: b.cmdSettings},
		router.Command{Name: "start", Description: "registrati per le notifiche", Handle: b.cmdStart},
		router.Command{Name: "info", Aliases: []string{"help"}, Description: "elenco dei comandi", Handle: b.cmdInfo},
		router.Command{Name: "admin_reset", Access: router.AccessAdminOnly, Handle: b.cmdAdminReset},
	)
	if b.stats != nil {
		cmds = append(cmds, router.Command{Name: "stats", Access: router.AccessAdminOnly, Handle: b.cmdStats})
	}
	return cmds
}

// ownCommand returns the slash command an activity is started with, or ""
// when it is only reachable through /usa.
func ownCommand(a activity.Activity) string {
	c := strings.TrimSpace(a.Command)
	if !strings.HasPrefix(c, "/") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(c, "/"))
	if len(fields) != 1 || fields[0] == "usa" {
		return ""
	}
	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// username is the sender's @username or the placeholder.
func username(req *router.Request) string {
	if req.Username != "" {
		return req.Username
	}
	return cooldown.Placeholder(req.FromID)
}

func origin(req *router.Request) *kit.MessageRef {
	if req.Message == nil {
		return nil
	}
	ref := req.Message.Ref()
	return &ref
}
