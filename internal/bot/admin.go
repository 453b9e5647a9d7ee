package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"timerbot/internal/stats"
	"timerbot/internal/storage"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
)

// cmdAdminReset handles "/admin_reset <user_id> [activity]". Without an
// activity every timer of the user is reset.
func (b *Bot) cmdAdminReset(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Utilizzo: `/admin_reset [user_id] [comando]`\n"+
			"Comandi disponibili: "+strings.Join(b.reg.IDs(), ", "), parseMarkdown)
	}
	target, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "❌ ID utente non valido. Deve essere un numero intero.", "")
	}

	activityID := ""
	if len(req.Args) > 1 {
		name := strings.ToLower(req.Args[1])
		a, ok := b.reg.Get(name)
		if !ok {
			a, ok = b.reg.Resolve(name)
		}
		if !ok {
			return req.Reply(ctx, fmt.Sprintf("❌ Comando '%s' non valido.", req.Args[1]), "")
		}
		activityID = a.ID
	}

	ids, rerr := b.eng.AdminReset(ctx, target, activityID)
	b.record(ctx, req, target, activityID, ids, rerr)
	if rerr != nil {
		if len(ids) == 0 {
			return req.Reply(ctx, "❌ Errore: "+rerr.Error(), "")
		}
		req.Logger.Warn("admin reset not persisted", logx.Int64("target", target), logx.Err(rerr))
	}

	if activityID == "" {
		return req.Reply(ctx, fmt.Sprintf("✅ Tutti i timer resettati per l'utente %d. I comandi sono ora disponibili.", target), "")
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Timer '%s' resettato per l'utente %d. Il comando è ora disponibile.", activityID, target), "")
}

func (b *Bot) record(ctx context.Context, req *router.Request, target int64, activityID string, ids []string, opErr error) {
	if b.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"activities": ids})
	e := storage.AuditEntry{
		At:            b.clk.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.Username,
		ChatID:        req.Chat.ChatID,
		Action:        "admin_reset",
		Target:        strconv.FormatInt(target, 10),
		MetaJSON:      string(meta),
	}
	if activityID != "" {
		e.Target += "/" + activityID
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := b.audit.AppendAudit(ctx, e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// cmdStats shows today's aggregate and the persisted totals.
func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	totals, err := b.stats.Totals(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, stats.GlobalReport(b.reg, b.stats.Today(), totals), parseMarkdown)
}
