package bot

import (
	"context"
	"fmt"
	"strings"

	"timerbot/internal/profile"
	"timerbot/internal/stats"
	"timerbot/internal/transport/telegram/router"
	"timerbot/pkg/tgui"
)

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	if _, err := b.profiles.Touch(ctx, req.FromID, req.Username); err != nil {
		return err
	}
	return req.Reply(ctx, welcomeText(mention(req)), parseHTML)
}

func (b *Bot) cmdUsage(ctx context.Context, req *router.Request) error {
	p, err := b.profiles.Get(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, stats.PersonalUsage(b.reg, p, tgui.EscMD(username(req))), parseMarkdown)
}

func (b *Bot) cmdDigestOn(ctx context.Context, req *router.Request) error {
	if _, err := b.profiles.SetDailyDigest(ctx, req.FromID, true); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, ho attivato le notifiche giornaliere delle statistiche di utilizzo. "+
		"Riceverai un resoconto ogni giorno a mezzanotte.", username(req)), "")
}

func (b *Bot) cmdDigestOff(ctx context.Context, req *router.Request) error {
	if _, err := b.profiles.SetDailyDigest(ctx, req.FromID, false); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, ho disattivato le notifiche giornaliere delle statistiche di utilizzo.", username(req)), "")
}

func (b *Bot) cmdNotifyHere(ctx context.Context, req *router.Request) error {
	chat := req.Chat.ChatID
	if _, err := b.profiles.SetPreferredChat(ctx, req.FromID, &chat); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, da ora riceverai le notifiche dei timer in questa chat.", username(req)), "")
}

func (b *Bot) cmdNotifyPrivate(ctx context.Context, req *router.Request) error {
	chat := req.FromID
	if _, err := b.profiles.SetPreferredChat(ctx, req.FromID, &chat); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, da ora riceverai le notifiche dei timer in privato. "+
		"Assicurati di aver avviato il bot con /start.", username(req)), "")
}

func (b *Bot) cmdStartupOn(ctx context.Context, req *router.Request) error {
	if _, err := b.profiles.SetStartupNotice(ctx, req.FromID, true); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, ho attivato le notifiche all'avvio del bot.", username(req)), "")
}

func (b *Bot) cmdStartupOff(ctx context.Context, req *router.Request) error {
	if _, err := b.profiles.SetStartupNotice(ctx, req.FromID, false); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("@%s, ho disattivato le notifiche all'avvio del bot.", username(req)), "")
}

func onOff(v bool) string {
	if v {
		return "✅ Attive"
	}
	return "❌ Disattivate"
}

// cmdSettings shows the stored preferences.
func (b *Bot) cmdSettings(ctx context.Context, req *router.Request) error {
	p, err := b.profiles.Get(ctx, req.FromID)
	if err != nil {
		return err
	}
	lines := []string{
		fmt.Sprintf("⚙️ *Impostazioni di @%s* ⚙️", tgui.EscMD(username(req))),
		"",
		"🔔 *Notifiche Comandi:*",
	}
	for _, a := range b.reg.All() {
		lines = append(lines, fmt.Sprintf("%s *%s*: %s", a.Glyph, a.Title(), onOff(profile.NotificationsEnabled(p, a.ID))))
	}

	where := "risposta al comando"
	switch {
	case p.PreferredChat == nil:
	case *p.PreferredChat == req.FromID:
		where = "in privato"
	default:
		where = fmt.Sprintf("chat %d", *p.PreferredChat)
	}
	lines = append(lines,
		"",
		"📍 *Consegna notifiche:* "+where,
		"📊 *Statistiche giornaliere:* "+onOff(p.DailyDigest),
		"🚀 *Notifiche all'avvio del bot:* "+onOff(p.StartupNotice),
	)
	if !p.RegisteredAt.IsZero() {
		lines = append(lines, "", "📆 *Registrato dal:* "+p.RegisteredAt.Format("02/01/2006"))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"), parseMarkdown)
}

func (b *Bot) cmdInfo(ctx context.Context, req *router.Request) error {
	var sb strings.Builder
	sb.WriteString("✨ *Timer Bot* ✨\n\n")
	sb.WriteString("⚙️ *Funzionamento Generale*\n")
	sb.WriteString("• I comandi avviano un timer standard\n")
	sb.WriteString("• Per modificare un timer attivo, aggiungi il tempo:\n")
	sb.WriteString("  • Formato breve: `/comando mm:ss` (minuti:secondi)\n")
	sb.WriteString("  • Formato esteso: `/comando hh:mm:ss` (ore:minuti:secondi)\n")
	sb.WriteString("  • Per settimanali: `/comando dd:hh:mm:ss` (giorni:ore:min:sec)\n")
	sb.WriteString("• Disattiva le notifiche con `/nocomando`\n\n")

	sb.WriteString("⏱️ *Comandi Disponibili*\n\n")
	for _, a := range b.reg.All() {
		fmt.Fprintf(&sb, "%s *%s* (cooldown: %s)\n", a.Glyph, a.Title(), cooldownLabel(a.Cooldown))
		fmt.Fprintf(&sb, "`%s` - Avvia\n", hint(a))
		fmt.Fprintf(&sb, "`/no%s` - Toggle notifiche\n\n", a.ID)
	}

	sb.WriteString("📊 *Statistiche*\n")
	sb.WriteString("`/utilizzi` - Mostra quante volte hai usato ogni comando\n")
	sb.WriteString("`/siutilizzi` - Attiva notifiche giornaliere statistiche\n")
	sb.WriteString("`/noutilizzi` - Disattiva notifiche giornaliere statistiche\n\n")

	sb.WriteString("⚙️ *Preferenze*\n")
	sb.WriteString("`/impostazioni` - Mostra le tue impostazioni\n")
	sb.WriteString("`/notifiche_qui` - Ricevi le notifiche in questa chat\n")
	sb.WriteString("`/notifiche_privato` - Ricevi le notifiche in privato\n")
	sb.WriteString("`/avvio_si`, `/avvio_no` - Notifica al riavvio del bot\n\n")

	sb.WriteString("🔍 *Utilità*\n")
	sb.WriteString("`/start` - Avvia il bot e registrati per le notifiche\n")
	sb.WriteString("`/timer` - Controlla i tuoi timer attivi\n")
	sb.WriteString("`/info` - Mostra questo messaggio")
	return req.Reply(ctx, sb.String(), parseMarkdown)
}
