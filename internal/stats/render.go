package stats

import (
	"fmt"
	"strings"
	"time"

	"timerbot/internal/activity"
	"timerbot/internal/storage"
)

// Texts below are Telegram Markdown (legacy).

// GlobalReport renders the aggregate of the day plus the running totals.
func GlobalReport(reg *activity.Registry, today Snapshot, totals storage.Totals) string {
	var b strings.Builder
	b.WriteString("📊 *Statistiche Globali del Bot* 📊\n\n")
	b.WriteString("*Utilizzi Oggi:*\n")
	for _, a := range reg.All() {
		if n := today.Counts[a.ID]; n > 0 {
			fmt.Fprintf(&b, "%s %s: %d\n", a.Glyph, a.Title(), n)
		}
	}
	fmt.Fprintf(&b, "👥 Utenti unici oggi: %d\n\n", today.UniqueUsers)

	b.WriteString("*Utilizzi Totali (persistenti):*\n")
	for _, a := range reg.All() {
		n := totals.Activities[a.ID] + today.Counts[a.ID]
		if n > 0 {
			fmt.Fprintf(&b, "%s %s: %d\n", a.Glyph, a.Title(), n)
		}
	}
	fmt.Fprintf(&b, "👥 Utenti registrati: %d", totals.UniqueUsers)
	if !totals.LastReset.IsZero() {
		fmt.Fprintf(&b, "\n🕛 Ultimo reset: %s", totals.LastReset.Format("02/01/2006 15:04"))
	}
	return b.String()
}

// PersonalUsage renders the /utilizzi reply.
func PersonalUsage(reg *activity.Registry, p storage.Profile, username string) string {
	if len(p.Usage) == 0 {
		return fmt.Sprintf("@%s, non hai ancora utilizzato alcun comando tracciato!", username)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Statistiche di utilizzo per @%s* 📊\n\n", username)
	for _, a := range reg.All() {
		u := p.Usage[a.ID]
		total := u.Total
		if total < u.Today {
			total = u.Today
		}
		fmt.Fprintf(&b, "%s %s: %d oggi | %d totale\n", a.Glyph, a.Title(), u.Today, total)
	}
	b.WriteString("\nUsa /siutilizzi per ricevere automaticamente queste statistiche ogni giorno a mezzanotte.")
	return b.String()
}

// DailyDigest renders the personal digest sent to opted-in users.
func DailyDigest(reg *activity.Registry, p storage.Profile, at time.Time) string {
	lines := []string{
		"📊 *Statistiche di utilizzo giornaliere* 📊",
		"📅 *Data*: " + at.Format("02/01/2006"),
	}
	active := false
	for _, a := range reg.All() {
		n := p.Usage[a.ID].Today
		if n > 0 {
			active = true
		}
		lines = append(lines, fmt.Sprintf("%s *%s*: %d utilizzi oggi", a.Glyph, a.Title(), n))
	}
	if !active {
		lines = append(lines, "\n❓ *Nessuna attività registrata oggi*")
	}
	lines = append(lines, "\nPuoi disattivare queste notifiche con /noutilizzi")
	return strings.Join(lines, "\n")
}
