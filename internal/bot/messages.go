package bot

import (
	"fmt"
	"time"

	"timerbot/internal/activity"
	"timerbot/internal/dhms"
	"timerbot/internal/transport/telegram/router"
	"timerbot/pkg/tgui"
)

const (
	parseHTML     = "HTML"
	parseMarkdown = "Markdown"
)

// ReadyText is the notification sent when a cooldown has elapsed.
func ReadyText(a activity.Activity, user string) string {
	if a.ID == "avventura" {
		return fmt.Sprintf("@%s, puoi tornare ad avventurare!\n%s", user, hint(a))
	}
	return fmt.Sprintf("@%s, puoi usare di nuovo %s!\n%s", user, a.Display(), hint(a))
}

// hint is the command that starts the activity again.
func hint(a activity.Activity) string {
	if a.Command != "" {
		return a.Command
	}
	return "/usa " + a.ID
}

// mention links the sender by id; sent with HTML parse mode.
func mention(req *router.Request) string {
	name := ""
	if req.Message != nil {
		name = req.Message.FromName
	}
	if name == "" {
		name = username(req)
	}
	return tgui.Mention(name, req.FromID).String()
}

func startedText(a activity.Activity, who string, armed bool) string {
	var head string
	switch a.ID {
	case "avventura":
		head = who + ", avventura iniziata!"
	case "slot":
		head = who + ", slot iniziata!"
	default:
		head = fmt.Sprintf("%s, %s utilizzato!", who, a.ID)
	}
	if armed {
		head += " Ti avviserò appena pronto."
	}
	return head
}

func cooldownText(a activity.Activity, user string, left time.Duration) string {
	rem := dhms.Format(seconds(left))
	switch a.ID {
	case "avventura":
		return fmt.Sprintf("@%s, sei ancora in avventura! Prossima avventura disponibile tra circa: %s", user, rem)
	case "slot":
		return fmt.Sprintf("@%s, slot in cooldown! Prossima slot disponibile tra: %s", user, rem)
	}
	return fmt.Sprintf("@%s, %s in cooldown! Prossimo %s disponibile tra: %s", user, a.ID, a.ID, rem)
}

func noTimerText(a activity.Activity, user string) string {
	if a.ID == "avventura" {
		return fmt.Sprintf("@%s, non c'è un'avventura attiva da modificare. Inizia prima con `%s`.", user, hint(a))
	}
	return fmt.Sprintf("@%s, non c'è un %s attivo da modificare. Inizia prima con `%s`.", user, a.ID, hint(a))
}

func rangeText(user string, lo, hi int64) string {
	return fmt.Sprintf("@%s, puoi modificare il timer solo con un tempo valido tra %s e %s!", user, dhms.Format(lo), dhms.Format(hi))
}

func modifiedText(a activity.Activity, user string) string {
	return fmt.Sprintf("@%s, timer %s modificato! Ti avviserò appena pronto.", user, a.ID)
}

func badFormatText(user string) string {
	return fmt.Sprintf("@%s, formato ora non valido per la modifica.", user)
}

func toggleText(a activity.Activity, user string, enabled bool) string {
	verb := "disattivato"
	if enabled {
		verb = "riattivato"
	}
	return fmt.Sprintf("@%s, ho %s le notifiche per %s.", user, verb, a.ID)
}

func welcomeText(who string) string {
	return "Ciao " + who + "! 👋\n\n" +
		"Sono un bot che ti aiuta a tenere traccia dei timer per Inventory.\n\n" +
		"Usa /info per vedere tutti i comandi disponibili e /timer per controllare i tuoi timer attivi.\n\n" +
		"Ti avviserò quando i tuoi timer saranno pronti, così potrai usare i comandi al momento giusto! ⏱️"
}

// StartupText is sent to opted-in users after a restart. Markdown.
const StartupText = "🔄 *Bot appena avviato!* 🔄\n\n" +
	"Sono tornato online e pronto ad aiutarti.\n" +
	"I timer attivi prima del riavvio sono stati ripristinati.\n" +
	"Usa /timer per controllare i tuoi timer attuali.\n" +
	"Usa /avvio\\_no per non ricevere più questo messaggio."

// seconds rounds up so "tra 00:00" is never shown while still on cooldown.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// cooldownLabel renders a cooldown for /info ("15 min", "24 ore", "7 giorni").
func cooldownLabel(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d == day:
		return "24 ore"
	case d > day && d%day == 0:
		return fmt.Sprintf("%d giorni", d/day)
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d ore", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d min", d/time.Minute)
	}
	return dhms.Format(seconds(d))
}
