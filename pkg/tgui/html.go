package tgui

import (
	"fmt"
	"html"
)

// H is HTML that is safe to send with ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func B(s string) H { return H("<b>" + html.EscapeString(s) + "</b>") }

// Mention links name to a Telegram user id. Long names are shortened.
func Mention(name string, userID int64) H {
	return H(fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(TruncRunes(name, MaxNameRunes))))
}
