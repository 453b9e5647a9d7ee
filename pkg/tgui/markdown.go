package tgui

import "strings"

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscMD escapes legacy Markdown control characters in user text.
func EscMD(s string) string { return mdEscaper.Replace(s) }

// BoldMD wraps escaped s in legacy Markdown bold.
func BoldMD(s string) string { return "*" + EscMD(s) + "*" }
