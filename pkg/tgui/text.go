package tgui

import "unicode/utf8"

// MaxNameRunes bounds display names embedded in messages.
const MaxNameRunes = 64

// TruncRunes returns s truncated to at most n runes, with "…" appended when
// something was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			return s[:cut] + "…"
		}
	}
	return s
}
