package adapter

import (
	"strings"
	"unicode/utf8"
)

// maxMessageRunes stays under Telegram's 4096 limit with room for entities.
const maxMessageRunes = 4000

// chunkText splits s into messages of at most limit runes. Lines are kept
// whole where possible; a line longer than limit is cut hard. Newlines at
// chunk edges are dropped.
func chunkText(s string, limit int) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		out []string
		cur []rune
	)
	flush := func() {
		if t := strings.Trim(string(cur), "\n"); t != "" {
			out = append(out, t)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(s, "\n") {
		r := []rune(line)
		if len(r) > limit {
			flush()
			for len(r) > limit {
				out = append(out, string(r[:limit]))
				r = r[limit:]
			}
		}
		if len(cur) > 0 && len(cur)+1+len(r) > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}
