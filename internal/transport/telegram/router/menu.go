package router

import (
	"sort"
	"strings"

	kit "timerbot/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	menuMaxCommands = 100
	menuMaxName     = 32
	menuMaxDesc     = 256
)

// menuName maps a command name onto Telegram's [a-z0-9_] alphabet. Runs of
// separators collapse to one underscore; names that end up empty or start
// with a digit are rejected.
func menuName(name string) string {
	out := make([]byte, 0, len(name))
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && len(out) > 0 {
				out = append(out, '_')
			}
			out = append(out, byte(r))
			sep = false
		case r == '_', r == '-', r == ' ', r == '\t':
			sep = true
		}
	}
	if len(out) > menuMaxName {
		out = out[:menuMaxName]
	}
	s := strings.TrimRight(string(out), "_")
	if s == "" || s[0] <= '9' {
		return ""
	}
	return s
}

// menuFor returns the menu entries visible to every user, sorted by name.
func menuFor(cmds []Command) []kit.BotCommand {
	byName := make(map[string]string, len(cmds))
	for _, c := range cmds {
		if c.Hidden || c.Access != AccessEveryone {
			continue
		}
		name := menuName(c.Name)
		if _, dup := byName[name]; name == "" || dup {
			continue
		}
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		if r := []rune(desc); len(r) > menuMaxDesc {
			desc = string(r[:menuMaxDesc])
		}
		byName[name] = desc
	}

	out := make([]kit.BotCommand, 0, len(byName))
	for name, desc := range byName {
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > menuMaxCommands {
		out = out[:menuMaxCommands]
	}
	return out
}
