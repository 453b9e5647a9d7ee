package activity

import (
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Defaults returns the built-in activity table.
func Defaults() []Activity {
	return []Activity{
		{ID: "avventura", Cooldown: 15 * time.Minute, Glyph: "🗡", Label: "avventura", Command: "/avventura", Order: 10},
		{ID: "slot", Cooldown: 5 * time.Minute, Glyph: "🎰", Label: "la slot", Aliases: []string{"slot", "sl", "slo"}, SilentWhenMuted: true, Order: 20},
		{ID: "borsellino", Cooldown: 30 * time.Minute, Glyph: "💰", Aliases: []string{"borsellino", "borse", "bors", "sel", "sell", "sellino"}, SilentWhenMuted: true, Order: 30},
		{ID: "nanoc", Cooldown: day, Glyph: "🧪", Aliases: []string{"nanoc"}, SilentWhenMuted: true, Order: 40},
		{ID: "nanor", Cooldown: day, Glyph: "🔄", Aliases: []string{"nanor"}, SilentWhenMuted: true, Order: 50},
		{ID: "gica", Cooldown: day, Glyph: "🧙‍♂️", Aliases: []string{"gica"}, SilentWhenMuted: true, Order: 60},
		{ID: "pozzo", Cooldown: day, Glyph: "🚰", Aliases: []string{"pozzo"}, SilentWhenMuted: true, Order: 70},
		{ID: "sonda", Cooldown: 7 * day, Glyph: "🔍", Aliases: []string{"sonda"}, SilentWhenMuted: true, Order: 80},
		{ID: "forno", Cooldown: 7 * day, Glyph: "🔥", Aliases: []string{"forno"}, SilentWhenMuted: true, Order: 90},
	}
}

// Override adjusts or adds an activity. Zero fields keep the default.
type Override struct {
	ID              string
	Cooldown        time.Duration
	Glyph           string
	Label           string
	Aliases         []string
	Command         string
	SilentWhenMuted *bool
	Disabled        bool
}

// Load merges overrides into Defaults and builds the registry. Unknown IDs
// become new activities appended after the defaults; they need a cooldown.
func Load(overrides []Override) (*Registry, error) {
	defs := Defaults()
	idx := make(map[string]int, len(defs))
	for i, d := range defs {
		idx[d.ID] = i
	}
	drop := map[string]bool{}

	next := len(defs)*10 + 10
	for _, o := range overrides {
		id := strings.ToLower(strings.TrimSpace(o.ID))
		if id == "" {
			return nil, fmt.Errorf("activity override: empty id")
		}
		if o.Disabled {
			drop[id] = true
			continue
		}
		i, ok := idx[id]
		if !ok {
			if o.Cooldown <= 0 {
				return nil, fmt.Errorf("activity %s: cooldown required for new activity", id)
			}
			defs = append(defs, Activity{ID: id, Aliases: []string{id}, SilentWhenMuted: true, Order: next})
			next += 10
			i = len(defs) - 1
			idx[id] = i
		}
		d := &defs[i]
		if o.Cooldown > 0 {
			d.Cooldown = o.Cooldown
		}
		if o.Glyph != "" {
			d.Glyph = o.Glyph
		}
		if o.Label != "" {
			d.Label = o.Label
		}
		if len(o.Aliases) > 0 {
			d.Aliases = o.Aliases
		}
		if o.Command != "" {
			d.Command = o.Command
		}
		if o.SilentWhenMuted != nil {
			d.SilentWhenMuted = *o.SilentWhenMuted
		}
	}

	out := defs[:0]
	for _, d := range defs {
		if !drop[d.ID] {
			out = append(out, d)
		}
	}
	return New(out...)
}
