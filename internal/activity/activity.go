// Package activity holds the static table of cooldown-gated activities.
//
// The registry is built once at startup (defaults merged with configuration)
// and is read-only afterwards, so it is safe for concurrent use.
package activity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Activity is one cooldown-gated user action.
type Activity struct {
	ID       string
	Cooldown time.Duration
	Glyph    string

	// Label is the noun used in user-facing messages ("la slot").
	Label string
	// Aliases are the names accepted after "/usa". Empty for activities with
	// their own slash command.
	Aliases []string
	// Command is the hint appended to the "ready" notification.
	Command string
	// SilentWhenMuted suppresses the trigger acknowledgment when the user has
	// notifications off for this activity.
	SilentWhenMuted bool
	// Order controls listing order in /timer and digests.
	Order int
}

// CooldownSeconds returns the cooldown as whole seconds.
func (a Activity) CooldownSeconds() int64 { return int64(a.Cooldown / time.Second) }

// Display returns the label, falling back to the ID.
func (a Activity) Display() string {
	if a.Label != "" {
		return a.Label
	}
	return a.ID
}

// Title is the capitalized ID used in lists ("Slot").
func (a Activity) Title() string {
	if a.ID == "" {
		return ""
	}
	return strings.ToUpper(a.ID[:1]) + a.ID[1:]
}

var ErrUnknown = errors.New("unknown activity")

// Registry is an immutable lookup table of activities.
type Registry struct {
	list    []Activity
	byID    map[string]int
	byAlias map[string]int
}

// New validates defs and builds a registry. IDs and aliases are matched
// case-insensitively.
func New(defs ...Activity) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]int, len(defs)),
		byAlias: make(map[string]int, len(defs)*2),
	}
	for _, d := range defs {
		d.ID = strings.ToLower(strings.TrimSpace(d.ID))
		if d.ID == "" {
			return nil, errors.New("activity: empty id")
		}
		if d.Cooldown < time.Second {
			return nil, fmt.Errorf("activity %s: cooldown must be >= 1s", d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("activity %s: duplicate id", d.ID)
		}
		if d.Command == "" {
			d.Command = "/usa " + d.ID
		}
		d.Aliases = append([]string(nil), d.Aliases...)
		r.list = append(r.list, d)
	}
	sort.SliceStable(r.list, func(i, j int) bool { return r.list[i].Order < r.list[j].Order })

	for i, a := range r.list {
		r.byID[a.ID] = i
	}
	for i, a := range r.list {
		for _, al := range a.Aliases {
			al = strings.ToLower(strings.TrimSpace(al))
			if al == "" {
				continue
			}
			if j, ok := r.byAlias[al]; ok && j != i {
				return nil, fmt.Errorf("activity %s: alias %q already used by %s", a.ID, al, r.list[j].ID)
			}
			r.byAlias[al] = i
		}
	}
	return r, nil
}

// Get returns the activity with the given id.
func (r *Registry) Get(id string) (Activity, bool) {
	i, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Activity{}, false
	}
	return r.list[i], true
}

// MustGet is Get for ids that are known to exist.
func (r *Registry) MustGet(id string) Activity {
	a, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("activity: %q not registered", id))
	}
	return a
}

// Resolve maps a "/usa" argument to an activity.
func (r *Registry) Resolve(alias string) (Activity, bool) {
	i, ok := r.byAlias[strings.ToLower(strings.TrimSpace(alias))]
	if !ok {
		return Activity{}, false
	}
	return r.list[i], true
}

// All returns the activities in display order. The slice is a copy.
func (r *Registry) All() []Activity {
	out := make([]Activity, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.list))
	for _, a := range r.list {
		out = append(out, a.ID)
	}
	return out
}

func (r *Registry) Len() int { return len(r.list) }
