// Package dhms converts between seconds and the colon-separated clock
// strings users type ("mm:ss", "hh:mm:ss", "dd:hh:mm:ss").
//
// Format never emits the four-group form: durations of a day or more are
// rendered as "Ng hh:mm:ss", which Parse does not accept.
package dhms

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformed reports input that is not 2..4 colon-separated integers.
	ErrMalformed = errors.New("malformed duration")
	// ErrOutOfRange reports a well-formed group outside its allowed range.
	ErrOutOfRange = errors.New("duration field out of range")
)

// RangeError names the offending group. errors.Is(err, ErrOutOfRange) holds.
type RangeError struct {
	Field string
	Value int64
	Min   int64
	Max   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [%d,%d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrOutOfRange }

const (
	minute = 60
	hour   = 60 * minute
	day    = 24 * hour
)

// field describes one group, indexed from the right.
var fields = [...]struct {
	name string
	unit int64
	max  int64 // -1 = unbounded
}{
	{"seconds", 1, 59},
	{"minutes", minute, 59},
	{"hours", hour, 23},
	{"days", day, -1},
}

// Parse returns the number of seconds described by text.
func Parse(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformed)
	}
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > len(fields) {
		return 0, fmt.Errorf("%w: want 2 to 4 groups, got %d", ErrMalformed, len(parts))
	}

	var total int64
	for i := 0; i < len(parts); i++ {
		tok := parts[len(parts)-1-i]
		if !allDigits(tok) {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, tok)
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrMalformed, tok, err)
		}
		f := fields[i]
		limit := f.max
		if limit < 0 {
			limit = (math.MaxInt64 - total) / f.unit
		}
		if v > limit {
			return 0, &RangeError{Field: f.name, Value: v, Min: 0, Max: limit}
		}
		total += v * f.unit
	}
	return total, nil
}

// Format renders seconds as "mm:ss", "hh:mm:ss" or "Ng hh:mm:ss".
// Negative input is treated as zero.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := seconds / day
	h := seconds % day / hour
	m := seconds % hour / minute
	s := seconds % minute

	switch {
	case d > 0:
		return fmt.Sprintf("%dg %02d:%02d:%02d", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	default:
		return fmt.Sprintf("%02d:%02d", m, s)
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
