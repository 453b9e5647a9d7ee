package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DurationField parses a config duration. Go syntax ("90s", "1h30m") and
// bare integers, read as seconds, are accepted. Empty means zero.
func DurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// DurationOr is DurationField with def substituted for zero.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
