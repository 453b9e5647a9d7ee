package cooldown

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStillOnCooldown = errors.New("still on cooldown")
	ErrNoActiveTimer   = errors.New("no active timer")
	ErrOutOfRange      = errors.New("duration out of range")
	ErrUnknownActivity = errors.New("unknown activity")
	ErrClosed          = errors.New("cooldown engine closed")
)

// CooldownError is returned by Trigger when the activity is not eligible yet.
type CooldownError struct {
	Activity  string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: still on cooldown for %s", e.Activity, e.Remaining)
}

func (e *CooldownError) Is(target error) bool { return target == ErrStillOnCooldown }

// RangeError is returned by Modify for a custom duration outside [Min, Max]
// seconds.
type RangeError struct {
	Min int64
	Max int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("duration must be between %ds and %ds", e.Min, e.Max)
}

func (e *RangeError) Is(target error) bool { return target == ErrOutOfRange }
