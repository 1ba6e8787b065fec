package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// TIME OF DAY - Wall-clock HH:MM
// =============================================================================

var timeOfDayPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses strict 24-hour "HH:MM" with HH in 00-23 and MM in 00-59.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if !timeOfDayPattern.MatchString(s) {
		return TimeOfDay{}, fmt.Errorf("time %q must be in HH:MM format", s)
	}
	hour, _ := strconv.Atoi(s[:2])
	minute, _ := strconv.Atoi(s[3:])
	if hour > 23 {
		return TimeOfDay{}, fmt.Errorf("time %q: hour must be 00-23", s)
	}
	if minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time %q: minute must be 00-59", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// =============================================================================
// CLOCK - Source of "now"
// =============================================================================

// Clock returns the current instant. Default start dates depend on it.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Today returns the clock's current calendar day in loc.
func (c Clock) Today(loc *time.Location) Date {
	if c == nil {
		c = SystemClock
	}
	return DateIn(c(), loc)
}
