/*
Package calendar provides the local-date arithmetic the recurrence engine runs on.

PURPOSE:
  A recurrence pattern talks about calendar days, not instants. Date is a
  year/month/day value with no location attached; it only becomes an instant
  when placed into a *time.Location with At or StartOfDay.

OVERFLOW POLICY:
  Month and year arithmetic CLAMPS instead of normalizing:
    Jan 31 + 1 month  = Feb 28 (Feb 29 in leap years)
    Feb 29 + 1 year   = Feb 28
    WithDay(31) in Apr = Apr 30
  time.AddDate would roll Jan 31 + 1 month into March, which silently skips
  a month of a "monthly on the 31st" series.

SEE ALSO:
  - recurrence/expand.go: Step rules built on these helpers
*/
package calendar

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Location-free calendar day
// =============================================================================

// DateLayout is the wire format of a Date.
const DateLayout = "2006-01-02"

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a date, normalizing out-of-range values the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day t falls on in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// DateIn returns the calendar day t falls on in loc.
func DateIn(t time.Time, loc *time.Location) Date {
	return DateOf(t.In(loc))
}

// ParseDate parses YYYY-MM-DD, rejecting days that do not exist.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Valid reports whether the date names a real calendar day.
func (d Date) Valid() bool {
	if d.Month < time.January || d.Month > time.December {
		return false
	}
	return d.Day >= 1 && d.Day <= DaysIn(d.Year, d.Month)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Comparison
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool        { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool         { return d.Compare(other) > 0 }
func (d Date) Equal(other Date) bool         { return d.Compare(other) == 0 }
func (d Date) BeforeOrEqual(other Date) bool { return d.Compare(other) <= 0 }
func (d Date) AfterOrEqual(other Date) bool  { return d.Compare(other) >= 0 }

// Arithmetic
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

// AddMonths moves n calendar months, clamping the day to the target month.
func (d Date) AddMonths(n int) Date {
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return Date{Year: first.Year(), Month: first.Month(), Day: 1}.WithDay(d.Day)
}

// AddYears moves n calendar years, clamping Feb 29 to Feb 28 when needed.
func (d Date) AddYears(n int) Date {
	return Date{Year: d.Year + n, Month: d.Month, Day: 1}.WithDay(d.Day)
}

// WithDay sets the day of month, clamped to [1, last day of month].
func (d Date) WithDay(day int) Date {
	last := DaysIn(d.Year, d.Month)
	switch {
	case day > last:
		day = last
	case day < 1:
		day = 1
	}
	return Date{Year: d.Year, Month: d.Month, Day: day}
}

// WithMonthDay sets month and day in the same year, clamping the day.
func (d Date) WithMonthDay(month time.Month, day int) Date {
	return Date{Year: d.Year, Month: month, Day: 1}.WithDay(day)
}

// DaysUntil returns the signed number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	// Unix seconds, not Sub: a Duration saturates after ~292 years.
	return int((other.utc().Unix() - d.utc().Unix()) / 86400)
}

// Instants
func (d Date) StartOfDay(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At places the date at the given wall-clock time in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, 0, 0, loc)
}

func (d Date) utc() time.Time { return d.StartOfDay(time.UTC) }

// =============================================================================
// DAY EQUALITY
// =============================================================================

// SameDay reports whether a and b fall on the same calendar day in loc,
// irrespective of time of day.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DateIn(a, loc) == DateIn(b, loc)
}

// FromMillis converts a Unix millisecond timestamp into an instant in loc.
func FromMillis(ms int64, loc *time.Location) time.Time {
	return time.UnixMilli(ms).In(loc)
}

// =============================================================================
// CALENDAR UTILITIES
// =============================================================================

func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
