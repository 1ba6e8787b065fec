/*
expand.go - Pattern expansion

PURPOSE:
  Turns a recurring instance into the ascending list of occurrence instants
  implied by its pattern and range.

START DATE (first applicable rule wins):
  1. Bounds.Start
  2. DateRange.Start
  3. EveryNDays initial date (year defaults to the clock's current year)
  4. The clock's current date

END DATE:
  1. Bounds.End
  2. DateRange.End
  3. RecurrenceCount: no end date, bounded by count only
  4. Otherwise InvalidInput

FIRST OCCURRENCE:
  Monthly and Annually begin at the first matching day on or after the start
  date. EveryNDays begins on the resolved start date itself; its initial
  date only matters when neither a bound nor a date range supplies one.

STEP RULES:
  EveryNDays  +N days
  Monthly     +1 month, day := Day     (clamped to the month length)
  Annually    +1 year,  month/day := Month/Day (Feb 29 -> Feb 28 off leap years)

  The day is re-derived from the pattern on every step, so a clamped month
  never drags later occurrences: Jan 31, Feb 29, Mar 31, Apr 30, ...

SEE ALSO:
  - calendar/time.go: Clamping arithmetic
  - evaluate.go: Consumer of Expand
*/
package recurrence

import (
	"time"

	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
)

// Bounds optionally overrides the start/end taken from the instance.
type Bounds struct {
	Start mo.Option[time.Time]
	End   mo.Option[time.Time]
}

// BoundsFromMillis builds Bounds from optional Unix millisecond values.
func BoundsFromMillis(start, end mo.Option[int64]) Bounds {
	var b Bounds
	if ms, ok := start.Get(); ok {
		b.Start = mo.Some(time.UnixMilli(ms))
	}
	if ms, ok := end.Get(); ok {
		b.End = mo.Some(time.UnixMilli(ms))
	}
	return b
}

// Expander is the PatternExpander. It is safe for concurrent use.
type Expander struct {
	config EngineConfig
}

// NewExpander creates an expander with DefaultEngineConfig.
func NewExpander() *Expander {
	return NewExpanderWithConfig(DefaultEngineConfig)
}

// NewExpanderWithConfig creates an expander with a custom configuration.
func NewExpanderWithConfig(config EngineConfig) *Expander {
	return &Expander{config: config.normalize()}
}

// Location returns the calendar the expander operates in.
func (e *Expander) Location() *time.Location { return e.config.Location }

// Now reads the configured clock.
func (e *Expander) Now() time.Time { return e.config.Clock() }

// Expand returns the ascending occurrence instants of a recurring instance.
func (e *Expander) Expand(inst Instance, bounds Bounds) ([]time.Time, error) {
	plan, err := e.plan(inst, bounds, false)
	if err != nil {
		return nil, err
	}

	loc := e.config.Location
	var out []time.Time
	current := plan.first
	for {
		if end, ok := plan.end.Get(); ok && current.After(end) {
			break
		}
		if count, ok := plan.count.Get(); ok && len(out) >= count {
			break
		}
		if len(out) >= e.config.MaxOccurrences {
			return nil, invalidf("expansion exceeds %d occurrences", e.config.MaxOccurrences)
		}

		if tod, ok := plan.timeOfDay.Get(); ok {
			out = append(out, current.At(tod, loc))
		} else {
			out = append(out, current.StartOfDay(loc))
		}
		next := plan.step(current)
		if !next.After(current) {
			return nil, invalidf("pattern does not advance past %s", current)
		}
		current = next
	}

	if count, ok := plan.count.Get(); ok && len(out) != count {
		return nil, invalidf("pattern produced %d occurrences, recurrenceCount is %d", len(out), count)
	}
	return out, nil
}

// ExpandMillis is Expand over Unix millisecond timestamps.
func (e *Expander) ExpandMillis(inst Instance, start, end mo.Option[int64]) ([]int64, error) {
	occurrences, err := e.Expand(inst, BoundsFromMillis(start, end))
	if err != nil {
		return nil, err
	}
	return Millis(occurrences), nil
}

// Millis converts instants to Unix millisecond timestamps.
func Millis(ts []time.Time) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.UnixMilli()
	}
	return out
}

// =============================================================================
// EXPANSION PLAN
// =============================================================================

type expansionPlan struct {
	first     calendar.Date
	end       mo.Option[calendar.Date]
	count     mo.Option[int]
	timeOfDay mo.Option[calendar.TimeOfDay]
	step      func(calendar.Date) calendar.Date
}

// plan resolves start, end and step. openEnded permits a series with no end
// date and no count; only RRule rendering asks for that.
func (e *Expander) plan(inst Instance, bounds Bounds, openEnded bool) (expansionPlan, error) {
	var plan expansionPlan

	if !inst.Recurring {
		return plan, invalidf("expansion requires a recurring instance")
	}
	if err := ValidateInstance(inst); err != nil {
		return plan, err
	}

	pattern, timeStr := inst.Pattern()
	tod, err := parseTime(timeStr)
	if err != nil {
		return plan, invalidf("%v", err)
	}
	plan.timeOfDay = tod

	loc := e.config.Location
	today := e.config.Clock.Today(loc)

	// Start date
	var start calendar.Date
	dateRange, isDateRange := inst.Range.(DateRange)
	switch {
	case bounds.Start.IsPresent():
		start = calendar.DateIn(bounds.Start.MustGet(), loc)
	case isDateRange:
		start = dateRange.Start
	default:
		if p, ok := pattern.(EveryNDays); ok {
			start = p.anchor(today.Year)
		} else {
			start = today
		}
	}

	// End date or count
	switch {
	case bounds.End.IsPresent():
		plan.end = mo.Some(calendar.DateIn(bounds.End.MustGet(), loc))
	case isDateRange && dateRange.End.IsPresent():
		plan.end = dateRange.End
	case inst.Range.Kind() == RangeRecurrenceCount, openEnded:
	default:
		return plan, invalidf("cannot determine an end date for a %s range without an end", inst.Range.Kind())
	}
	if rc, ok := inst.Range.(RecurrenceCount); ok {
		plan.count = mo.Some(rc.Count)
	}

	switch p := pattern.(type) {
	case EveryNDays:
		plan.first = start
		plan.step = func(d calendar.Date) calendar.Date { return d.AddDays(p.N) }
	case Monthly:
		plan.first = p.first(start)
		plan.step = func(d calendar.Date) calendar.Date { return d.AddMonths(1).WithDay(p.Day) }
	case Annually:
		plan.first = p.first(start)
		plan.step = func(d calendar.Date) calendar.Date { return d.AddYears(1).WithMonthDay(p.Month, p.Day) }
	default:
		return plan, invalidf("unknown pattern kind %T", pattern)
	}
	return plan, nil
}

// anchor is the initial date of the series, in fallbackYear when the
// pattern carries no year.
func (p EveryNDays) anchor(fallbackYear int) calendar.Date {
	year := p.InitialYear.OrElse(fallbackYear)
	return calendar.Date{Year: year, Month: p.InitialMonth, Day: 1}.WithDay(p.InitialDay)
}

func (p Monthly) first(start calendar.Date) calendar.Date {
	candidate := start.WithDay(p.Day)
	if candidate.Before(start) {
		candidate = start.AddMonths(1).WithDay(p.Day)
	}
	return candidate
}

func (p Annually) first(start calendar.Date) calendar.Date {
	candidate := start.WithMonthDay(p.Month, p.Day)
	if candidate.Before(start) {
		candidate = start.AddYears(1).WithMonthDay(p.Month, p.Day)
	}
	return candidate
}
