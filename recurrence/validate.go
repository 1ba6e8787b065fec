package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
)

// MaxIntervalDays bounds everyNDays.n: ten thousand years. Larger steps
// overflow day arithmetic long before a count is reached.
const MaxIntervalDays = 366 * 10000

// leapYear is used to bound a month/day pair with no year: Feb 29 is allowed.
const leapYear = 2020

// ValidateInstance checks an instance against the data model invariants.
// The result is nil or an *InvalidInputError.
func ValidateInstance(inst Instance) error {
	return invalidFields("instance failed validation", validateInstance("", inst))
}

// ValidateTask checks every instance of a task. An empty task is valid; it
// is simply never complete.
func ValidateTask(task Task) error {
	var errs criterio.FieldErrorsBuilder
	switch task.Kind {
	case KindTask, KindEvent, "":
	default:
		errs = errs.Append("kind", fmt.Errorf("unknown kind %q", task.Kind))
	}
	for i, inst := range task.Instances {
		errs = appendAll(errs, validateInstance(fmt.Sprintf("instances[%d].", i), inst))
	}
	return invalidFields("task failed validation", errs.ToError())
}

func validateInstance(prefix string, inst Instance) error {
	var errs criterio.FieldErrorsBuilder
	add := func(field string, err error) {
		if err != nil {
			errs = errs.Append(prefix+field, err)
		}
	}

	if inst.Recurring {
		pattern, timeStr := inst.Pattern()
		switch inst.Slot() {
		case SlotNone:
			add("datePattern", errors.New("exactly one of datePattern or startDatePattern is required"))
		case SlotDue:
			add("datePattern", validatePattern(pattern))
			_, err := parseTime(timeStr)
			add("dueTime", err)
		case SlotStart:
			add("startDatePattern", validatePattern(pattern))
			_, err := parseTime(timeStr)
			add("startTime", err)
		}
		if inst.Range == nil {
			add("range", errors.New("range is required for recurring instances"))
		} else {
			add("range", validateRange(inst.Range))
		}
		if inst.EndOffsetDays < 0 {
			add("differentEndDatePattern", errors.New("must be a positive number of days"))
		}
		if inst.EndDate.IsPresent() {
			add("differentEndDate", errors.New("only applies to non-recurring instances"))
		}
		add("endTime", validateEndTime(inst.StartTime, inst.EndTime, inst.EndOffsetDays > 0))
		return errs.ToError()
	}

	date, ok := inst.Date.Get()
	switch {
	case !ok:
		add("date", errors.New("date is required for non-recurring instances"))
	case !date.Valid():
		add("date", fmt.Errorf("%s is not a calendar day", date))
	}
	if inst.Range != nil {
		add("range", errors.New("non-recurring instances cannot have a range"))
	}
	_, err := parseTime(inst.DueTime)
	add("dueTime", err)
	_, err = parseTime(inst.StartTime)
	add("startTime", err)

	multiDay := false
	if end, ok := inst.EndDate.Get(); ok {
		multiDay = true
		if !end.Valid() || (date.Valid() && !end.After(date)) {
			add("differentEndDate", fmt.Errorf("%s must be a calendar day after the start date", end))
		}
	}
	add("endTime", validateEndTime(inst.StartTime, inst.EndTime, multiDay))
	return errs.ToError()
}

func validatePattern(p Pattern) error {
	switch p := p.(type) {
	case EveryNDays:
		if p.N <= 0 {
			return fmt.Errorf("everyNDays.n must be a positive integer, got %d", p.N)
		}
		if p.N > MaxIntervalDays {
			return fmt.Errorf("everyNDays.n must be at most %d, got %d", MaxIntervalDays, p.N)
		}
		if year, ok := p.InitialYear.Get(); ok {
			d := calendar.Date{Year: year, Month: p.InitialMonth, Day: p.InitialDay}
			if !d.Valid() {
				return fmt.Errorf("everyNDays initial date %s is not a calendar day", d)
			}
			return nil
		}
		return validateMonthDay("everyNDays.initial", p.InitialMonth, p.InitialDay)
	case Monthly:
		if p.Day < 1 || p.Day > 31 {
			return fmt.Errorf("monthly.day must be 1-31, got %d", p.Day)
		}
		return nil
	case Annually:
		return validateMonthDay("annually.", p.Month, p.Day)
	default:
		return fmt.Errorf("unknown pattern kind %T", p)
	}
}

func validateMonthDay(prefix string, month time.Month, day int) error {
	if month < time.January || month > time.December {
		return fmt.Errorf("%smonth must be 1-12, got %d", prefix, int(month))
	}
	if day < 1 || day > calendar.DaysIn(leapYear, month) {
		return fmt.Errorf("%sday %d does not exist in %s", prefix, day, month)
	}
	return nil
}

func validateRange(r Range) error {
	switch r := r.(type) {
	case DateRange:
		if !r.Start.Valid() {
			return fmt.Errorf("dateRange.start %s is not a calendar day", r.Start)
		}
		if end, ok := r.End.Get(); ok {
			if !end.Valid() {
				return fmt.Errorf("dateRange.end %s is not a calendar day", end)
			}
			if end.Before(r.Start) {
				return fmt.Errorf("dateRange.end %s is before start %s", end, r.Start)
			}
		}
		return nil
	case RecurrenceCount:
		if r.Count <= 0 {
			return fmt.Errorf("recurrenceCount must be a positive integer, got %d", r.Count)
		}
		return nil
	default:
		return fmt.Errorf("unknown range kind %T", r)
	}
}

// validateEndTime requires end > start on single-day events.
func validateEndTime(start, end string, multiDay bool) error {
	endTOD, err := parseTime(end)
	if err != nil {
		return err
	}
	startTOD, err := parseTime(start)
	if err != nil {
		// reported against startTime
		return nil
	}
	e, hasEnd := endTOD.Get()
	s, hasStart := startTOD.Get()
	if hasEnd && hasStart && !multiDay && e.Minutes() <= s.Minutes() {
		return fmt.Errorf("endTime %s must be after startTime %s", e, s)
	}
	return nil
}

// parseTime treats "" as absent.
func parseTime(s string) (mo.Option[calendar.TimeOfDay], error) {
	if s == "" {
		return mo.None[calendar.TimeOfDay](), nil
	}
	tod, err := calendar.ParseTimeOfDay(s)
	if err != nil {
		return mo.None[calendar.TimeOfDay](), err
	}
	return mo.Some(tod), nil
}

func appendAll(b criterio.FieldErrorsBuilder, err error) criterio.FieldErrorsBuilder {
	if err == nil {
		return b
	}
	var fields criterio.FieldErrors
	if errors.As(err, &fields) {
		for _, f := range fields {
			b = b.Append(f.Field, f.Err)
		}
		return b
	}
	return b.Append("", err)
}
