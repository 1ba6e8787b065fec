package recurrence

import (
	"time"

	"github.com/warp/recurrence-engine/calendar"
)

// Span is an occurrence with its end. All-day spans end at the start of the
// day after their last day.
type Span struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Spans returns one span per occurrence of inst. Non-recurring instances
// yield their single span and ignore bounds.
func (e *Expander) Spans(inst Instance, bounds Bounds) ([]Span, error) {
	loc := e.config.Location

	if !inst.Recurring {
		if err := ValidateInstance(inst); err != nil {
			return nil, err
		}
		date := inst.Date.MustGet()
		endDate := inst.EndDate.OrElse(date)
		return []Span{e.span(date, endDate, inst.TimeField(), inst.EndTime, loc)}, nil
	}

	occurrences, err := e.Expand(inst, bounds)
	if err != nil {
		return nil, err
	}
	_, startTime := inst.Pattern()
	spans := make([]Span, len(occurrences))
	for i, occ := range occurrences {
		day := calendar.DateIn(occ, loc)
		spans[i] = e.span(day, day.AddDays(inst.EndOffsetDays), startTime, inst.EndTime, loc)
	}
	return spans, nil
}

// span assumes the time strings were validated.
func (e *Expander) span(startDay, endDay calendar.Date, startTime, endTime string, loc *time.Location) Span {
	start, _ := parseTime(startTime)
	end, _ := parseTime(endTime)

	s, timed := start.Get()
	if !timed {
		return Span{
			Start:  startDay.StartOfDay(loc),
			End:    endDay.AddDays(1).StartOfDay(loc),
			AllDay: true,
		}
	}

	sp := Span{Start: startDay.At(s, loc), End: startDay.At(s, loc)}
	if t, ok := end.Get(); ok {
		sp.End = endDay.At(t, loc)
	} else if endDay.After(startDay) {
		// No end time: the span runs through its last day.
		sp.End = endDay.AddDays(1).StartOfDay(loc)
	}
	return sp
}
