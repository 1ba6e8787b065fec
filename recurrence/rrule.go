package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrNotRepresentable is returned by RRule when RFC 5545 cannot express the
// clamping behaviour of a pattern. BYMONTHDAY=31 skips short months instead
// of clamping, so monthly days past 28 and annual Feb 29 have no exact rule.
var ErrNotRepresentable = errors.New("pattern has no exact RRULE equivalent")

// RRuleSpec is a rendered recurrence rule.
type RRuleSpec struct {
	DTStart time.Time
	// Rule is the RRULE value without the "RRULE:" prefix.
	Rule string
}

// String renders DTSTART and RRULE lines.
func (s RRuleSpec) String() string {
	return "DTSTART:" + s.DTStart.UTC().Format("20060102T150405Z") + "\nRRULE:" + s.Rule
}

// RRule renders a recurring instance as an RFC 5545 rule anchored on its
// first occurrence. A date range with no end yields an unbounded rule.
func (e *Expander) RRule(inst Instance) (RRuleSpec, error) {
	plan, err := e.plan(inst, Bounds{}, true)
	if err != nil {
		return RRuleSpec{}, err
	}

	loc := e.config.Location
	dtstart := plan.first.StartOfDay(loc)
	if tod, ok := plan.timeOfDay.Get(); ok {
		dtstart = plan.first.At(tod, loc)
	}

	opt := rrule.ROption{Dtstart: dtstart}
	pattern, _ := inst.Pattern()
	switch p := pattern.(type) {
	case EveryNDays:
		opt.Freq = rrule.DAILY
		opt.Interval = p.N
	case Monthly:
		if p.Day > 28 {
			return RRuleSpec{}, ErrNotRepresentable
		}
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{p.Day}
	case Annually:
		if p.Month == time.February && p.Day == 29 {
			return RRuleSpec{}, ErrNotRepresentable
		}
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(p.Month)}
		opt.Bymonthday = []int{p.Day}
	default:
		return RRuleSpec{}, invalidf("unknown pattern kind %T", pattern)
	}

	if count, ok := plan.count.Get(); ok {
		opt.Count = count
	}
	if end, ok := plan.end.Get(); ok {
		opt.Until = end.AddDays(1).StartOfDay(loc).Add(-time.Second)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return RRuleSpec{}, invalidf("build rrule: %v", err)
	}
	return RRuleSpec{DTStart: dtstart, Rule: r.OrigOptions.RRuleString()}, nil
}
