package recurrence

import (
	"sort"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/calendar"
)

// =============================================================================
// PROGRESS - How much of a task is done
// =============================================================================

// InstanceProgress counts matched occurrences for one instance.
type InstanceProgress struct {
	Index     int
	Expected  int
	Completed int
}

// Progress aggregates InstanceProgress over a task. Ratio is
// Completed/Expected rounded to four places, zero when nothing is expected.
type Progress struct {
	Expected  int
	Completed int
	Ratio     decimal.Decimal
	Complete  bool
	Instances []InstanceProgress
}

// Progress counts, per instance, how many expected occurrences have a
// same-day completion. Unlike IsComplete it visits every instance.
func (ev *Evaluator) Progress(task Task) (Progress, error) {
	var p Progress
	if err := ValidateTask(task); err != nil {
		return p, err
	}

	loc := ev.expander.Location()
	for i, inst := range task.Instances {
		expected, err := ev.ExpectedOccurrences(inst)
		if err != nil {
			return Progress{}, err
		}
		days := ev.completionDays(inst.Completion)
		ip := InstanceProgress{Index: i, Expected: len(expected)}
		for _, occ := range expected {
			if _, ok := days[calendar.DateIn(occ, loc)]; ok {
				ip.Completed++
			}
		}
		p.Expected += ip.Expected
		p.Completed += ip.Completed
		p.Instances = append(p.Instances, ip)
	}

	p.Ratio = decimal.Zero
	if p.Expected > 0 {
		p.Ratio = decimal.NewFromInt(int64(p.Completed)).
			Div(decimal.NewFromInt(int64(p.Expected))).
			Round(4)
	}
	p.Complete = len(task.Instances) > 0 && p.Completed == p.Expected
	return p, nil
}

// =============================================================================
// OVERDUE - Past occurrences with no completion
// =============================================================================

// Occurrence is one expected occurrence of a task instance.
type Occurrence struct {
	InstanceIndex int
	At            time.Time
}

// Overdue lists occurrences on days strictly before asOf's day that have no
// completion, ordered by time. Open-ended date ranges are cut off at asOf,
// so they can be checked without an end date.
func (ev *Evaluator) Overdue(task Task, asOf time.Time) ([]Occurrence, error) {
	if err := ValidateTask(task); err != nil {
		return nil, err
	}

	loc := ev.expander.Location()
	today := calendar.DateIn(asOf, loc)
	yesterday := today.AddDays(-1)

	var out []Occurrence
	for i, inst := range task.Instances {
		var expected []time.Time
		var err error

		if r, ok := inst.Range.(DateRange); ok && inst.Recurring {
			end := r.End.OrElse(yesterday)
			if end.After(yesterday) {
				end = yesterday
			}
			if end.Before(r.Start) {
				continue
			}
			expected, err = ev.expander.Expand(inst, Bounds{
				Start: mo.Some(r.Start.StartOfDay(loc)),
				End:   mo.Some(end.StartOfDay(loc)),
			})
		} else {
			expected, err = ev.ExpectedOccurrences(inst)
		}
		if err != nil {
			return nil, err
		}

		days := ev.completionDays(inst.Completion)
		for _, occ := range expected {
			day := calendar.DateIn(occ, loc)
			if !day.Before(today) {
				break
			}
			if _, ok := days[day]; !ok {
				out = append(out, Occurrence{InstanceIndex: i, At: occ})
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].At.Before(out[b].At) })
	return out, nil
}
