/*
evaluate.go - Completion evaluation

PURPOSE:
  Decides whether every expected occurrence of a task has a matching entry in
  its completion log. A completion matches an occurrence when both fall on
  the same local calendar day; the time of day is ignored.

RULES:
  - A task with no instances is NOT complete.
  - Non-recurring: one target at Date (+ DueTime). Complete iff some
    completion lies on that day.
  - Recurring dateRange: expanded over [Start, End]. End is required.
  - Recurring recurrenceCount: count-bounded expansion; the produced length
    must equal the count.
  - The task is the AND over instances and stops at the first incomplete one.

  Every instance is validated before evaluation starts, so a malformed
  instance is reported even when an earlier one is already incomplete.

SEE ALSO:
  - expand.go: Occurrence generation
  - progress.go: Counting variants (Progress, Overdue)
*/
package recurrence

import (
	"time"

	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
)

// Evaluator is the CompletionEvaluator. It is safe for concurrent use.
type Evaluator struct {
	expander *Expander
}

// NewEvaluator creates an evaluator that expands with the given expander.
func NewEvaluator(expander *Expander) *Evaluator {
	if expander == nil {
		expander = NewExpander()
	}
	return &Evaluator{expander: expander}
}

// Expander returns the expander used for recurring instances.
func (ev *Evaluator) Expander() *Expander { return ev.expander }

// IsComplete reports whether every instance of the task is complete.
func (ev *Evaluator) IsComplete(task Task) (bool, error) {
	if err := ValidateTask(task); err != nil {
		return false, err
	}
	if len(task.Instances) == 0 {
		return false, nil
	}

	for _, inst := range task.Instances {
		done, err := ev.InstanceComplete(inst)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

// InstanceComplete reports whether every expected occurrence of one
// instance has a completion on the same calendar day.
func (ev *Evaluator) InstanceComplete(inst Instance) (bool, error) {
	expected, err := ev.ExpectedOccurrences(inst)
	if err != nil {
		return false, err
	}
	days := ev.completionDays(inst.Completion)
	for _, occ := range expected {
		if _, ok := days[calendar.DateIn(occ, ev.expander.Location())]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// ExpectedOccurrences returns what the completion log is measured against:
// the single target of a non-recurring instance, or the full expansion of a
// recurring one.
func (ev *Evaluator) ExpectedOccurrences(inst Instance) ([]time.Time, error) {
	loc := ev.expander.Location()

	if !inst.Recurring {
		if err := ValidateInstance(inst); err != nil {
			return nil, err
		}
		date := inst.Date.MustGet()
		tod, _ := parseTime(inst.TimeField())
		if t, ok := tod.Get(); ok {
			return []time.Time{date.At(t, loc)}, nil
		}
		return []time.Time{date.StartOfDay(loc)}, nil
	}

	switch r := inst.Range.(type) {
	case DateRange:
		end, ok := r.End.Get()
		if !ok {
			return nil, invalidf("dateRange.end is required to evaluate completion")
		}
		return ev.expander.Expand(inst, Bounds{
			Start: mo.Some(r.Start.StartOfDay(loc)),
			End:   mo.Some(end.StartOfDay(loc)),
		})
	case RecurrenceCount:
		occurrences, err := ev.expander.Expand(inst, Bounds{})
		if err != nil {
			return nil, err
		}
		if len(occurrences) != r.Count {
			return nil, invalidf("pattern produced %d occurrences, recurrenceCount is %d", len(occurrences), r.Count)
		}
		return occurrences, nil
	case nil:
		return nil, invalidf("range is required for recurring instances")
	default:
		return nil, invalidf("unknown range kind %T", r)
	}
}

func (ev *Evaluator) completionDays(completion []int64) map[calendar.Date]struct{} {
	loc := ev.expander.Location()
	days := make(map[calendar.Date]struct{}, len(completion))
	for _, ms := range completion {
		days[calendar.DateIn(time.UnixMilli(ms), loc)] = struct{}{}
	}
	return days
}
