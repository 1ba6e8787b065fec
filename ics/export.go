/*
Package ics renders tasks and events as iCalendar (RFC 5545) documents.

PURPOSE:
  Lets any calendar client subscribe to a task's schedule. Each occurrence
  becomes one VEVENT. A series with an open date range and no export end
  bound is emitted as a single VEVENT carrying an RRULE instead, when the
  pattern has an exact rule.

MAPPING:
  - No time of day:       all-day DTSTART;VALUE=DATE, DTEND the day after
                          the last day
  - Due or start time:    DTSTART in UTC
  - End time / end day:   DTEND; omitted for tasks with no end
  - UID:                  <task id>-<instance>-<occurrence>@<domain>
  - SUMMARY/DESCRIPTION:  task name and description

SEE ALSO:
  - recurrence/spans.go: Occurrence start/end computation
  - recurrence/rrule.go: RRULE rendering
*/
package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/recurrence"
)

const (
	ProductID = "-//warp//recurrence-engine//EN"
	UIDDomain = "recurrence-engine"
)

// Exporter turns tasks into calendars. Safe for concurrent use.
type Exporter struct {
	expander *recurrence.Expander
}

// NewExporter creates an exporter. A nil expander uses the defaults.
func NewExporter(expander *recurrence.Expander) *Exporter {
	if expander == nil {
		expander = recurrence.NewExpander()
	}
	return &Exporter{expander: expander}
}

// Calendar builds the calendar for one task. Bounds limit recurring
// instances the same way they limit Expand.
func (x *Exporter) Calendar(task recurrence.Task, bounds recurrence.Bounds) (*ical.Calendar, error) {
	if err := recurrence.ValidateTask(task); err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	stamp := x.expander.Now().UTC()
	for i, inst := range task.Instances {
		if x.unbounded(inst, bounds) {
			if err := x.addSeries(cal, task, i, inst, stamp); err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			continue
		}

		spans, err := x.expander.Spans(inst, bounds)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		for n, sp := range spans {
			event := cal.AddEvent(uid(task.ID, i, n))
			describe(event, task, stamp)
			setSpan(event, sp)
		}
	}
	return cal, nil
}

// Export serializes the calendar of a task.
func (x *Exporter) Export(task recurrence.Task, bounds recurrence.Bounds) (string, error) {
	cal, err := x.Calendar(task, bounds)
	if err != nil {
		return "", err
	}
	return cal.Serialize(), nil
}

// unbounded reports a recurring open date range with nothing to stop it.
func (x *Exporter) unbounded(inst recurrence.Instance, bounds recurrence.Bounds) bool {
	if !inst.Recurring || bounds.End.IsPresent() {
		return false
	}
	r, ok := inst.Range.(recurrence.DateRange)
	return ok && !r.End.IsPresent()
}

func (x *Exporter) addSeries(cal *ical.Calendar, task recurrence.Task, index int, inst recurrence.Instance, stamp time.Time) error {
	spec, err := x.expander.RRule(inst)
	if errors.Is(err, recurrence.ErrNotRepresentable) {
		return fmt.Errorf("open-ended series needs an end bound: %w", err)
	}
	if err != nil {
		return err
	}

	// the first occurrence alone gives the span shape
	first, err := x.expander.Spans(inst, recurrence.Bounds{End: mo.Some(spec.DTStart)})
	if err != nil {
		return err
	}
	if len(first) == 0 {
		return nil
	}

	event := cal.AddEvent(uid(task.ID, index, 0))
	describe(event, task, stamp)
	setSpan(event, first[0])
	event.AddProperty(ical.ComponentPropertyRrule, spec.Rule)
	return nil
}

func describe(event *ical.VEvent, task recurrence.Task, stamp time.Time) {
	event.SetDtStampTime(stamp)
	event.SetSummary(task.Name)
	if task.Description != "" {
		event.SetDescription(task.Description)
	}
	if task.Kind == recurrence.KindTask {
		event.SetProperty(ical.ComponentPropertyCategories, "TASK")
	}
}

func setSpan(event *ical.VEvent, sp recurrence.Span) {
	if sp.AllDay {
		event.SetAllDayStartAt(sp.Start)
		event.SetAllDayEndAt(sp.End)
		return
	}
	event.SetStartAt(sp.Start)
	if sp.End.After(sp.Start) {
		event.SetEndAt(sp.End)
	}
}

func uid(taskID string, instance, occurrence int) string {
	return fmt.Sprintf("%s-%d-%d@%s", taskID, instance, occurrence, UIDDomain)
}
