/*
Package recurrence expands recurring task/event instances into concrete
occurrences and decides whether a task has been fully completed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Pattern:  How an instance repeats (every N days, monthly, annually)
  - Range:    What stops the repetition (date interval or occurrence count)
  - Instance: One due date or one recurring series, plus its completion log
  - Task:     A named collection of instances

SUM TYPES:
  Pattern and Range are sealed interfaces. Only the variants in this file
  implement them, and every consumer dispatches with a type switch whose
  default branch reports InvalidInput (a nil interface lands there too).

IMMUTABILITY:
  Nothing in this package mutates an Instance or Task passed to it.

SEE ALSO:
  - expand.go:   Expander (pattern -> occurrences)
  - evaluate.go: Evaluator (occurrences + completion log -> complete?)
  - factory/:    JSON wire format for these types
*/
package recurrence

import (
	"time"

	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
)

// =============================================================================
// PATTERN - Step rule between occurrences
// =============================================================================

type PatternKind string

const (
	PatternEveryNDays PatternKind = "everyNDays"
	PatternMonthly    PatternKind = "monthly"
	PatternAnnually   PatternKind = "annually"
)

// Pattern is implemented by EveryNDays, Monthly and Annually only.
type Pattern interface {
	Kind() PatternKind
	isPattern()
}

// EveryNDays repeats every N calendar days from an initial month/day.
// Without InitialYear the series starts in the current year.
type EveryNDays struct {
	N            int
	InitialYear  mo.Option[int]
	InitialMonth time.Month
	InitialDay   int
}

// Monthly repeats on the same day of every month.
type Monthly struct {
	Day int
}

// Annually repeats on the same month and day every year.
type Annually struct {
	Month time.Month
	Day   int
}

func (EveryNDays) Kind() PatternKind { return PatternEveryNDays }
func (Monthly) Kind() PatternKind    { return PatternMonthly }
func (Annually) Kind() PatternKind   { return PatternAnnually }

func (EveryNDays) isPattern() {}
func (Monthly) isPattern()    {}
func (Annually) isPattern()   {}

// =============================================================================
// RANGE - Expansion bound
// =============================================================================

type RangeKind string

const (
	RangeDateRange       RangeKind = "dateRange"
	RangeRecurrenceCount RangeKind = "recurrenceCount"
)

// Range is implemented by DateRange and RecurrenceCount only.
type Range interface {
	Kind() RangeKind
	isRange()
}

// DateRange is an inclusive interval of calendar days. End is optional in
// the data model, but expansion without another bound requires it.
type DateRange struct {
	Start calendar.Date
	End   mo.Option[calendar.Date]
}

// RecurrenceCount bounds a series by number of occurrences.
type RecurrenceCount struct {
	Count int
}

func (DateRange) Kind() RangeKind       { return RangeDateRange }
func (RecurrenceCount) Kind() RangeKind { return RangeRecurrenceCount }

func (DateRange) isRange()       {}
func (RecurrenceCount) isRange() {}

// =============================================================================
// INSTANCE - One due date or one recurring series
// =============================================================================

// Instance mirrors the upstream data model. A task instance uses
// DatePattern/DueTime; an event instance uses StartDatePattern/StartTime.
// Time fields are kept as the raw "HH:MM" strings so malformed input is
// reported by validation rather than lost at decode time.
type Instance struct {
	Recurring bool

	Date    mo.Option[calendar.Date]
	DueTime string

	DatePattern      Pattern
	StartDatePattern Pattern
	StartTime        string

	Range Range

	// Completion holds Unix millisecond timestamps. Order is irrelevant.
	Completion []int64

	// Event extras. EndDate applies to non-recurring events spanning days,
	// EndOffsetDays to recurring ones.
	EndTime       string
	EndDate       mo.Option[calendar.Date]
	EndOffsetDays int
}

// PatternSlot identifies which pattern/time pair an instance uses.
type PatternSlot int

const (
	SlotNone PatternSlot = iota
	SlotDue
	SlotStart
)

// Slot reports which pattern field is populated. SlotNone when neither or
// both are set; validation rejects those.
func (inst Instance) Slot() PatternSlot {
	switch {
	case inst.DatePattern != nil && inst.StartDatePattern == nil:
		return SlotDue
	case inst.StartDatePattern != nil && inst.DatePattern == nil:
		return SlotStart
	default:
		return SlotNone
	}
}

// Pattern returns the populated pattern and its time-of-day string.
func (inst Instance) Pattern() (Pattern, string) {
	switch inst.Slot() {
	case SlotDue:
		return inst.DatePattern, inst.DueTime
	case SlotStart:
		return inst.StartDatePattern, inst.StartTime
	default:
		return nil, ""
	}
}

// TimeField returns the time string that applies to a non-recurring instance.
func (inst Instance) TimeField() string {
	if inst.DueTime != "" {
		return inst.DueTime
	}
	return inst.StartTime
}

// =============================================================================
// TASK - A named set of instances
// =============================================================================

type ItemKind string

const (
	KindTask  ItemKind = "task"
	KindEvent ItemKind = "event"
)

type Task struct {
	ID          string
	Kind        ItemKind
	Name        string
	Description string
	Instances   []Instance
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Instance returns the instance at index or ErrInstanceNotFound.
func (t Task) Instance(index int) (Instance, error) {
	if index < 0 || index >= len(t.Instances) {
		return Instance{}, ErrInstanceNotFound
	}
	return t.Instances[index], nil
}
