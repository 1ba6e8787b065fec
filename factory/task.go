/*
Package factory provides JSON to Go task conversion.

PURPOSE:
  Converts the JSON task/event documents exchanged with clients into
  recurrence.Task values and back. Clients keep their data in this shape,
  so the factory is the only place that knows about discriminant strings,
  "YYYY-MM-DD" dates and the two spellings of a monthly pattern.

JSON SCHEMA:
  {
    "kind": "task",
    "id": "8f0b...",
    "name": "Water plants",
    "description": "optional",
    "task": {
      "instances": [
        {"recurring": false, "date": "2024-05-01", "dueTime": "14:00", "completion": [1714550400000]},
        {
          "recurring": true,
          "datePattern": {"kind": "monthly", "monthly": 15},
          "range": {"kind": "dateRange", "dateRange": {"start": "2024-01-01", "end": "2024-03-31"}},
          "completion": []
        }
      ]
    }
  }

  Events carry "event" instead of "task". Their instances use startDate,
  startDatePattern, startTime, endTime, differentEndDate (non-recurring)
  and differentEndDatePattern (recurring, days after the start).

PATTERNS:
  {"kind": "everyNDays", "everyNDays": {"initialDay": 1, "initialMonth": 1, "initialYear": 2024, "n": 7}}
  {"kind": "monthly", "monthly": 15}            also accepted: "monthly": {"day": 15}
  {"kind": "annually", "annually": {"month": 7, "day": 4}}

  "everyNthDay" is accepted as an alias of "everyNDays".

ERRORS:
  Malformed JSON, unknown discriminants and unparseable dates are all
  reported as *recurrence.InvalidInputError with the offending field path.
  Semantic checks (pattern bounds, time strings) are left to
  recurrence.ValidateTask, which ParseTask runs last.

USAGE:
  f := factory.NewTaskFactory()
  task, err := f.ParseTask(body)
  doc := f.ToJSON(task)

SEE ALSO:
  - recurrence/types.go: Domain types
  - store/sqlite/sqlite.go: Stores instances in this format
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/recurrence"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TaskJSON is the JSON representation of a task or event.
type TaskJSON struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Task        *ItemJSON `json:"task,omitempty"`
	Event       *ItemJSON `json:"event,omitempty"`
	CreatedAt   *int64    `json:"createdAt,omitempty"` // Unix ms
	UpdatedAt   *int64    `json:"updatedAt,omitempty"` // Unix ms
}

// ItemJSON wraps the instance list of a task or event.
type ItemJSON struct {
	Instances []InstanceJSON `json:"instances"`
}

// InstanceJSON is one due date or one recurring series.
type InstanceJSON struct {
	Recurring bool `json:"recurring"`

	Date      string `json:"date,omitempty"`      // task, non-recurring
	StartDate string `json:"startDate,omitempty"` // event, non-recurring

	DatePattern      *PatternJSON `json:"datePattern,omitempty"`
	StartDatePattern *PatternJSON `json:"startDatePattern,omitempty"`
	Range            *RangeJSON   `json:"range,omitempty"`

	DueTime   string `json:"dueTime,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`

	DifferentEndDate        string `json:"differentEndDate,omitempty"`
	DifferentEndDatePattern int    `json:"differentEndDatePattern,omitempty"`

	Completion []int64 `json:"completion,omitempty"`
}

// PatternJSON is a tagged union keyed by Kind.
type PatternJSON struct {
	Kind       string          `json:"kind"`
	EveryNDays *EveryNDaysJSON `json:"everyNDays,omitempty"`
	Monthly    *MonthlyJSON    `json:"monthly,omitempty"`
	Annually   *AnnuallyJSON   `json:"annually,omitempty"`
}

type EveryNDaysJSON struct {
	InitialDay   int  `json:"initialDay"`
	InitialMonth int  `json:"initialMonth"`
	InitialYear  *int `json:"initialYear,omitempty"`
	N            int  `json:"n"`
}

// MonthlyJSON decodes from a bare day number or {"day": n} and always
// encodes as the bare number.
type MonthlyJSON struct {
	Day int
}

func (m *MonthlyJSON) UnmarshalJSON(data []byte) error {
	var day int
	if err := json.Unmarshal(data, &day); err == nil {
		m.Day = day
		return nil
	}
	var obj struct {
		Day int `json:"day"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("monthly must be a day number or {\"day\": n}: %w", err)
	}
	m.Day = obj.Day
	return nil
}

func (m MonthlyJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Day)
}

type AnnuallyJSON struct {
	Month int `json:"month"`
	Day   int `json:"day"`
}

// RangeJSON is a tagged union keyed by Kind.
type RangeJSON struct {
	Kind            string         `json:"kind"`
	DateRange       *DateRangeJSON `json:"dateRange,omitempty"`
	RecurrenceCount int            `json:"recurrenceCount,omitempty"`
}

type DateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// =============================================================================
// TASK FACTORY
// =============================================================================

// TaskFactory converts JSON documents to domain tasks and back.
type TaskFactory struct{}

// NewTaskFactory creates a new task factory.
func NewTaskFactory() *TaskFactory {
	return &TaskFactory{}
}

// ParseTask decodes and validates a task document.
func (f *TaskFactory) ParseTask(data []byte) (recurrence.Task, error) {
	var tj TaskJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return recurrence.Task{}, &recurrence.InvalidInputError{Message: "failed to parse task JSON: " + err.Error()}
	}
	task, err := f.FromJSON(tj)
	if err != nil {
		return recurrence.Task{}, err
	}
	if err := recurrence.ValidateTask(task); err != nil {
		return recurrence.Task{}, err
	}
	return task, nil
}

// ParseInstance decodes a single instance. Kind selects task or event
// field names for the non-recurring date. The result is not validated.
func (f *TaskFactory) ParseInstance(data []byte, kind recurrence.ItemKind) (recurrence.Instance, error) {
	var ij InstanceJSON
	if err := json.Unmarshal(data, &ij); err != nil {
		return recurrence.Instance{}, &recurrence.InvalidInputError{Message: "failed to parse instance JSON: " + err.Error()}
	}
	return f.InstanceFromJSON(ij, kind)
}

// FromJSON converts the wire form to a Task. It reports structural problems
// only; call recurrence.ValidateTask for the rest.
func (f *TaskFactory) FromJSON(tj TaskJSON) (recurrence.Task, error) {
	task := recurrence.Task{
		ID:          tj.ID,
		Kind:        recurrence.ItemKind(tj.Kind),
		Name:        tj.Name,
		Description: tj.Description,
	}
	if tj.CreatedAt != nil {
		task.CreatedAt = time.UnixMilli(*tj.CreatedAt).UTC()
	}
	if tj.UpdatedAt != nil {
		task.UpdatedAt = time.UnixMilli(*tj.UpdatedAt).UTC()
	}

	var item *ItemJSON
	var errs criterio.FieldErrorsBuilder
	switch task.Kind {
	case recurrence.KindTask:
		item = tj.Task
	case recurrence.KindEvent:
		item = tj.Event
	default:
		errs = errs.Append("kind", fmt.Errorf("unknown kind %q, want task or event", tj.Kind))
	}

	if item != nil {
		task.Instances = make([]recurrence.Instance, len(item.Instances))
		for i, ij := range item.Instances {
			inst, err := f.instanceFromJSON(ij, task.Kind)
			task.Instances[i] = inst
			errs = appendPrefixed(errs, fmt.Sprintf("instances[%d].", i), err)
		}
	}

	if err := errs.ToError(); err != nil {
		return recurrence.Task{}, invalid("task JSON is malformed", err)
	}
	return task, nil
}

// InstanceFromJSON converts one wire instance. Kind decides whether the
// non-recurring date is read from date or startDate; startDate wins when
// both are present on an event.
func (f *TaskFactory) InstanceFromJSON(ij InstanceJSON, kind recurrence.ItemKind) (recurrence.Instance, error) {
	inst, err := f.instanceFromJSON(ij, kind)
	if err != nil {
		return recurrence.Instance{}, invalid("instance JSON is malformed", err)
	}
	return inst, nil
}

func (f *TaskFactory) instanceFromJSON(ij InstanceJSON, kind recurrence.ItemKind) (recurrence.Instance, error) {
	var errs criterio.FieldErrorsBuilder

	inst := recurrence.Instance{
		Recurring:     ij.Recurring,
		DueTime:       ij.DueTime,
		StartTime:     ij.StartTime,
		EndTime:       ij.EndTime,
		EndOffsetDays: ij.DifferentEndDatePattern,
	}
	if ij.Completion != nil {
		inst.Completion = append([]int64(nil), ij.Completion...)
	}

	dateField, raw := "date", ij.Date
	if kind == recurrence.KindEvent && ij.StartDate != "" {
		dateField, raw = "startDate", ij.StartDate
	}
	if raw != "" {
		d, err := calendar.ParseDate(raw)
		if err != nil {
			errs = errs.Append(dateField, err)
		} else {
			inst.Date = mo.Some(d)
		}
	}
	if ij.DifferentEndDate != "" {
		d, err := calendar.ParseDate(ij.DifferentEndDate)
		if err != nil {
			errs = errs.Append("differentEndDate", err)
		} else {
			inst.EndDate = mo.Some(d)
		}
	}

	if ij.DatePattern != nil {
		p, err := patternFromJSON(*ij.DatePattern)
		if err != nil {
			errs = errs.Append("datePattern", err)
		}
		inst.DatePattern = p
	}
	if ij.StartDatePattern != nil {
		p, err := patternFromJSON(*ij.StartDatePattern)
		if err != nil {
			errs = errs.Append("startDatePattern", err)
		}
		inst.StartDatePattern = p
	}
	if ij.Range != nil {
		r, err := rangeFromJSON(*ij.Range)
		if err != nil {
			errs = errs.Append("range", err)
		}
		inst.Range = r
	}

	return inst, errs.ToError()
}

func patternFromJSON(pj PatternJSON) (recurrence.Pattern, error) {
	switch pj.Kind {
	case string(recurrence.PatternEveryNDays), "everyNthDay":
		if pj.EveryNDays == nil {
			return nil, errors.New("everyNDays body is missing")
		}
		p := recurrence.EveryNDays{
			N:            pj.EveryNDays.N,
			InitialMonth: time.Month(pj.EveryNDays.InitialMonth),
			InitialDay:   pj.EveryNDays.InitialDay,
		}
		if y := pj.EveryNDays.InitialYear; y != nil {
			p.InitialYear = mo.Some(*y)
		}
		return p, nil
	case string(recurrence.PatternMonthly):
		if pj.Monthly == nil {
			return nil, errors.New("monthly body is missing")
		}
		return recurrence.Monthly{Day: pj.Monthly.Day}, nil
	case string(recurrence.PatternAnnually):
		if pj.Annually == nil {
			return nil, errors.New("annually body is missing")
		}
		return recurrence.Annually{Month: time.Month(pj.Annually.Month), Day: pj.Annually.Day}, nil
	default:
		return nil, fmt.Errorf("unknown pattern kind %q", pj.Kind)
	}
}

func rangeFromJSON(rj RangeJSON) (recurrence.Range, error) {
	switch rj.Kind {
	case string(recurrence.RangeDateRange):
		if rj.DateRange == nil {
			return nil, errors.New("dateRange body is missing")
		}
		start, err := calendar.ParseDate(rj.DateRange.Start)
		if err != nil {
			return nil, fmt.Errorf("dateRange.start: %w", err)
		}
		r := recurrence.DateRange{Start: start}
		if rj.DateRange.End != "" {
			end, err := calendar.ParseDate(rj.DateRange.End)
			if err != nil {
				return nil, fmt.Errorf("dateRange.end: %w", err)
			}
			r.End = mo.Some(end)
		}
		return r, nil
	case string(recurrence.RangeRecurrenceCount):
		return recurrence.RecurrenceCount{Count: rj.RecurrenceCount}, nil
	default:
		return nil, fmt.Errorf("unknown range kind %q", rj.Kind)
	}
}

// =============================================================================
// ENCODING
// =============================================================================

// ToJSON converts a Task to its wire form.
func (f *TaskFactory) ToJSON(task recurrence.Task) TaskJSON {
	tj := TaskJSON{
		Kind:        string(task.Kind),
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
	}
	if !task.CreatedAt.IsZero() {
		ms := task.CreatedAt.UnixMilli()
		tj.CreatedAt = &ms
	}
	if !task.UpdatedAt.IsZero() {
		ms := task.UpdatedAt.UnixMilli()
		tj.UpdatedAt = &ms
	}

	item := &ItemJSON{Instances: make([]InstanceJSON, len(task.Instances))}
	for i, inst := range task.Instances {
		item.Instances[i] = f.InstanceToJSON(inst, task.Kind)
	}
	if task.Kind == recurrence.KindEvent {
		tj.Event = item
	} else {
		tj.Task = item
	}
	return tj
}

// MarshalTask encodes a Task as JSON bytes.
func (f *TaskFactory) MarshalTask(task recurrence.Task) ([]byte, error) {
	return json.Marshal(f.ToJSON(task))
}

// InstanceToJSON converts one instance. Completion is always present,
// possibly empty, to match what clients send.
func (f *TaskFactory) InstanceToJSON(inst recurrence.Instance, kind recurrence.ItemKind) InstanceJSON {
	ij := InstanceJSON{
		Recurring:               inst.Recurring,
		DueTime:                 inst.DueTime,
		StartTime:               inst.StartTime,
		EndTime:                 inst.EndTime,
		DifferentEndDatePattern: inst.EndOffsetDays,
		Completion:              append([]int64{}, inst.Completion...),
	}
	if d, ok := inst.Date.Get(); ok {
		if kind == recurrence.KindEvent {
			ij.StartDate = d.String()
		} else {
			ij.Date = d.String()
		}
	}
	if d, ok := inst.EndDate.Get(); ok {
		ij.DifferentEndDate = d.String()
	}
	if inst.DatePattern != nil {
		ij.DatePattern = patternToJSON(inst.DatePattern)
	}
	if inst.StartDatePattern != nil {
		ij.StartDatePattern = patternToJSON(inst.StartDatePattern)
	}
	if inst.Range != nil {
		ij.Range = rangeToJSON(inst.Range)
	}
	return ij
}

func patternToJSON(p recurrence.Pattern) *PatternJSON {
	pj := &PatternJSON{Kind: string(p.Kind())}
	switch p := p.(type) {
	case recurrence.EveryNDays:
		pj.EveryNDays = &EveryNDaysJSON{
			InitialDay:   p.InitialDay,
			InitialMonth: int(p.InitialMonth),
			N:            p.N,
		}
		if y, ok := p.InitialYear.Get(); ok {
			pj.EveryNDays.InitialYear = &y
		}
	case recurrence.Monthly:
		pj.Monthly = &MonthlyJSON{Day: p.Day}
	case recurrence.Annually:
		pj.Annually = &AnnuallyJSON{Month: int(p.Month), Day: p.Day}
	}
	return pj
}

func rangeToJSON(r recurrence.Range) *RangeJSON {
	rj := &RangeJSON{Kind: string(r.Kind())}
	switch r := r.(type) {
	case recurrence.DateRange:
		rj.DateRange = &DateRangeJSON{Start: r.Start.String()}
		if end, ok := r.End.Get(); ok {
			rj.DateRange.End = end.String()
		}
	case recurrence.RecurrenceCount:
		rj.RecurrenceCount = r.Count
	}
	return rj
}

// =============================================================================
// HELPERS
// =============================================================================

func invalid(message string, err error) error {
	var fields criterio.FieldErrors
	if errors.As(err, &fields) {
		return &recurrence.InvalidInputError{Message: message, Fields: fields}
	}
	return &recurrence.InvalidInputError{Message: message + ": " + err.Error()}
}

func appendPrefixed(b criterio.FieldErrorsBuilder, prefix string, err error) criterio.FieldErrorsBuilder {
	if err == nil {
		return b
	}
	var fields criterio.FieldErrors
	if errors.As(err, &fields) {
		for _, fe := range fields {
			b = b.Append(prefix+fe.Field, fe.Err)
		}
		return b
	}
	return b.Append(prefix, err)
}
