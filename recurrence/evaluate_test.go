package recurrence_test

import (
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/recurrence"
)

func newEvaluator() *recurrence.Evaluator {
	return recurrence.NewEvaluator(newExpander(jan2024))
}

func at(y int, m time.Month, d, hour, minute int) int64 {
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC).UnixMilli()
}

func oneOff(d calendar.Date, dueTime string, completion ...int64) recurrence.Instance {
	return recurrence.Instance{Date: mo.Some(d), DueTime: dueTime, Completion: completion}
}

func monthlyQ1(completion ...int64) recurrence.Instance {
	inst := recurringTask(recurrence.Monthly{Day: 15}, dateRange(date(2024, 1, 1), date(2024, 3, 31)))
	inst.Completion = completion
	return inst
}

// =============================================================================
// IS COMPLETE
// =============================================================================

func TestIsComplete_NoInstances(t *testing.T) {
	done, err := newEvaluator().IsComplete(recurrence.Task{})

	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_EmptyCompletionLog(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{oneOff(date(2024, 5, 1), "")}}

	done, err := newEvaluator().IsComplete(task)

	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_NonRecurring_SameDayDifferentTime(t *testing.T) {
	// GIVEN: due 2024-05-01 14:00, completed 2024-05-01 09:00
	// THEN: complete, the day matches even though the time does not
	task := recurrence.Task{Instances: []recurrence.Instance{
		oneOff(date(2024, 5, 1), "14:00", at(2024, time.May, 1, 9, 0)),
	}}

	done, err := newEvaluator().IsComplete(task)

	require.NoError(t, err)
	assert.True(t, done)
}

func TestIsComplete_NonRecurring_WrongDay(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{
		oneOff(date(2024, 5, 1), "", at(2024, time.April, 30, 23, 59), at(2024, time.May, 2, 0, 0)),
	}}

	done, err := newEvaluator().IsComplete(task)

	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_Recurring_DateRange(t *testing.T) {
	all := monthlyQ1(at(2024, time.March, 15, 8, 0), at(2024, time.January, 15, 23, 0), at(2024, time.February, 15, 12, 0))
	missingFeb := monthlyQ1(at(2024, time.January, 15, 23, 0), at(2024, time.March, 15, 8, 0))

	e := newEvaluator()

	done, err := e.IsComplete(recurrence.Task{Instances: []recurrence.Instance{all}})
	require.NoError(t, err)
	assert.True(t, done)

	done, err = e.IsComplete(recurrence.Task{Instances: []recurrence.Instance{missingFeb}})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_Recurring_RecurrenceCount(t *testing.T) {
	inst := recurringTask(weekly2024(), recurrence.RecurrenceCount{Count: 3})
	inst.Completion = []int64{
		at(2024, time.January, 1, 10, 0),
		at(2024, time.January, 8, 10, 0),
		at(2024, time.January, 15, 10, 0),
		at(2024, time.January, 22, 10, 0), // beyond the series, harmless
	}

	done, err := newEvaluator().IsComplete(recurrence.Task{Instances: []recurrence.Instance{inst}})

	require.NoError(t, err)
	assert.True(t, done)
}

func TestIsComplete_AllInstancesMustBeComplete(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{
		oneOff(date(2024, 5, 1), "", at(2024, time.May, 1, 9, 0)),
		oneOff(date(2024, 5, 2), ""),
	}}

	done, err := newEvaluator().IsComplete(task)

	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_DateRangeWithoutEndIsInvalid(t *testing.T) {
	inst := recurringTask(recurrence.Monthly{Day: 1}, recurrence.DateRange{Start: date(2024, 1, 1)})

	_, err := newEvaluator().IsComplete(recurrence.Task{Instances: []recurrence.Instance{inst}})

	assert.True(t, recurrence.IsInvalidInput(err))
}

func TestIsComplete_MalformedLaterInstanceStillReported(t *testing.T) {
	// GIVEN: first instance incomplete, second instance has a bad time
	task := recurrence.Task{Instances: []recurrence.Instance{
		oneOff(date(2024, 5, 1), ""),
		oneOff(date(2024, 5, 2), "25:00"),
	}}

	_, err := newEvaluator().IsComplete(task)

	require.Error(t, err)
	var invalid *recurrence.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	require.NotEmpty(t, invalid.Fields)
	assert.Equal(t, "instances[1].dueTime", invalid.Fields[0].Field)
}

func TestIsComplete_NonRecurringWithRangeIsInvalid(t *testing.T) {
	inst := oneOff(date(2024, 5, 1), "")
	inst.Range = recurrence.RecurrenceCount{Count: 1}

	_, err := newEvaluator().IsComplete(recurrence.Task{Instances: []recurrence.Instance{inst}})

	assert.True(t, recurrence.IsInvalidInput(err))
}

func TestIsComplete_CalendarDayIsLocal(t *testing.T) {
	// 23:30 on May 1 at UTC-5 is 04:30 on May 2 in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	completion := time.Date(2024, time.May, 1, 23, 30, 0, 0, loc).UnixMilli()
	task := recurrence.Task{Instances: []recurrence.Instance{oneOff(date(2024, 5, 1), "", completion)}}

	local := recurrence.NewEvaluator(recurrence.NewExpanderWithConfig(recurrence.EngineConfig{Location: loc}))
	utc := newEvaluator()

	done, err := local.IsComplete(task)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = utc.IsComplete(task)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestIsComplete_DoesNotMutateInput(t *testing.T) {
	completion := []int64{at(2024, time.March, 15, 0, 0), at(2024, time.January, 15, 0, 0)}
	task := recurrence.Task{Instances: []recurrence.Instance{monthlyQ1(completion...)}}

	_, err := newEvaluator().IsComplete(task)

	require.NoError(t, err)
	assert.Equal(t, []int64{at(2024, time.March, 15, 0, 0), at(2024, time.January, 15, 0, 0)}, task.Instances[0].Completion)
}

func TestIsComplete_ConcurrentCallersAgree(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{
		monthlyQ1(at(2024, time.January, 15, 0, 0), at(2024, time.February, 15, 0, 0), at(2024, time.March, 15, 0, 0)),
		oneOff(date(2024, 5, 1), "14:00", at(2024, time.May, 1, 9, 0)),
	}}
	e := newEvaluator()

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := e.IsComplete(task)
			assert.NoError(t, err)
			results[i] = done
		}(i)
	}
	wg.Wait()

	for _, done := range results {
		assert.True(t, done)
	}
}

// =============================================================================
// PROGRESS & OVERDUE
// =============================================================================

func TestProgress_CountsMatchedOccurrences(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{
		monthlyQ1(at(2024, time.January, 15, 0, 0), at(2024, time.March, 15, 0, 0)),
	}}

	p, err := newEvaluator().Progress(task)

	require.NoError(t, err)
	assert.Equal(t, 3, p.Expected)
	assert.Equal(t, 2, p.Completed)
	assert.False(t, p.Complete)
	assert.True(t, decimal.RequireFromString("0.6667").Equal(p.Ratio), "ratio %s", p.Ratio)
	require.Len(t, p.Instances, 1)
	assert.Equal(t, recurrence.InstanceProgress{Index: 0, Expected: 3, Completed: 2}, p.Instances[0])
}

func TestProgress_EmptyTask(t *testing.T) {
	p, err := newEvaluator().Progress(recurrence.Task{})

	require.NoError(t, err)
	assert.False(t, p.Complete)
	assert.True(t, p.Ratio.IsZero())
}

func TestOverdue_OpenEndedSeries(t *testing.T) {
	// GIVEN: monthly on the 15th from Jan 1 with no end, Feb skipped, Mar done a day late
	// WHEN: checked on Apr 10
	// THEN: Feb 15 and Mar 15 are overdue; Apr 15 is still ahead
	inst := recurringTask(recurrence.Monthly{Day: 15}, recurrence.DateRange{Start: date(2024, 1, 1)})
	inst.Completion = []int64{at(2024, time.January, 15, 7, 0), at(2024, time.March, 16, 0, 30)}
	task := recurrence.Task{Instances: []recurrence.Instance{inst, oneOff(date(2024, 4, 1), "")}}

	overdue, err := newEvaluator().Overdue(task, time.Date(2024, time.April, 10, 12, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, []recurrence.Occurrence{
		{InstanceIndex: 0, At: day(2024, time.February, 15)},
		{InstanceIndex: 0, At: day(2024, time.March, 15)},
		{InstanceIndex: 1, At: day(2024, time.April, 1)},
	}, overdue)
}

func TestOverdue_TodayIsNotOverdue(t *testing.T) {
	task := recurrence.Task{Instances: []recurrence.Instance{oneOff(date(2024, 4, 10), "08:00")}}

	overdue, err := newEvaluator().Overdue(task, time.Date(2024, time.April, 10, 20, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Empty(t, overdue)
}
