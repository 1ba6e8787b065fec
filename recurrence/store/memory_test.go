package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/recurrence"
	"github.com/warp/recurrence-engine/recurrence/store"
)

func sampleTask(id string) recurrence.Task {
	return recurrence.Task{
		ID:   id,
		Kind: recurrence.KindTask,
		Name: "Water plants",
		Instances: []recurrence.Instance{
			{Date: mo.Some(calendar.NewDate(2024, time.May, 1))},
			{Recurring: true, DatePattern: recurrence.Monthly{Day: 1}, Range: recurrence.RecurrenceCount{Count: 3}},
		},
	}
}

func TestMemory_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SaveTask(ctx, sampleTask("t1")))

	got, err := m.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Water plants", got.Name)
	assert.Len(t, got.Instances, 2)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemory_GetMissing(t *testing.T) {
	_, err := store.NewMemory().GetTask(context.Background(), "nope")

	assert.ErrorIs(t, err, recurrence.ErrTaskNotFound)
}

func TestMemory_AppendCompletion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveTask(ctx, sampleTask("t1")))

	later := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.AppendCompletion(ctx, "t1", 1, later))
	require.NoError(t, m.AppendCompletion(ctx, "t1", 1, earlier))

	got, err := m.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.Instances[0].Completion)
	assert.Equal(t, []int64{earlier.UnixMilli(), later.UnixMilli()}, got.Instances[1].Completion)
}

func TestMemory_AppendCompletion_Errors(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveTask(ctx, sampleTask("t1")))
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, m.AppendCompletion(ctx, "missing", 0, now), recurrence.ErrTaskNotFound)
	assert.ErrorIs(t, m.AppendCompletion(ctx, "t1", 2, now), recurrence.ErrInstanceNotFound)
	require.NoError(t, m.AppendCompletion(ctx, "t1", 0, now))
	assert.ErrorIs(t, m.AppendCompletion(ctx, "t1", 0, now), recurrence.ErrDuplicateCompletion)
}

func TestMemory_SaveKeepsLoggedCompletions(t *testing.T) {
	// GIVEN: a completion logged through AppendCompletion
	// WHEN: the task definition is saved again with a renamed title
	// THEN: the log survives
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveTask(ctx, sampleTask("t1")))
	done := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.AppendCompletion(ctx, "t1", 0, done))

	renamed := sampleTask("t1")
	renamed.Name = "Water all plants"
	require.NoError(t, m.SaveTask(ctx, renamed))

	got, err := m.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Water all plants", got.Name)
	assert.Equal(t, []int64{done.UnixMilli()}, got.Instances[0].Completion)
}

func TestMemory_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveTask(ctx, sampleTask("a")))
	require.NoError(t, m.SaveTask(ctx, sampleTask("b")))

	tasks, err := m.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	require.NoError(t, m.DeleteTask(ctx, "a"))
	assert.ErrorIs(t, m.DeleteTask(ctx, "a"), recurrence.ErrTaskNotFound)

	tasks, err = m.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].ID)
}
