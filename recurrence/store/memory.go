// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/recurrence-engine/recurrence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	tasks       map[string]recurrence.Task
	completions map[key][]int64
	now         func() time.Time
}

type key struct {
	TaskID string
	Index  int
}

func NewMemory() *Memory {
	return &Memory{
		tasks:       make(map[string]recurrence.Task),
		completions: make(map[key][]int64),
		now:         time.Now,
	}
}

// SaveTask stores a copy of the task definition.
func (m *Memory) SaveTask(_ context.Context, task recurrence.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if existing, ok := m.tasks[task.ID]; ok {
		task.CreatedAt = existing.CreatedAt
		for i := len(task.Instances); i < len(existing.Instances); i++ {
			delete(m.completions, key{TaskID: task.ID, Index: i})
		}
	} else if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	instances := make([]recurrence.Instance, len(task.Instances))
	for i, inst := range task.Instances {
		for _, ms := range inst.Completion {
			m.appendLocked(key{TaskID: task.ID, Index: i}, ms)
		}
		inst.Completion = nil
		instances[i] = inst
	}
	task.Instances = instances
	m.tasks[task.ID] = task
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (recurrence.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return recurrence.Task{}, recurrence.ErrTaskNotFound
	}
	return m.hydrateLocked(task), nil
}

func (m *Memory) ListTasks(_ context.Context) ([]recurrence.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]recurrence.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		result = append(result, m.hydrateLocked(task))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return recurrence.ErrTaskNotFound
	}
	for i := range task.Instances {
		delete(m.completions, key{TaskID: id, Index: i})
	}
	delete(m.tasks, id)
	return nil
}

// AppendCompletion adds a completion. Append-only.
func (m *Memory) AppendCompletion(_ context.Context, taskID string, index int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return recurrence.ErrTaskNotFound
	}
	if _, err := task.Instance(index); err != nil {
		return err
	}
	k := key{TaskID: taskID, Index: index}
	ms := at.UnixMilli()
	for _, existing := range m.completions[k] {
		if existing == ms {
			return recurrence.ErrDuplicateCompletion
		}
	}
	m.appendLocked(k, ms)
	return nil
}

func (m *Memory) appendLocked(k key, ms int64) {
	log := m.completions[k]

	// Keep each log sorted so reads need no work.
	i := sort.Search(len(log), func(i int) bool { return log[i] >= ms })
	if i < len(log) && log[i] == ms {
		return
	}
	log = append(log, 0)
	copy(log[i+1:], log[i:])
	log[i] = ms
	m.completions[k] = log
}

func (m *Memory) hydrateLocked(task recurrence.Task) recurrence.Task {
	instances := make([]recurrence.Instance, len(task.Instances))
	for i, inst := range task.Instances {
		log := m.completions[key{TaskID: task.ID, Index: i}]
		inst.Completion = append([]int64(nil), log...)
		instances[i] = inst
	}
	task.Instances = instances
	return task
}
