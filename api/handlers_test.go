/*
handlers_test.go - Tests for API handlers

Tests for:
- Stateless expansion and evaluation endpoints
- Task storage, completion logging and status
- Error status mapping (400, 404, 409, 422)
- RRULE and iCalendar rendering
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/api"
	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/recurrence"
	"github.com/warp/recurrence-engine/recurrence/store"
	"github.com/warp/recurrence-engine/store/sqlite"
)

var testNow = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) *chi.Mux {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expander := recurrence.NewExpanderWithConfig(recurrence.EngineConfig{
		Location: time.UTC,
		Clock:    calendar.FixedClock(testNow),
	})
	h := api.NewHandler(db, recurrence.NewEvaluator(expander), zerolog.Nop())
	return api.NewRouter(h, nil)
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func ms(y int, m time.Month, d, hour int) int64 {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC).UnixMilli()
}

const quarterlyTask = `{
  "kind": "task",
  "id": "rent",
  "name": "Pay rent",
  "task": {
    "instances": [
      {
        "recurring": true,
        "datePattern": {"kind": "monthly", "monthly": 15},
        "dueTime": "09:00",
        "range": {"kind": "dateRange", "dateRange": {"start": "2024-01-01", "end": "2024-03-31"}}
      }
    ]
  }
}`

func saveQuarterly(t *testing.T, router http.Handler) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/tasks", quarterlyTask)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func logCompletion(t *testing.T, router http.Handler, at int64) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(api.CompletionRequest{At: &at})
	require.NoError(t, err)
	return do(t, router, http.MethodPost, "/api/tasks/rent/instances/0/completions", string(body))
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[api.HealthResponse](t, rec).Status)
}

func TestHandler_MemoryStore(t *testing.T) {
	// GIVEN: The in-memory store and default engine settings
	h := api.NewHandler(store.NewMemory(), nil, zerolog.Nop())
	router := api.NewRouter(h, []string{"https://example.com"})

	// WHEN: Saving and reading back a task
	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/health", "").Code)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/tasks", quarterlyTask).Code)
	rec := do(t, router, http.MethodGet, "/api/tasks/rent/instances/0/occurrences", "")

	// THEN: The stored series expands the same way
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"2024-01-15", "2024-02-15", "2024-03-15"}, decode[api.OccurrencesResponse](t, rec).Dates)
}

// =============================================================================
// EXPAND
// =============================================================================

func TestExpand_EveryNDaysByCount(t *testing.T) {
	// GIVEN: A weekly pattern anchored on 2024-01-01, bounded by 3 occurrences
	body := `{"instance": {
	  "recurring": true,
	  "datePattern": {"kind": "everyNDays", "everyNDays": {"initialDay": 1, "initialMonth": 1, "initialYear": 2024, "n": 7}},
	  "range": {"kind": "recurrenceCount", "recurrenceCount": 3}
	}}`

	// WHEN: Expanding
	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	// THEN: Three start-of-day occurrences one week apart
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.OccurrencesResponse](t, rec)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15"}, resp.Dates)
	assert.Equal(t, []int64{ms(2024, 1, 1, 0), ms(2024, 1, 8, 0), ms(2024, 1, 15, 0)}, resp.Occurrences)
}

func TestExpand_MonthlyDateRange(t *testing.T) {
	body := `{"instance": {
	  "recurring": true,
	  "datePattern": {"kind": "monthly", "monthly": 15},
	  "range": {"kind": "dateRange", "dateRange": {"start": "2024-01-01", "end": "2024-03-31"}}
	}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"2024-01-15", "2024-02-15", "2024-03-15"}, decode[api.OccurrencesResponse](t, rec).Dates)
}

func TestExpand_EventUsesStartTime(t *testing.T) {
	body := `{"kind": "event", "instance": {
	  "recurring": true,
	  "startDatePattern": {"kind": "annually", "annually": {"month": 7, "day": 4}},
	  "startTime": "20:30",
	  "range": {"kind": "recurrenceCount", "recurrenceCount": 2}
	}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.OccurrencesResponse](t, rec)
	assert.Equal(t, []string{"2024-07-04", "2025-07-04"}, resp.Dates)
	assert.Equal(t, time.Date(2024, 7, 4, 20, 30, 0, 0, time.UTC).UnixMilli(), resp.Occurrences[0])
}

func TestExpand_CountMismatchIsInvalidInput(t *testing.T) {
	// GIVEN: An explicit end bound that cuts a 3-occurrence series short
	end := ms(2024, 1, 10, 0)
	body := `{"end": ` + jsonInt(end) + `, "instance": {
	  "recurring": true,
	  "datePattern": {"kind": "everyNDays", "everyNDays": {"initialDay": 1, "initialMonth": 1, "initialYear": 2024, "n": 7}},
	  "range": {"kind": "recurrenceCount", "recurrenceCount": 3}
	}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	// THEN: The mismatch surfaces as InvalidInput, not a truncated list
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[api.ErrorResponse](t, rec).Code)
}

func TestExpand_ValidationFieldsReported(t *testing.T) {
	body := `{"instance": {
	  "recurring": true,
	  "datePattern": {"kind": "monthly", "monthly": 15},
	  "dueTime": "24:00",
	  "range": {"kind": "recurrenceCount", "recurrenceCount": 2}
	}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "dueTime", resp.Fields[0].Field)
}

func TestExpand_UnknownPatternKind(t *testing.T) {
	body := `{"instance": {
	  "recurring": true,
	  "datePattern": {"kind": "weekly"},
	  "range": {"kind": "recurrenceCount", "recurrenceCount": 2}
	}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpand_MalformedBody(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodPost, "/api/expand", `{"instance":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// EVALUATE
// =============================================================================

func TestEvaluate_SameDayCompletion(t *testing.T) {
	// GIVEN: Due 14:00, completed 09:00 the same day
	body := `{"task": {"kind": "task", "id": "t1", "name": "Call", "task": {"instances": [
	  {"recurring": false, "date": "2024-05-01", "dueTime": "14:00", "completion": [` + jsonInt(ms(2024, 5, 1, 9)) + `]}
	]}}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/evaluate", body)

	// THEN: Calendar-day equality wins over time of day
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.EvaluateResponse](t, rec)
	assert.True(t, resp.Complete)
	assert.Equal(t, 1, resp.Progress.Completed)
	assert.Equal(t, "1", resp.Progress.Ratio.String())
}

func TestEvaluate_NoInstancesIsIncomplete(t *testing.T) {
	body := `{"task": {"kind": "task", "id": "t1", "name": "Nothing", "task": {"instances": []}}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/evaluate", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.EvaluateResponse](t, rec)
	assert.False(t, resp.Complete)
	assert.Equal(t, 0, resp.Progress.Expected)
}

func TestEvaluate_UnknownKind(t *testing.T) {
	body := `{"task": {"kind": "chore", "id": "t1", "name": "x"}}`

	rec := do(t, newRouter(t), http.MethodPost, "/api/evaluate", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[api.ErrorResponse](t, rec)
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "kind", resp.Fields[0].Field)
}

// =============================================================================
// TASKS
// =============================================================================

func TestSaveTask_GeneratesID(t *testing.T) {
	router := newRouter(t)
	body := strings.Replace(quarterlyTask, `"id": "rent",`, "", 1)

	rec := do(t, router, http.MethodPost, "/api/tasks", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[factory.TaskJSON](t, rec)
	assert.NotEmpty(t, saved.ID)

	rec = do(t, router, http.MethodGet, "/api/tasks/"+saved.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaveTask_RejectsInvalid(t *testing.T) {
	body := strings.Replace(quarterlyTask, `"monthly": 15`, `"monthly": 32`, 1)

	rec := do(t, newRouter(t), http.MethodPost, "/api/tasks", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndDeleteTasks(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]factory.TaskJSON](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Pay rent", tasks[0].Name)

	rec = do(t, router, http.MethodDelete, "/api/tasks/rent", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/tasks/rent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/api/tasks/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task_not_found", decode[api.ErrorResponse](t, rec).Code)
}

// =============================================================================
// COMPLETIONS AND STATUS
// =============================================================================

func TestCompletionFlow(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	// GIVEN: January and February paid, at any time of the due day
	require.Equal(t, http.StatusCreated, logCompletion(t, router, ms(2024, 1, 15, 18)).Code)
	rec := logCompletion(t, router, ms(2024, 2, 15, 7))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "2024-02-15", decode[api.CompletionDTO](t, rec).Date)

	// WHEN: Checking status on April 1st
	rec = do(t, router, http.MethodGet, "/api/tasks/rent/status?as_of=2024-04-01", "")

	// THEN: Not complete, March is overdue
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[api.StatusResponse](t, rec)
	require.NotNil(t, status.Complete)
	assert.False(t, *status.Complete)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 3, status.Progress.Expected)
	assert.Equal(t, 2, status.Progress.Completed)
	assert.Equal(t, "0.6667", status.Progress.Ratio.String())
	require.Len(t, status.Overdue, 1)
	assert.Equal(t, "2024-03-15", status.Overdue[0].Date)

	// WHEN: March is paid
	require.Equal(t, http.StatusCreated, logCompletion(t, router, ms(2024, 3, 15, 9)).Code)

	// THEN: Complete with nothing overdue
	rec = do(t, router, http.MethodGet, "/api/tasks/rent/status?as_of=2024-04-01", "")
	status = decode[api.StatusResponse](t, rec)
	require.NotNil(t, status.Complete)
	assert.True(t, *status.Complete)
	assert.Empty(t, status.Overdue)

	// AND: The stored task carries the full log
	rec = do(t, router, http.MethodGet, "/api/tasks/rent", "")
	doc := decode[factory.TaskJSON](t, rec)
	require.NotNil(t, doc.Task)
	assert.Len(t, doc.Task.Instances[0].Completion, 3)
}

func TestLogCompletion_Duplicate(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	require.Equal(t, http.StatusCreated, logCompletion(t, router, ms(2024, 1, 15, 9)).Code)
	rec := logCompletion(t, router, ms(2024, 1, 15, 9))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogCompletion_DefaultsToNow(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodPost, "/api/tasks/rent/instances/0/completions", "")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, testNow.UnixMilli(), decode[api.CompletionDTO](t, rec).At)
}

func TestLogCompletion_UnknownInstance(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodPost, "/api/tasks/rent/instances/5/completions", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "instance_not_found", decode[api.ErrorResponse](t, rec).Code)
}

func TestGetStatus_OpenEndedRange(t *testing.T) {
	router := newRouter(t)
	body := strings.Replace(quarterlyTask, `, "end": "2024-03-31"`, "", 1)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/tasks", body).Code)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/status?as_of=2024-03-01", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[api.StatusResponse](t, rec)
	assert.True(t, status.OpenEnded)
	assert.Nil(t, status.Complete)
	assert.Len(t, status.Overdue, 2)
}

// =============================================================================
// OCCURRENCES, RRULE, ICS
// =============================================================================

func TestGetOccurrences_WithBounds(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/instances/0/occurrences?start=2024-02-01&end=2024-03-31", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.OccurrencesResponse](t, rec)
	assert.Equal(t, []string{"2024-02-15", "2024-03-15"}, resp.Dates)
	assert.Equal(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC).UnixMilli(), resp.Occurrences[0])
}

func TestGetOccurrences_BadBound(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/instances/0/occurrences?start=yesterday", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRRule(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/instances/0/rrule", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rule := decode[api.RRuleDTO](t, rec)
	assert.Contains(t, rule.Rule, "FREQ=MONTHLY")
	assert.Contains(t, rule.Rule, "BYMONTHDAY=15")
	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).UnixMilli(), rule.DTStart)
	assert.True(t, strings.HasPrefix(rule.Text, "DTSTART:20240115T090000Z"))
}

func TestGetRRule_NotRepresentable(t *testing.T) {
	router := newRouter(t)
	body := strings.Replace(quarterlyTask, `"monthly": 15`, `"monthly": 31`, 1)
	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/tasks", body).Code)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/instances/0/rrule", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExportCalendar(t *testing.T) {
	router := newRouter(t)
	saveQuarterly(t, router)

	rec := do(t, router, http.MethodGet, "/api/tasks/rent/calendar.ics", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 3, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "SUMMARY:Pay rent")
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
