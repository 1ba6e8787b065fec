/*
handlers.go - HTTP API handlers for the recurrence engine

PURPOSE:
  Exposes pattern expansion and completion evaluation over REST, both for
  documents posted inline and for tasks kept in the store. Handlers only
  decode, delegate and encode; all calendar logic lives in recurrence.

ENDPOINTS:
  Engine (stateless):
    POST   /api/expand                  Occurrences of one instance
    POST   /api/evaluate                Completion verdict for a task document

  Tasks:
    GET    /api/tasks                   List tasks
    POST   /api/tasks                   Create or replace a task
    GET    /api/tasks/{id}              Get task with completion logs
    DELETE /api/tasks/{id}              Delete task and its logs
    GET    /api/tasks/{id}/status       Complete?, progress, overdue
    GET    /api/tasks/{id}/calendar.ics iCalendar export

  Instances:
    GET    /api/tasks/{id}/instances/{index}/occurrences
    GET    /api/tasks/{id}/instances/{index}/rrule
    POST   /api/tasks/{id}/instances/{index}/completions

QUERY TIMES:
  start, end and as_of accept Unix milliseconds or YYYY-MM-DD. A bare date
  means the start of that day in the configured timezone.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: InvalidInput (field errors listed under "fields")
  - 404: Task or instance not found
  - 409: Duplicate completion
  - 422: Series has no exact RRULE
  - 500: Internal errors (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/ics"
	"github.com/warp/recurrence-engine/recurrence"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     recurrence.Store
	Factory   *factory.TaskFactory
	Evaluator *recurrence.Evaluator
	Exporter  *ics.Exporter

	log   zerolog.Logger
	newID func() string
}

// NewHandler creates a handler. A nil evaluator uses the engine defaults.
func NewHandler(store recurrence.Store, evaluator *recurrence.Evaluator, logger zerolog.Logger) *Handler {
	if evaluator == nil {
		evaluator = recurrence.NewEvaluator(nil)
	}
	return &Handler{
		Store:     store,
		Factory:   factory.NewTaskFactory(),
		Evaluator: evaluator,
		Exporter:  ics.NewExporter(evaluator.Expander()),
		log:       logger,
		newID:     uuid.NewString,
	}
}

func (h *Handler) expander() *recurrence.Expander { return h.Evaluator.Expander() }

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and store reachability when the store can tell.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// ENGINE ENDPOINTS
// =============================================================================

// Expand returns the occurrences of an inline instance.
// POST /api/expand
func (h *Handler) Expand(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Instance) == 0 {
		h.handleError(w, r, "Invalid expand request", &recurrence.InvalidInputError{Message: "instance is required"})
		return
	}

	kind := recurrence.KindTask
	if req.Kind != "" {
		kind = recurrence.ItemKind(req.Kind)
	}
	inst, err := h.Factory.ParseInstance(req.Instance, kind)
	if err != nil {
		h.handleError(w, r, "Invalid instance", err)
		return
	}

	bounds := recurrence.BoundsFromMillis(optionOf(req.Start), optionOf(req.End))
	occurrences, err := h.expander().Expand(inst, bounds)
	if err != nil {
		h.handleError(w, r, "Expansion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOccurrencesResponse(occurrences))
}

// Evaluate decides completion for an inline task document.
// POST /api/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !h.decode(w, r, &req) {
		return
	}

	task, err := h.Factory.FromJSON(req.Task)
	if err != nil {
		h.handleError(w, r, "Invalid task", err)
		return
	}

	complete, err := h.Evaluator.IsComplete(task)
	if err != nil {
		h.handleError(w, r, "Evaluation failed", err)
		return
	}
	progress, err := h.Evaluator.Progress(task)
	if err != nil {
		h.handleError(w, r, "Evaluation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Complete: complete,
		Progress: toProgressDTO(progress),
	})
}

// =============================================================================
// TASK ENDPOINTS
// =============================================================================

// ListTasks returns all stored tasks.
// GET /api/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context())
	if err != nil {
		h.handleError(w, r, "Failed to list tasks", err)
		return
	}

	docs := make([]factory.TaskJSON, len(tasks))
	for i, t := range tasks {
		docs[i] = h.Factory.ToJSON(t)
	}
	writeJSON(w, http.StatusOK, docs)
}

// SaveTask creates a task, or replaces the definition of an existing one.
// Missing IDs are generated.
// POST /api/tasks
func (h *Handler) SaveTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	task, err := h.Factory.ParseTask(body)
	if err != nil {
		h.handleError(w, r, "Invalid task", err)
		return
	}
	if task.ID == "" {
		task.ID = h.newID()
	}

	ctx := r.Context()
	if err := h.Store.SaveTask(ctx, task); err != nil {
		h.handleError(w, r, "Failed to save task", err)
		return
	}
	saved, err := h.Store.GetTask(ctx, task.ID)
	if err != nil {
		h.handleError(w, r, "Failed to load saved task", err)
		return
	}

	h.log.Info().Str("task_id", saved.ID).Int("instances", len(saved.Instances)).Msg("task saved")
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(saved))
}

// GetTask returns one task with its completion logs.
// GET /api/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToJSON(task))
}

// DeleteTask removes a task and its completion logs.
// DELETE /api/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteTask(r.Context(), id); err != nil {
		h.handleError(w, r, "Failed to delete task", err)
		return
	}
	h.log.Info().Str("task_id", id).Msg("task deleted")
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus summarizes completion as of a point in time (default now).
// GET /api/tasks/{id}/status?as_of=
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	asOf := h.expander().Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := h.parseInstant(raw)
		if err != nil {
			h.handleError(w, r, "Invalid as_of", err)
			return
		}
		asOf = t
	}

	resp := StatusResponse{
		TaskID:    task.ID,
		AsOf:      asOf.UnixMilli(),
		OpenEnded: openEnded(task),
	}

	if !resp.OpenEnded {
		complete, err := h.Evaluator.IsComplete(task)
		if err != nil {
			h.handleError(w, r, "Evaluation failed", err)
			return
		}
		progress, err := h.Evaluator.Progress(task)
		if err != nil {
			h.handleError(w, r, "Evaluation failed", err)
			return
		}
		dto := toProgressDTO(progress)
		resp.Complete = &complete
		resp.Progress = &dto
	}

	overdue, err := h.Evaluator.Overdue(task, asOf)
	if err != nil {
		h.handleError(w, r, "Evaluation failed", err)
		return
	}
	resp.Overdue = make([]OccurrenceDTO, len(overdue))
	for i, o := range overdue {
		resp.Overdue[i] = h.toOccurrenceDTO(o.InstanceIndex, o.At)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportCalendar renders the task as an iCalendar document.
// GET /api/tasks/{id}/calendar.ics?start=&end=
func (h *Handler) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	task, ok := h.loadTask(w, r)
	if !ok {
		return
	}
	bounds, err := h.parseBounds(r)
	if err != nil {
		h.handleError(w, r, "Invalid bounds", err)
		return
	}

	doc, err := h.Exporter.Export(task, bounds)
	if err != nil {
		h.handleError(w, r, "Failed to export calendar", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.ID+".ics"))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc)
}

// =============================================================================
// INSTANCE ENDPOINTS
// =============================================================================

// GetOccurrences expands a stored recurring instance.
// GET /api/tasks/{id}/instances/{index}/occurrences?start=&end=
func (h *Handler) GetOccurrences(w http.ResponseWriter, r *http.Request) {
	_, inst, ok := h.loadInstance(w, r)
	if !ok {
		return
	}
	bounds, err := h.parseBounds(r)
	if err != nil {
		h.handleError(w, r, "Invalid bounds", err)
		return
	}

	occurrences, err := h.expander().Expand(inst, bounds)
	if err != nil {
		h.handleError(w, r, "Expansion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toOccurrencesResponse(occurrences))
}

// GetRRule renders a stored recurring instance as an RFC 5545 rule.
// GET /api/tasks/{id}/instances/{index}/rrule
func (h *Handler) GetRRule(w http.ResponseWriter, r *http.Request) {
	_, inst, ok := h.loadInstance(w, r)
	if !ok {
		return
	}

	spec, err := h.expander().RRule(inst)
	if err != nil {
		h.handleError(w, r, "Failed to render rule", err)
		return
	}
	writeJSON(w, http.StatusOK, RRuleDTO{
		DTStart: spec.DTStart.UnixMilli(),
		Rule:    spec.Rule,
		Text:    spec.String(),
	})
}

// LogCompletion appends a completion for an instance. The body is
// optional; "at" defaults to now.
// POST /api/tasks/{id}/instances/{index}/completions
func (h *Handler) LogCompletion(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.loadInstance(w, r)
	if !ok {
		return
	}
	index, _ := strconv.Atoi(chi.URLParam(r, "index"))

	var req CompletionRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at := h.expander().Now()
	if req.At != nil {
		at = time.UnixMilli(*req.At)
	}

	if err := h.Store.AppendCompletion(r.Context(), task.ID, index, at); err != nil {
		h.handleError(w, r, "Failed to log completion", err)
		return
	}

	h.log.Info().
		Str("task_id", task.ID).
		Int("instance", index).
		Int64("at", at.UnixMilli()).
		Msg("completion logged")

	dto := h.toOccurrenceDTO(index, at)
	writeJSON(w, http.StatusCreated, CompletionDTO{
		TaskID:        task.ID,
		InstanceIndex: index,
		At:            dto.At,
		Date:          dto.Date,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadTask(w http.ResponseWriter, r *http.Request) (recurrence.Task, bool) {
	task, err := h.Store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, "Failed to load task", err)
		return recurrence.Task{}, false
	}
	return task, true
}

func (h *Handler) loadInstance(w http.ResponseWriter, r *http.Request) (recurrence.Task, recurrence.Instance, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid instance index", err)
		return recurrence.Task{}, recurrence.Instance{}, false
	}
	task, ok := h.loadTask(w, r)
	if !ok {
		return recurrence.Task{}, recurrence.Instance{}, false
	}
	inst, err := task.Instance(index)
	if err != nil {
		h.handleError(w, r, "Failed to load instance", err)
		return recurrence.Task{}, recurrence.Instance{}, false
	}
	return task, inst, true
}

// decode reads a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) parseBounds(r *http.Request) (recurrence.Bounds, error) {
	var b recurrence.Bounds
	q := r.URL.Query()
	if raw := q.Get("start"); raw != "" {
		t, err := h.parseInstant(raw)
		if err != nil {
			return b, err
		}
		b.Start = mo.Some(t)
	}
	if raw := q.Get("end"); raw != "" {
		t, err := h.parseInstant(raw)
		if err != nil {
			return b, err
		}
		b.End = mo.Some(t)
	}
	return b, nil
}

// parseInstant accepts Unix milliseconds or YYYY-MM-DD.
func (h *Handler) parseInstant(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return time.Time{}, &recurrence.InvalidInputError{Message: "expected Unix milliseconds or YYYY-MM-DD, got " + strconv.Quote(raw)}
	}
	return d.StartOfDay(h.expander().Location()), nil
}

func optionOf(ms *int64) mo.Option[int64] {
	if ms == nil {
		return mo.None[int64]()
	}
	return mo.Some(*ms)
}

// openEnded reports a recurring date range without an end, which has no
// finite expected set and so no completion verdict.
func openEnded(task recurrence.Task) bool {
	for _, inst := range task.Instances {
		if r, ok := inst.Range.(recurrence.DateRange); ok && inst.Recurring && !r.End.IsPresent() {
			return true
		}
	}
	return false
}

func (h *Handler) toOccurrencesResponse(occurrences []time.Time) OccurrencesResponse {
	loc := h.expander().Location()
	resp := OccurrencesResponse{
		Occurrences: recurrence.Millis(occurrences),
		Dates:       make([]string, len(occurrences)),
	}
	for i, occ := range occurrences {
		resp.Dates[i] = calendar.DateIn(occ, loc).String()
	}
	return resp
}

func (h *Handler) toOccurrenceDTO(index int, at time.Time) OccurrenceDTO {
	return OccurrenceDTO{
		InstanceIndex: index,
		At:            at.UnixMilli(),
		Date:          calendar.DateIn(at, h.expander().Location()).String(),
	}
}

func toProgressDTO(p recurrence.Progress) ProgressDTO {
	dto := ProgressDTO{
		Expected:  p.Expected,
		Completed: p.Completed,
		Ratio:     p.Ratio,
		Complete:  p.Complete,
		Instances: make([]InstanceProgressDTO, len(p.Instances)),
	}
	for i, ip := range p.Instances {
		dto.Instances[i] = InstanceProgressDTO{
			Index:     ip.Index,
			Expected:  ip.Expected,
			Completed: ip.Completed,
		}
	}
	return dto
}

// handleError maps engine and store errors to HTTP statuses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var invalid *recurrence.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		resp := ErrorResponse{Error: message, Code: "invalid_input", Details: invalid.Message}
		resp.Fields = toFieldErrorDTOs(invalid.Fields)
		writeJSON(w, http.StatusBadRequest, resp)
	case recurrence.IsInvalidInput(err):
		writeCodedError(w, http.StatusBadRequest, "invalid_input", message, err)
	case errors.Is(err, recurrence.ErrTaskNotFound):
		writeCodedError(w, http.StatusNotFound, "task_not_found", message, err)
	case errors.Is(err, recurrence.ErrInstanceNotFound):
		writeCodedError(w, http.StatusNotFound, "instance_not_found", message, err)
	case errors.Is(err, recurrence.ErrDuplicateCompletion):
		writeCodedError(w, http.StatusConflict, "duplicate_completion", message, err)
	case errors.Is(err, recurrence.ErrNotRepresentable):
		writeCodedError(w, http.StatusUnprocessableEntity, "not_representable", message, err)
	default:
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func toFieldErrorDTOs(fields criterio.FieldErrors) []FieldErrorDTO {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldErrorDTO, len(fields))
	for i, f := range fields {
		out[i] = FieldErrorDTO{Field: f.Field, Message: f.Err.Error()}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
