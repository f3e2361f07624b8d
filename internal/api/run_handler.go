package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/tracker"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&updated_since=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		Limit:  parseInt(q.Get("limit"), repo.DefaultListLimit),
		Offset: parseInt(q.Get("offset"), 0),
	}

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s == "" {
				continue
			}
			status, ok := domain.ParseRunStatus(strings.ToUpper(s))
			if !ok {
				BadRequest(w, "invalid status: "+s)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if since := q.Get("updated_since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			BadRequest(w, "invalid updated_since")
			return
		}
		filter.UpdatedSince = &t
	}

	runs, err := h.tracker.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]RunResponse, len(runs))
	for i := range runs {
		result[i] = RunFromDomain(&runs[i])
	}

	List(w, result, len(result))
}

// CreateRun создаёт run вместе с шагами и IO.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !decode(w, r, &req) {
		return
	}

	run, err := req.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	res, err := h.tracker.CreateRun(r.Context(), run)
	if HandleError(w, h.logger, err) {
		return
	}

	WithWarnings(w, http.StatusCreated, RunFromDomain(res.Run), res.Warnings)
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.tracker.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(run))
}

// DeleteRun удаляет run или выбранные группы его связей.
// DELETE /api/v1/runs/{id}?include=steps,io
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var names []string
	for _, raw := range r.URL.Query()["include"] {
		names = append(names, strings.Split(raw, ",")...)
	}
	relations, err := tracker.ParseRelations(names)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	res, err := h.tracker.DeleteRun(r.Context(), id, relations)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, res)
}

// UpdateRunStatus переводит run в новый статус.
// POST /api/v1/runs/{id}/status
func (h *Handler) UpdateRunStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req RunStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, ok := domain.ParseRunStatus(req.Status)
	if !ok {
		BadRequest(w, "invalid status: "+req.Status)
		return
	}

	res, err := h.tracker.UpdateRunStatus(r.Context(), id, status, derefTime(req.At))
	if HandleError(w, h.logger, err) {
		return
	}

	WithWarnings(w, http.StatusOK, RunFromDomain(res.Run), res.Warnings)
}

// AddContextSwitches увеличивает счётчик переключений контекста run.
// POST /api/v1/runs/{id}/context-switches
func (h *Handler) AddContextSwitches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ContextSwitchesRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.tracker.AddContextSwitches(r.Context(), id, req.Delta)
	if HandleError(w, h.logger, err) {
		return
	}

	WithWarnings(w, http.StatusOK, RunFromDomain(res.Run), res.Warnings)
}

// AddStep добавляет шаг к run.
// POST /api/v1/runs/{id}/steps
func (h *Handler) AddStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req StepRequest
	if !decode(w, r, &req) {
		return
	}
	step, err := req.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	var res *tracker.Result
	if req.Order == nil {
		res, err = h.tracker.AppendStep(r.Context(), id, step)
	} else {
		res, err = h.tracker.AddStep(r.Context(), id, step)
	}
	if HandleError(w, h.logger, err) {
		return
	}

	WithWarnings(w, http.StatusCreated, StepFromDomain(*res.Step), res.Warnings)
}

// UpdateStepStatus переводит шаг в новый статус.
// POST /api/v1/runs/{id}/steps/{stepId}/status
func (h *Handler) UpdateStepStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathID(w, r, "stepId")
	if !ok {
		return
	}

	var req StepStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, ok := domain.ParseStepStatus(req.Status)
	if !ok {
		BadRequest(w, "invalid status: "+req.Status)
		return
	}

	res, err := h.tracker.UpdateStepStatus(r.Context(), runID, stepID, tracker.StepUpdate{
		Status:          status,
		At:              derefTime(req.At),
		ContextSwitches: req.ContextSwitches,
	})
	if HandleError(w, h.logger, err) {
		return
	}

	WithWarnings(w, http.StatusOK, RunFromDomain(res.Run), res.Warnings)
}

// RecordIO сохраняет снимок входа или выхода узла.
// POST /api/v1/runs/{id}/io
func (h *Handler) RecordIO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req IORequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.tracker.RecordIO(r.Context(), id, req.ToDomain())
	if HandleError(w, h.logger, err) {
		return
	}

	rec := res.Run.IO[len(res.Run.IO)-1]
	WithWarnings(w, http.StatusCreated, IOFromDomain(rec), res.Warnings)
}

// ValidateRun проверяет сохранённый run.
// GET /api/v1/runs/{id}/validate
func (h *Handler) ValidateRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.tracker.ValidateRun(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, ReportFromTracker(*report))
}

// ValidateDraft проверяет run из тела запроса без сохранения.
// POST /api/v1/validate
func (h *Handler) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !decode(w, r, &req) {
		return
	}

	run, err := req.ToDomain()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	Success(w, ReportFromTracker(h.tracker.Check(run)))
}

// --- Helpers ---

// decode разбирает JSON тело запроса; при ошибке отправляет 400.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// pathID извлекает UUID из пути; при ошибке отправляет 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
