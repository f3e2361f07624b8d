package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		MaxBody(h.maxBodyBytes),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("DELETE /api/v1/runs/{id}", chain(http.HandlerFunc(h.DeleteRun)))
	mux.Handle("POST /api/v1/runs/{id}/status", chain(http.HandlerFunc(h.UpdateRunStatus)))
	mux.Handle("POST /api/v1/runs/{id}/context-switches", chain(http.HandlerFunc(h.AddContextSwitches)))

	// Steps
	mux.Handle("POST /api/v1/runs/{id}/steps", chain(http.HandlerFunc(h.AddStep)))
	mux.Handle("POST /api/v1/runs/{id}/steps/{stepId}/status", chain(http.HandlerFunc(h.UpdateStepStatus)))

	// IO
	mux.Handle("POST /api/v1/runs/{id}/io", chain(http.HandlerFunc(h.RecordIO)))

	// Validation
	mux.Handle("GET /api/v1/runs/{id}/validate", chain(http.HandlerFunc(h.ValidateRun)))
	mux.Handle("POST /api/v1/validate", chain(http.HandlerFunc(h.ValidateDraft)))
}
