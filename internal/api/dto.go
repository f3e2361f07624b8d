package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/tracker"
)

// Run DTOs

// CreateRunRequest — запрос на создание run (тот же формат принимает POST /api/v1/validate).
type CreateRunRequest struct {
	ID                  *uuid.UUID      `json:"id,omitempty"`
	Name                string          `json:"name"`
	Status              string          `json:"status,omitempty"`
	IsPrivate           bool            `json:"is_private,omitempty"`
	WasRunAutomatically bool            `json:"was_run_automatically,omitempty"`
	UserID              string          `json:"user_id,omitempty"`
	TeamID              string          `json:"team_id,omitempty"`
	ScheduleID          string          `json:"schedule_id,omitempty"`
	ResourceVersionID   string          `json:"resource_version_id,omitempty"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	TimeElapsedMs       *int64          `json:"time_elapsed_ms,omitempty"`
	CompletedComplexity int             `json:"completed_complexity,omitempty"`
	ContextSwitches     int             `json:"context_switches,omitempty"`
	Data                json.RawMessage `json:"data,omitempty"`
	Steps               []StepRequest   `json:"steps,omitempty"`
	IO                  []IORequest     `json:"io,omitempty"`
}

// ToDomain собирает агрегат run из запроса.
func (req CreateRunRequest) ToDomain() (*domain.Run, error) {
	var status domain.RunStatus
	if req.Status != "" {
		s, ok := domain.ParseRunStatus(req.Status)
		if !ok {
			return nil, fmt.Errorf("unknown run status %q", req.Status)
		}
		status = s
	}

	steps := make([]domain.Step, len(req.Steps))
	for i, sr := range req.Steps {
		if sr.Order == nil {
			return nil, fmt.Errorf("steps[%d]: order is required", i)
		}
		step, err := sr.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps[i] = step
	}

	io := make([]domain.IO, len(req.IO))
	for i, ir := range req.IO {
		io[i] = ir.ToDomain()
	}

	var id uuid.UUID
	if req.ID != nil {
		id = *req.ID
	}

	return domain.NewRun(domain.RunParams{
		ID:                  id,
		Name:                req.Name,
		Status:              status,
		IsPrivate:           req.IsPrivate,
		WasRunAutomatically: req.WasRunAutomatically,
		Owner:               domain.Owner{UserID: req.UserID, TeamID: req.TeamID},
		ScheduleID:          req.ScheduleID,
		ResourceVersionID:   req.ResourceVersionID,
		StartedAt:           req.StartedAt,
		CompletedAt:         req.CompletedAt,
		TimeElapsed:         req.TimeElapsedMs,
		CompletedComplexity: req.CompletedComplexity,
		ContextSwitches:     req.ContextSwitches,
		Data:                req.Data,
	}, steps, io), nil
}

// RunStatusRequest — запрос на смену статуса run.
type RunStatusRequest struct {
	Status string     `json:"status"`
	At     *time.Time `json:"at,omitempty"`
}

// ContextSwitchesRequest — запрос на увеличение счётчика переключений контекста run.
type ContextSwitchesRequest struct {
	Delta int `json:"delta"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID                  uuid.UUID      `json:"id"`
	Name                string         `json:"name"`
	Status              string         `json:"status"`
	IsPrivate           bool           `json:"is_private"`
	WasRunAutomatically bool           `json:"was_run_automatically"`
	UserID              string         `json:"user_id,omitempty"`
	TeamID              string         `json:"team_id,omitempty"`
	ScheduleID          string         `json:"schedule_id,omitempty"`
	ResourceVersionID   string         `json:"resource_version_id,omitempty"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	TimeElapsedMs       *int64         `json:"time_elapsed_ms,omitempty"`
	CompletedComplexity int            `json:"completed_complexity"`
	ContextSwitches     int            `json:"context_switches"`
	Data                any            `json:"data,omitempty"`
	Steps               []StepResponse `json:"steps,omitempty"`
	IO                  []IOResponse   `json:"io,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:                  r.ID,
		Name:                r.Name,
		Status:              string(r.Status),
		IsPrivate:           r.IsPrivate,
		WasRunAutomatically: r.WasRunAutomatically,
		UserID:              r.Owner.UserID,
		TeamID:              r.Owner.TeamID,
		ScheduleID:          r.ScheduleID,
		ResourceVersionID:   r.ResourceVersionID,
		StartedAt:           r.StartedAt,
		CompletedAt:         r.CompletedAt,
		TimeElapsedMs:       r.TimeElapsed,
		CompletedComplexity: r.CompletedComplexity,
		ContextSwitches:     r.ContextSwitches,
		Data:                jsonValue(r.Data),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	for _, s := range r.Steps {
		resp.Steps = append(resp.Steps, StepFromDomain(s))
	}
	for _, rec := range r.IO {
		resp.IO = append(resp.IO, IOFromDomain(rec))
	}
	return resp
}

// Step DTOs

// StepRequest — запрос на добавление шага.
// Order не указан — шаг добавляется в конец run.
type StepRequest struct {
	Name            string     `json:"name"`
	NodeID          string     `json:"node_id,omitempty"`
	ResourceInID    string     `json:"resource_in_id,omitempty"`
	Order           *int       `json:"order,omitempty"`
	Status          string     `json:"status,omitempty"`
	Complexity      int        `json:"complexity,omitempty"`
	ContextSwitches int        `json:"context_switches,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TimeElapsedMs   *int64     `json:"time_elapsed_ms,omitempty"`
}

// ToDomain конвертирует запрос в domain.Step (Order = 0, если не указан).
func (req StepRequest) ToDomain() (domain.Step, error) {
	step := domain.Step{
		Name:            req.Name,
		NodeID:          req.NodeID,
		ResourceInID:    req.ResourceInID,
		Complexity:      req.Complexity,
		ContextSwitches: req.ContextSwitches,
		StartedAt:       req.StartedAt,
		CompletedAt:     req.CompletedAt,
		TimeElapsed:     req.TimeElapsedMs,
	}
	if req.Order != nil {
		step.Order = *req.Order
	}
	if req.Status != "" {
		s, ok := domain.ParseStepStatus(req.Status)
		if !ok {
			return domain.Step{}, fmt.Errorf("unknown step status %q", req.Status)
		}
		step.Status = s
	}
	return step, nil
}

// StepStatusRequest — запрос на смену статуса шага.
type StepStatusRequest struct {
	Status          string     `json:"status"`
	At              *time.Time `json:"at,omitempty"`
	ContextSwitches int        `json:"context_switches,omitempty"`
}

// StepResponse — ответ с шагом.
type StepResponse struct {
	ID              uuid.UUID  `json:"id"`
	RunID           uuid.UUID  `json:"run_id"`
	Name            string     `json:"name"`
	NodeID          string     `json:"node_id,omitempty"`
	ResourceInID    string     `json:"resource_in_id,omitempty"`
	Order           int        `json:"order"`
	Status          string     `json:"status"`
	Complexity      int        `json:"complexity"`
	ContextSwitches int        `json:"context_switches"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	TimeElapsedMs   *int64     `json:"time_elapsed_ms,omitempty"`
}

// StepFromDomain конвертирует domain.Step в StepResponse.
func StepFromDomain(s domain.Step) StepResponse {
	return StepResponse{
		ID:              s.ID,
		RunID:           s.RunID,
		Name:            s.Name,
		NodeID:          s.NodeID,
		ResourceInID:    s.ResourceInID,
		Order:           s.Order,
		Status:          string(s.Status),
		Complexity:      s.Complexity,
		ContextSwitches: s.ContextSwitches,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		TimeElapsedMs:   s.TimeElapsed,
	}
}

// IO DTOs

// IORequest — запрос на запись IO.
type IORequest struct {
	NodeInputName string          `json:"node_input_name"`
	NodeName      string          `json:"node_name"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// ToDomain конвертирует запрос в domain.IO.
func (req IORequest) ToDomain() domain.IO {
	return domain.IO{
		NodeInputName: req.NodeInputName,
		NodeName:      req.NodeName,
		Data:          req.Data,
	}
}

// IOResponse — ответ с записью IO.
type IOResponse struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	NodeInputName string    `json:"node_input_name"`
	NodeName      string    `json:"node_name"`
	Data          any       `json:"data,omitempty"`
}

// IOFromDomain конвертирует domain.IO в IOResponse.
func IOFromDomain(rec domain.IO) IOResponse {
	return IOResponse{
		ID:            rec.ID,
		RunID:         rec.RunID,
		NodeInputName: rec.NodeInputName,
		NodeName:      rec.NodeName,
		Data:          jsonValue(rec.Data),
	}
}

// Validation DTOs

// ReportResponse — результат проверки run.
type ReportResponse struct {
	RunID      uuid.UUID         `json:"run_id"`
	Valid      bool              `json:"valid"`
	Violations engine.Violations `json:"violations"`
	Drift      DriftResponse     `json:"drift"`
	Summary    engine.Summary    `json:"summary"`
}

// DriftResponse — расхождение агрегатов.
type DriftResponse struct {
	engine.Drift
	HasDrift bool `json:"has_drift"`
}

// ReportFromTracker конвертирует tracker.Report в ReportResponse.
func ReportFromTracker(r tracker.Report) ReportResponse {
	resp := ReportResponse{
		Valid:      r.Valid(),
		Violations: r.Violations,
		Drift:      DriftResponse{Drift: r.Drift, HasDrift: r.Drift.HasDrift()},
		Summary:    r.Summary,
	}
	if r.Run != nil {
		resp.RunID = r.Run.ID
	}
	return resp
}

// jsonValue возвращает payload для ответа.
// Невалидный JSON (исторические данные) отдаётся строкой, чтобы не ломать сериализацию ответа.
func jsonValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return string(raw)
	}
	return raw
}
