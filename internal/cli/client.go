package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Status              string          `json:"status"`
	IsPrivate           bool            `json:"is_private"`
	WasRunAutomatically bool            `json:"was_run_automatically"`
	UserID              string          `json:"user_id,omitempty"`
	TeamID              string          `json:"team_id,omitempty"`
	ScheduleID          string          `json:"schedule_id,omitempty"`
	ResourceVersionID   string          `json:"resource_version_id,omitempty"`
	StartedAt           string          `json:"started_at,omitempty"`
	CompletedAt         string          `json:"completed_at,omitempty"`
	TimeElapsedMs       *int64          `json:"time_elapsed_ms,omitempty"`
	CompletedComplexity int             `json:"completed_complexity"`
	ContextSwitches     int             `json:"context_switches"`
	Data                json.RawMessage `json:"data,omitempty"`
	Steps               []StepResponse  `json:"steps,omitempty"`
	IO                  []IOResponse    `json:"io,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// Owner возвращает владельца run в виде user:ID или team:ID.
func (r RunResponse) Owner() string {
	switch {
	case r.UserID != "" && r.TeamID != "":
		return "user:" + r.UserID + ",team:" + r.TeamID
	case r.UserID != "":
		return "user:" + r.UserID
	case r.TeamID != "":
		return "team:" + r.TeamID
	default:
		return "-"
	}
}

// Elapsed возвращает длительность run в человекочитаемом виде.
func (r RunResponse) Elapsed() string {
	return formatElapsed(r.TimeElapsedMs)
}

// StepResponse — шаг из API.
type StepResponse struct {
	ID              string `json:"id"`
	RunID           string `json:"run_id"`
	Name            string `json:"name"`
	NodeID          string `json:"node_id,omitempty"`
	ResourceInID    string `json:"resource_in_id,omitempty"`
	Order           int    `json:"order"`
	Status          string `json:"status"`
	Complexity      int    `json:"complexity"`
	ContextSwitches int    `json:"context_switches"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	TimeElapsedMs   *int64 `json:"time_elapsed_ms,omitempty"`
}

// IOResponse — запись IO из API.
type IOResponse struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	NodeInputName string          `json:"node_input_name"`
	NodeName      string          `json:"node_name"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Violation — нарушение инварианта из API.
type Violation struct {
	Invariant int    `json:"invariant"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Field     string `json:"field"`
	Expected  string `json:"expected,omitempty"`
	Actual    string `json:"actual,omitempty"`
	StepID    string `json:"step_id,omitempty"`
}

// String возвращает нарушение одной строкой.
func (v Violation) String() string {
	s := fmt.Sprintf("[%s] #%d %s: %s", v.Severity, v.Invariant, v.Kind, v.Field)
	if v.Expected != "" || v.Actual != "" {
		s += fmt.Sprintf(" (expected %s, got %s)", v.Expected, v.Actual)
	}
	return s
}

// ReportResponse — результат проверки run.
type ReportResponse struct {
	RunID      string      `json:"run_id"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
	Drift      struct {
		StoredComplexity          int  `json:"stored_complexity"`
		RecomputedComplexity      int  `json:"recomputed_complexity"`
		StoredContextSwitches     int  `json:"stored_context_switches"`
		RecomputedContextSwitches int  `json:"recomputed_context_switches"`
		HasDrift                  bool `json:"has_drift"`
	} `json:"drift"`
	Summary struct {
		TotalSteps     int `json:"total_steps"`
		CompletedSteps int `json:"completed_steps"`
	} `json:"summary"`
}

// DeleteResult — результат удаления run.
type DeleteResult struct {
	RunID        string   `json:"run_id"`
	Relations    []string `json:"relations,omitempty"`
	StepChildren int64    `json:"step_children"`
	Steps        int64    `json:"steps"`
	IO           int64    `json:"io"`
	RunDeleted   bool     `json:"run_deleted"`
}

// --- Request types ---

// RunStatusRequest — смена статуса run.
type RunStatusRequest struct {
	Status string     `json:"status"`
	At     *time.Time `json:"at,omitempty"`
}

// StepStatusRequest — смена статуса шага.
type StepStatusRequest struct {
	Status          string     `json:"status"`
	At              *time.Time `json:"at,omitempty"`
	ContextSwitches int        `json:"context_switches,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Statuses     []string
	UpdatedSince string
	Limit        int
	Offset       int
}

// --- API response wrappers ---

type dataResponse struct {
	Data     json.RawMessage `json:"data"`
	Warnings []Violation     `json:"warnings"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code       string      `json:"code"`
		Message    string      `json:"message"`
		Violations []Violation `json:"violations"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Violations []Violation
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = "  " + v.String()
	}
	return fmt.Sprintf("%s: %s\n%s", e.Code, e.Message, strings.Join(lines, "\n"))
}

// --- Client ---

// Client — HTTP-клиент для Runtrack API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	for _, s := range opts.Statuses {
		params.Add("status", s)
	}
	if opts.UpdatedSince != "" {
		params.Set("updated_since", opts.UpdatedSince)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run из JSON-описания (формат api.CreateRunRequest).
func (c *Client) CreateRun(ctx context.Context, body json.RawMessage) (*RunResponse, []Violation, error) {
	var run RunResponse
	warnings, err := c.doData(ctx, http.MethodPost, "/api/v1/runs", body, &run)
	return &run, warnings, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	_, err := c.doData(ctx, http.MethodGet, "/api/v1/runs/"+id, nil, &run)
	return &run, err
}

// UpdateRunStatus переводит run в новый статус.
func (c *Client) UpdateRunStatus(ctx context.Context, id string, req RunStatusRequest) (*RunResponse, []Violation, error) {
	var run RunResponse
	warnings, err := c.doData(ctx, http.MethodPost, "/api/v1/runs/"+id+"/status", req, &run)
	return &run, warnings, err
}

// AddContextSwitches увеличивает счётчик переключений контекста run.
func (c *Client) AddContextSwitches(ctx context.Context, id string, delta int) (*RunResponse, error) {
	var run RunResponse
	_, err := c.doData(ctx, http.MethodPost, "/api/v1/runs/"+id+"/context-switches", map[string]int{"delta": delta}, &run)
	return &run, err
}

// DeleteRun удаляет run; непустой include ограничивает удаление группами связей.
func (c *Client) DeleteRun(ctx context.Context, id string, include []string) (*DeleteResult, error) {
	path := "/api/v1/runs/" + id
	if len(include) > 0 {
		path += "?" + url.Values{"include": {strings.Join(include, ",")}}.Encode()
	}

	var res DeleteResult
	_, err := c.doData(ctx, http.MethodDelete, path, nil, &res)
	return &res, err
}

// ValidateRun проверяет сохранённый run.
func (c *Client) ValidateRun(ctx context.Context, id string) (*ReportResponse, error) {
	var report ReportResponse
	_, err := c.doData(ctx, http.MethodGet, "/api/v1/runs/"+id+"/validate", nil, &report)
	return &report, err
}

// ValidateDraft проверяет run без сохранения.
func (c *Client) ValidateDraft(ctx context.Context, body json.RawMessage) (*ReportResponse, error) {
	var report ReportResponse
	_, err := c.doData(ctx, http.MethodPost, "/api/v1/validate", body, &report)
	return &report, err
}

// --- Steps and IO ---

// AddStep добавляет шаг к run (формат api.StepRequest).
func (c *Client) AddStep(ctx context.Context, runID string, body json.RawMessage) (*StepResponse, []Violation, error) {
	var step StepResponse
	warnings, err := c.doData(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/steps", body, &step)
	return &step, warnings, err
}

// UpdateStepStatus переводит шаг в новый статус.
func (c *Client) UpdateStepStatus(ctx context.Context, runID, stepID string, req StepStatusRequest) (*RunResponse, []Violation, error) {
	var run RunResponse
	warnings, err := c.doData(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/steps/"+stepID+"/status", req, &run)
	return &run, warnings, err
}

// RecordIO сохраняет запись IO (формат api.IORequest).
func (c *Client) RecordIO(ctx context.Context, runID string, body json.RawMessage) (*IOResponse, error) {
	var rec IOResponse
	_, err := c.doData(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/io", body, &rec)
	return &rec, err
}

// --- HTTP helpers ---

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) ([]Violation, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		if err := json.Unmarshal(dr.Data, result); err != nil {
			return nil, fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return dr.Warnings, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
		apiErr.Violations = er.Error.Violations
	}
	return apiErr
}

func formatElapsed(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}
