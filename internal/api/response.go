package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/tracker"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"

	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeOwnershipConflict  ErrorCode = "OWNERSHIP_CONFLICT"
	ErrCodeRunFinished        ErrorCode = "RUN_FINISHED"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Violations — нарушения инвариантов (для INVARIANT_VIOLATION и OWNERSHIP_CONFLICT).
	Violations engine.Violations `json:"violations,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data     any               `json:"data"`
	Warnings engine.Violations `json:"warnings,omitempty"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// WithWarnings отправляет успешный ответ с предупреждениями (мягкими нарушениями).
func WithWarnings(w http.ResponseWriter, status int, data any, warnings engine.Violations) {
	JSON(w, status, DataResponse{Data: data, Warnings: warnings})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InvalidState отправляет ошибку 422.
func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// Violated отправляет ошибку 422 со списком нарушений.
func Violated(w http.ResponseWriter, code ErrorCode, err *engine.InvariantError) {
	JSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error: ErrorDetail{
			Code:       code,
			Message:    err.Error(),
			Violations: err.Violations,
		},
	})
}

// HandleError преобразует ошибку трекера в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	var invErr *engine.InvariantError
	var trErr *engine.TransitionError

	switch {
	case errors.As(err, &invErr):
		code := ErrCodeInvariantViolation
		if errors.Is(err, engine.ErrOwnershipConflict) {
			code = ErrCodeOwnershipConflict
		}
		Violated(w, code, invErr)
	case errors.As(err, &trErr):
		Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidTransition, trErr.Error())
	case errors.Is(err, tracker.ErrRunNotFound):
		NotFound(w, "run not found")
	case errors.Is(err, tracker.ErrStepNotFound):
		NotFound(w, "step not found")
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, "not found")
	case errors.Is(err, tracker.ErrRunFinished):
		Error(w, http.StatusConflict, ErrCodeRunFinished, err.Error())
	case errors.Is(err, repo.ErrAlreadyExists):
		Conflict(w, err.Error())
	case errors.Is(err, tracker.ErrUnknownRelation), errors.Is(err, tracker.ErrNegativeDelta):
		BadRequest(w, err.Error())
	case errors.Is(err, repo.ErrInvalidState):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
