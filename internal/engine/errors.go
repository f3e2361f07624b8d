package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки переходов между статусами.
var (
	// ErrInvalidTransition — запрошенный переход не является допустимым ребром автомата.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingStartTime — завершение без установленного startedAt.
	ErrMissingStartTime = errors.New("missing start time")

	// ErrInvalidTimeRange — completedAt не позже startedAt.
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrMissingTimestamp — переход требует момент времени, а он не передан.
	ErrMissingTimestamp = errors.New("transition timestamp is required")

	// ErrIncompleteSteps — run нельзя завершить, пока есть незавершённые шаги
	// (только при включённой политике RequireAllStepsCompleted).
	ErrIncompleteSteps = errors.New("run has incomplete steps")
)

// Ошибки инвариантов.
var (
	// ErrInvariantViolation — одно или несколько жёстких нарушений инвариантов.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrOwnershipConflict — заданы одновременно user и team владелец.
	// Частный случай ErrInvariantViolation: обычно означает ошибку вызывающей стороны.
	ErrOwnershipConflict = errors.New("ownership conflict")
)

// Entity — сущность, к которой относится переход.
type Entity string

const (
	EntityRun  Entity = "run"
	EntityStep Entity = "step"
)

// TransitionError — ошибка перехода с контекстом.
type TransitionError struct {
	Entity Entity // run или step
	From   string // текущий статус
	To     string // целевой статус
	Err    error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %v", e.Entity, e.From, e.To, e.Err)
}

// Unwrap возвращает базовую ошибку.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

func transitionError(entity Entity, from, to string, err error) *TransitionError {
	return &TransitionError{Entity: entity, From: from, To: to, Err: err}
}

// InvariantError — отказ записи из-за нарушений инвариантов.
//
// errors.Is(err, ErrInvariantViolation) всегда true;
// errors.Is(err, ErrOwnershipConflict) — если среди нарушений есть инвариант 1.
type InvariantError struct {
	Violations Violations
}

// Error реализует интерфейс error.
func (e *InvariantError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invariant violation: " + strings.Join(parts, "; ")
}

// Is сопоставляет ошибку с sentinel-значениями.
func (e *InvariantError) Is(target error) bool {
	switch target {
	case ErrInvariantViolation:
		return true
	case ErrOwnershipConflict:
		return e.Violations.Has(InvariantOwnership)
	default:
		return false
	}
}
