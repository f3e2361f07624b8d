package tracker

import (
	"errors"
	"fmt"

	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/repo"
)

// Ошибки трекера.
var (
	// ErrRunNotFound — run не найден.
	ErrRunNotFound = fmt.Errorf("run: %w", repo.ErrNotFound)

	// ErrStepNotFound — шаг не найден в run.
	ErrStepNotFound = fmt.Errorf("step: %w", repo.ErrNotFound)

	// ErrRunFinished — run в финальном статусе, добавлять и менять шаги и IO нельзя.
	ErrRunFinished = errors.New("run is finished")

	// ErrUnknownRelation — неизвестная группа связей для каскадного удаления.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrNegativeDelta — прирост счётчика отрицательный.
	ErrNegativeDelta = errors.New("counter delta must be non-negative")
)

// IsRejection возвращает true для ошибок, вызванных содержимым запроса
// (переход, инвариант, отсутствующая запись), а не сбоем хранилища.
func IsRejection(err error) bool {
	var te *engine.TransitionError
	switch {
	case errors.As(err, &te):
		return true
	case errors.Is(err, engine.ErrInvariantViolation),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, repo.ErrAlreadyExists),
		errors.Is(err, ErrRunFinished),
		errors.Is(err, ErrUnknownRelation),
		errors.Is(err, ErrNegativeDelta):
		return true
	default:
		return false
	}
}
