package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Invariant — номер инварианта run.
type Invariant int

// Инварианты агрегата run.
const (
	InvariantOwnership          Invariant = 1  // владелец не может быть одновременно user и team
	InvariantScheduledNoStart   Invariant = 2  // SCHEDULED → startedAt не задан
	InvariantInProgressStarted  Invariant = 3  // IN_PROGRESS → startedAt задан
	InvariantCompletedHasEnd    Invariant = 4  // COMPLETED → completedAt задан
	InvariantTimeRange          Invariant = 5  // startedAt < completedAt
	InvariantNonNegative        Invariant = 6  // счётчики неотрицательны
	InvariantValidJSON          Invariant = 7  // data — валидный JSON
	InvariantUniqueStepOrder    Invariant = 8  // order уникален в пределах run
	InvariantStepTimeRange      Invariant = 9  // step: startedAt < completedAt
	InvariantStepCompletedAtSet Invariant = 10 // step COMPLETED → completedAt задан
	InvariantAllStepsCompleted  Invariant = 11 // политика: COMPLETED run → все шаги COMPLETED
	InvariantKnownStatus        Invariant = 12 // статусы run и шагов из закрытого набора
)

// Kind — тег вида нарушения (закрытый набор).
type Kind string

const (
	KindOwnershipConflict      Kind = "ownership_conflict"
	KindScheduledHasStart      Kind = "scheduled_has_start"
	KindInProgressMissingStart Kind = "in_progress_missing_start"
	KindCompletedMissingEnd    Kind = "completed_missing_end"
	KindInvalidTimeRange       Kind = "invalid_time_range"
	KindNegativeCounter        Kind = "negative_counter"
	KindInvalidJSON            Kind = "invalid_json"
	KindDuplicateStepOrder     Kind = "duplicate_step_order"
	KindStepInvalidTimeRange   Kind = "step_invalid_time_range"
	KindStepCompletedMissing   Kind = "step_completed_missing_end"
	KindIncompleteSteps        Kind = "incomplete_steps"
	KindUnknownStatus          Kind = "unknown_status"
)

// Severity — насколько критично нарушение.
type Severity string

const (
	// SeverityHard — запись с таким нарушением отклоняется.
	SeverityHard Severity = "hard"

	// SeveritySoft — нарушение возвращается как предупреждение
	// (встречается в исторических и back-filled данных).
	SeveritySoft Severity = "soft"
)

// invariantKinds связывает инвариант с его тегом.
var invariantKinds = map[Invariant]Kind{
	InvariantOwnership:          KindOwnershipConflict,
	InvariantScheduledNoStart:   KindScheduledHasStart,
	InvariantInProgressStarted:  KindInProgressMissingStart,
	InvariantCompletedHasEnd:    KindCompletedMissingEnd,
	InvariantTimeRange:          KindInvalidTimeRange,
	InvariantNonNegative:        KindNegativeCounter,
	InvariantValidJSON:          KindInvalidJSON,
	InvariantUniqueStepOrder:    KindDuplicateStepOrder,
	InvariantStepTimeRange:      KindStepInvalidTimeRange,
	InvariantStepCompletedAtSet: KindStepCompletedMissing,
	InvariantAllStepsCompleted:  KindIncompleteSteps,
	InvariantKnownStatus:        KindUnknownStatus,
}

// Kind возвращает тег инварианта.
func (i Invariant) Kind() Kind {
	return invariantKinds[i]
}

// Severity возвращает критичность инварианта по умолчанию.
func (i Invariant) Severity() Severity {
	switch i {
	case InvariantValidJSON, InvariantStepTimeRange, InvariantStepCompletedAtSet:
		return SeveritySoft
	default:
		return SeverityHard
	}
}

// Violation — одно нарушение инварианта.
type Violation struct {
	Invariant Invariant  `json:"invariant"`
	Kind      Kind       `json:"kind"`
	Severity  Severity   `json:"severity"`
	Field     string     `json:"field"`
	Expected  string     `json:"expected,omitempty"`
	Actual    string     `json:"actual,omitempty"`
	StepID    *uuid.UUID `json:"step_id,omitempty"`
}

// String возвращает человекочитаемое описание.
func (v Violation) String() string {
	s := fmt.Sprintf("#%d %s: %s", v.Invariant, v.Kind, v.Field)
	if v.Expected != "" || v.Actual != "" {
		s += fmt.Sprintf(" (expected %s, got %s)", v.Expected, v.Actual)
	}
	return s
}

// Violations — упорядоченный список нарушений.
type Violations []Violation

// Has проверяет, нарушен ли инвариант.
func (vs Violations) Has(inv Invariant) bool {
	for _, v := range vs {
		if v.Invariant == inv {
			return true
		}
	}
	return false
}

// Hard возвращает жёсткие нарушения.
func (vs Violations) Hard() Violations {
	return vs.filter(SeverityHard)
}

// Soft возвращает мягкие нарушения.
func (vs Violations) Soft() Violations {
	return vs.filter(SeveritySoft)
}

func (vs Violations) filter(sev Severity) Violations {
	var out Violations
	for _, v := range vs {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// Err возвращает *InvariantError для непустого списка или nil.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	return &InvariantError{Violations: vs}
}
