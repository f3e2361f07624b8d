package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Step — выполнение одного узла workflow внутри run.
//
// Order назначается при создании и больше не меняется;
// уникальность order в пределах run проверяет engine.Validate и ограничение в БД.
type Step struct {
	// ID — уникальный идентификатор step.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run-владелец.
	RunID uuid.UUID `json:"run_id"`

	// Name — имя шага.
	Name string `json:"name"`

	// NodeID — ссылка на узел workflow (непрозрачная).
	NodeID string `json:"node_id,omitempty"`

	// ResourceInID — ссылка на ресурс, внутри которого выполняется узел (непрозрачная).
	ResourceInID string `json:"resource_in_id,omitempty"`

	// Order — позиция шага в run.
	Order int `json:"order"`

	// Status — текущий статус step.
	Status StepStatus `json:"status"`

	// Complexity — вклад шага в сложность run.
	Complexity int `json:"complexity"`

	// ContextSwitches — переключения контекста внутри шага.
	ContextSwitches int `json:"context_switches"`

	// StartedAt — время начала выполнения узла.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время завершения узла.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// TimeElapsed — длительность в миллисекундах.
	TimeElapsed *int64 `json:"time_elapsed_ms,omitempty"`
}

// IsFinished возвращает true, если step завершён.
func (s *Step) IsFinished() bool {
	return s.Status.IsTerminal()
}

// Elapsed возвращает длительность шага.
func (s *Step) Elapsed() time.Duration {
	return elapsed(s.TimeElapsed, s.StartedAt, s.CompletedAt)
}

// Clone возвращает копию step без общих указателей.
func (s Step) Clone() Step {
	s.StartedAt = cloneTime(s.StartedAt)
	s.CompletedAt = cloneTime(s.CompletedAt)
	s.TimeElapsed = cloneInt64(s.TimeElapsed)
	return s
}

// TruncateTimes округляет timestamps шага до TimePrecision.
func (s *Step) TruncateTimes() {
	s.StartedAt = truncateTime(s.StartedAt)
	s.CompletedAt = truncateTime(s.CompletedAt)
}

func sortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}
