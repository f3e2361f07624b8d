package engine

import "github.com/shaiso/Runtrack/internal/domain"

// RecomputeComplexity возвращает сумму complexity завершённых шагов.
//
// Хранимое значение Run.CompletedComplexity остаётся авторитетным
// (оно пишется явно при завершении шагов); эта функция нужна для проверки и поиска расхождений.
func RecomputeComplexity(run *domain.Run) int {
	total := 0
	for i := range run.Steps {
		if run.Steps[i].Status == domain.StepStatusCompleted {
			total += run.Steps[i].Complexity
		}
	}
	return total
}

// RecomputeContextSwitches возвращает сумму переключений контекста по всем шагам.
func RecomputeContextSwitches(run *domain.Run) int {
	total := 0
	for i := range run.Steps {
		total += run.Steps[i].ContextSwitches
	}
	return total
}

// Summary — статистика шагов run.
type Summary struct {
	TotalSteps      int `json:"total_steps"`
	PendingSteps    int `json:"pending_steps"`
	InProgressSteps int `json:"in_progress_steps"`
	CompletedSteps  int `json:"completed_steps"`
	TotalComplexity int `json:"total_complexity"`
	IORecords       int `json:"io_records"`
}

// Summarize считает статистику шагов run.
func Summarize(run *domain.Run) Summary {
	s := Summary{
		TotalSteps: len(run.Steps),
		IORecords:  len(run.IO),
	}
	for i := range run.Steps {
		s.TotalComplexity += run.Steps[i].Complexity
		switch run.Steps[i].Status {
		case domain.StepStatusPending:
			s.PendingSteps++
		case domain.StepStatusInProgress:
			s.InProgressSteps++
		case domain.StepStatusCompleted:
			s.CompletedSteps++
		}
	}
	return s
}

// Drift — расхождение хранимых агрегатов с пересчитанными.
type Drift struct {
	StoredComplexity     int `json:"stored_complexity"`
	RecomputedComplexity int `json:"recomputed_complexity"`

	// Переключения контекста run могут превышать сумму по шагам
	// (переключения на уровне run), поэтому расхождением считается только Stored < Recomputed.
	StoredContextSwitches     int `json:"stored_context_switches"`
	RecomputedContextSwitches int `json:"recomputed_context_switches"`
}

// DetectDrift сравнивает хранимые агрегаты с пересчитанными.
func DetectDrift(run *domain.Run) Drift {
	return Drift{
		StoredComplexity:          run.CompletedComplexity,
		RecomputedComplexity:      RecomputeComplexity(run),
		StoredContextSwitches:     run.ContextSwitches,
		RecomputedContextSwitches: RecomputeContextSwitches(run),
	}
}

// ComplexityDelta — Stored - Recomputed.
func (d Drift) ComplexityDelta() int {
	return d.StoredComplexity - d.RecomputedComplexity
}

// HasDrift возвращает true, если агрегаты расходятся.
func (d Drift) HasDrift() bool {
	return d.StoredComplexity != d.RecomputedComplexity ||
		d.StoredContextSwitches < d.RecomputedContextSwitches
}
