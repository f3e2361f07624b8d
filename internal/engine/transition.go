package engine

import (
	"time"

	"github.com/shaiso/Runtrack/internal/domain"
)

// runEdges — допустимые переходы run.
//
//	SCHEDULED   → IN_PROGRESS | FAILED
//	IN_PROGRESS → COMPLETED   | FAILED
//
// Из COMPLETED и FAILED переходов нет.
var runEdges = map[domain.RunStatus][]domain.RunStatus{
	domain.RunStatusScheduled:  {domain.RunStatusInProgress, domain.RunStatusFailed},
	domain.RunStatusInProgress: {domain.RunStatusCompleted, domain.RunStatusFailed},
}

// stepEdges — допустимые переходы step.
var stepEdges = map[domain.StepStatus][]domain.StepStatus{
	domain.StepStatusPending:    {domain.StepStatusInProgress},
	domain.StepStatusInProgress: {domain.StepStatusCompleted},
}

// CanTransitionRun проверяет, является ли from → to ребром автомата run.
func CanTransitionRun(from, to domain.RunStatus) bool {
	for _, s := range runEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionStep проверяет, является ли from → to ребром автомата step.
func CanTransitionStep(from, to domain.StepStatus) bool {
	for _, s := range stepEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRun переводит run в статус to в момент at.
//
// Функция чистая: исходный run не меняется, возвращается изменённая копия.
// Сохранение — ответственность вызывающего кода, поэтому ту же логику
// можно использовать в режиме dry run.
//
// Порядок проверок:
//  1. из финального статуса переходов нет — ErrInvalidTransition;
//  2. COMPLETED без startedAt — ErrMissingStartTime;
//  3. ребро from → to должно существовать — ErrInvalidTransition;
//  4. completedAt должен быть строго позже startedAt — ErrInvalidTimeRange;
//  5. политика RequireAllStepsCompleted — ErrIncompleteSteps.
//
// Для FAILED нулевой at означает «completedAt не устанавливать».
func TransitionRun(run *domain.Run, to domain.RunStatus, at time.Time, policy Policy) (*domain.Run, error) {
	from := run.Status
	fail := func(err error) (*domain.Run, error) {
		return nil, transitionError(EntityRun, string(from), string(to), err)
	}

	if from.IsTerminal() || !to.IsValid() {
		return fail(ErrInvalidTransition)
	}
	if to == domain.RunStatusCompleted && run.StartedAt == nil {
		return fail(ErrMissingStartTime)
	}
	if !CanTransitionRun(from, to) {
		return fail(ErrInvalidTransition)
	}

	next := run.Clone()
	next.Status = to

	switch to {
	case domain.RunStatusInProgress:
		if next.StartedAt == nil {
			if at.IsZero() {
				return fail(ErrMissingTimestamp)
			}
			next.StartedAt = utcPtr(at)
		}

	case domain.RunStatusCompleted:
		if at.IsZero() {
			return fail(ErrMissingTimestamp)
		}
		if !at.After(*next.StartedAt) {
			return fail(ErrInvalidTimeRange)
		}
		if policy.RequireAllStepsCompleted {
			for i := range next.Steps {
				if next.Steps[i].Status != domain.StepStatusCompleted {
					return fail(ErrIncompleteSteps)
				}
			}
		}
		next.CompletedAt = utcPtr(at)
		if next.TimeElapsed == nil {
			next.TimeElapsed = elapsedMillis(*next.StartedAt, at)
		}

	case domain.RunStatusFailed:
		if !at.IsZero() {
			if next.StartedAt != nil && !at.After(*next.StartedAt) {
				return fail(ErrInvalidTimeRange)
			}
			next.CompletedAt = utcPtr(at)
			if next.StartedAt != nil && next.TimeElapsed == nil {
				next.TimeElapsed = elapsedMillis(*next.StartedAt, at)
			}
		}
	}

	return next, nil
}

// TransitionStep переводит step в статус to в момент at.
// Как и TransitionRun, возвращает изменённую копию.
func TransitionStep(step domain.Step, to domain.StepStatus, at time.Time) (domain.Step, error) {
	from := step.Status
	fail := func(err error) (domain.Step, error) {
		return domain.Step{}, transitionError(EntityStep, string(from), string(to), err)
	}

	if from.IsTerminal() || !to.IsValid() {
		return fail(ErrInvalidTransition)
	}
	if to == domain.StepStatusCompleted && step.StartedAt == nil {
		return fail(ErrMissingStartTime)
	}
	if !CanTransitionStep(from, to) {
		return fail(ErrInvalidTransition)
	}
	if at.IsZero() {
		return fail(ErrMissingTimestamp)
	}

	next := step.Clone()
	next.Status = to

	switch to {
	case domain.StepStatusInProgress:
		if next.StartedAt == nil {
			next.StartedAt = utcPtr(at)
		}

	case domain.StepStatusCompleted:
		if !at.After(*next.StartedAt) {
			return fail(ErrInvalidTimeRange)
		}
		next.CompletedAt = utcPtr(at)
		if next.TimeElapsed == nil {
			next.TimeElapsed = elapsedMillis(*next.StartedAt, at)
		}
	}

	return next, nil
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func elapsedMillis(from, to time.Time) *int64 {
	ms := to.Sub(from).Milliseconds()
	return &ms
}
