package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	SCHEDULED → IN_PROGRESS → COMPLETED
//	          ↘             ↘ FAILED
//	            FAILED
type RunStatus string

const (
	// RunStatusScheduled — run создан (вручную или по расписанию), но ещё не стартовал.
	RunStatusScheduled RunStatus = "SCHEDULED"

	// RunStatusInProgress — run выполняется.
	RunStatusInProgress RunStatus = "IN_PROGRESS"

	// RunStatusCompleted — run успешно завершён.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — run завершился с ошибкой или был прерван.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус входит в известный набор.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusScheduled, RunStatusInProgress, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// StepStatus — статус выполнения step.
//
// Жизненный цикл:
//
//	PENDING → IN_PROGRESS → COMPLETED
type StepStatus string

const (
	// StepStatusPending — step создан, узел ещё не начал выполняться.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusInProgress — узел выполняется.
	StepStatusInProgress StepStatus = "IN_PROGRESS"

	// StepStatusCompleted — узел выполнен.
	StepStatusCompleted StepStatus = "COMPLETED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted
}

// IsValid проверяет, что статус входит в известный набор.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusCompleted:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// ParseRunStatus парсит строку в RunStatus.
// Второе значение — false, если строка не является известным статусом.
func ParseRunStatus(s string) (RunStatus, bool) {
	status := RunStatus(s)
	return status, status.IsValid()
}

// ParseStepStatus парсит строку в StepStatus.
func ParseStepStatus(s string) (StepStatus, bool) {
	status := StepStatus(s)
	return status, status.IsValid()
}
