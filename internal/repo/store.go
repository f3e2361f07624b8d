package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
)

// Tx — операции над агрегатом run внутри одной транзакции.
//
// Все методы работают с плоскими строками таблиц: связывание run со шагами и IO
// выполняется явно вызывающим кодом (tracker), а не неявно хранилищем.
type Tx interface {
	// GetRun возвращает run вместе с шагами (по order) и IO.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// GetRunForUpdate — то же, что GetRun, но блокирует строку run до конца транзакции.
	GetRunForUpdate(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// ListRuns возвращает runs без дочерних записей.
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	InsertRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	DeleteRun(ctx context.Context, id uuid.UUID) error

	InsertStep(ctx context.Context, step *domain.Step) error
	UpdateStep(ctx context.Context, step *domain.Step) error
	DeleteSteps(ctx context.Context, runID uuid.UUID) (int64, error)

	InsertIO(ctx context.Context, rec *domain.IO) error
	DeleteIO(ctx context.Context, runID uuid.UUID) (int64, error)
}

// UnitOfWork — способность выполнить набор операций атомарно.
//
// Если fn возвращает ошибку, транзакция откатывается и ошибка возвращается как есть.
// Ошибки begin/commit оборачиваются в ErrTransactionFailed.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	// Statuses — допустимые статусы (пусто — любые).
	Statuses []domain.RunStatus

	// UpdatedSince — только runs, изменённые не раньше этого момента.
	UpdatedSince *time.Time

	Limit  int
	Offset int
}

// DefaultListLimit — лимит по умолчанию для ListRuns.
const DefaultListLimit = 50

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f RunFilter) statusStrings() []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullData возвращает nil для пустого payload.
func nullData(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
