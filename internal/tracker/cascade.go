package tracker

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/repo"
)

// Relation — группа дочерних записей run.
type Relation string

const (
	RelationSteps Relation = "steps"
	RelationIO    Relation = "io"
)

// ParseRelations разбирает имена групп связей. Пустые элементы пропускаются.
func ParseRelations(names []string) ([]Relation, error) {
	var out []Relation
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		rel := Relation(name)
		switch rel {
		case RelationSteps, RelationIO:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownRelation, name)
		}
		if !slices.Contains(out, rel) {
			out = append(out, rel)
		}
	}
	return out, nil
}

// StepChildDeleter удаляет записи, зависящие от шагов run.
// Вызывается до удаления самих шагов; возвращает число удалённых записей.
type StepChildDeleter func(ctx context.Context, tx repo.Tx, runID uuid.UUID) (int64, error)

// DeleteResult — итог каскадного удаления.
type DeleteResult struct {
	RunID        uuid.UUID  `json:"run_id"`
	Relations    []Relation `json:"relations,omitempty"`
	StepChildren int64      `json:"step_children"`
	Steps        int64      `json:"steps"`
	IO           int64      `json:"io"`
	RunDeleted   bool       `json:"run_deleted"`
}

// CascadeDeleter удаляет run и его дочерние записи в порядке зависимостей:
// потомки шагов → шаги → IO → сам run.
type CascadeDeleter struct {
	stepChildren []StepChildDeleter
}

// NewCascadeDeleter создаёт CascadeDeleter с обработчиками потомков шагов.
func NewCascadeDeleter(stepChildren ...StepChildDeleter) *CascadeDeleter {
	return &CascadeDeleter{stepChildren: stepChildren}
}

// Delete выполняет удаление внутри переданной транзакции.
//
// Пустой includeOnly удаляет всё, включая сам run.
// Непустой ограничивает удаление перечисленными группами; run остаётся.
// Любая ошибка прерывает удаление: откат выполняет владелец транзакции.
func (d *CascadeDeleter) Delete(ctx context.Context, tx repo.Tx, runID uuid.UUID, includeOnly []Relation) (DeleteResult, error) {
	res := DeleteResult{RunID: runID, Relations: includeOnly}

	for _, rel := range includeOnly {
		if rel != RelationSteps && rel != RelationIO {
			return res, fmt.Errorf("%w: %q", ErrUnknownRelation, rel)
		}
	}
	all := len(includeOnly) == 0
	want := func(rel Relation) bool {
		return all || slices.Contains(includeOnly, rel)
	}

	if want(RelationSteps) {
		for _, del := range d.stepChildren {
			n, err := del(ctx, tx, runID)
			if err != nil {
				return res, fmt.Errorf("delete step children: %w", err)
			}
			res.StepChildren += n
		}

		n, err := tx.DeleteSteps(ctx, runID)
		if err != nil {
			return res, fmt.Errorf("delete steps: %w", err)
		}
		res.Steps = n
	}

	if want(RelationIO) {
		n, err := tx.DeleteIO(ctx, runID)
		if err != nil {
			return res, fmt.Errorf("delete io: %w", err)
		}
		res.IO = n
	}

	if all {
		if err := tx.DeleteRun(ctx, runID); err != nil {
			return res, fmt.Errorf("delete run: %w", err)
		}
		res.RunDeleted = true
	}

	return res, nil
}
