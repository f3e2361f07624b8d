package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
)

// Policy — настраиваемые правила валидации и переходов.
type Policy struct {
	// RequireAllStepsCompleted — run может перейти в COMPLETED,
	// только если все его шаги COMPLETED (инвариант 11).
	RequireAllStepsCompleted bool `yaml:"require_all_steps_completed"`

	// SoftAsHard — мягкие нарушения (7, 9, 10) считаются жёсткими.
	SoftAsHard bool `yaml:"soft_invariants_fatal"`
}

// Validator проверяет инварианты полностью загруженного run.
//
// Validate не возвращает ошибок и не имеет побочных эффектов:
// безопасно вызывать повторно и конкурентно на неизменяемых снимках.
type Validator struct {
	Policy Policy
}

// Validate проверяет run с политикой по умолчанию.
func Validate(run *domain.Run) Violations {
	return Validator{}.Validate(run)
}

// Validate возвращает нарушения, упорядоченные по номеру инварианта,
// внутри инварианта — по order шага.
func (v Validator) Validate(run *domain.Run) Violations {
	if run == nil {
		return nil
	}

	c := collector{softAsHard: v.Policy.SoftAsHard}
	steps := stepsByOrder(run.Steps)

	// 1. Владелец
	if run.Owner.IsConflicting() {
		c.add(InvariantOwnership, "owner", "user_id or team_id",
			fmt.Sprintf("user_id=%s team_id=%s", run.Owner.UserID, run.Owner.TeamID), nil)
	}

	// 2–4. Статус и timestamps
	switch run.Status {
	case domain.RunStatusScheduled:
		if run.StartedAt != nil {
			c.add(InvariantScheduledNoStart, "started_at", "unset", formatTime(run.StartedAt), nil)
		}
	case domain.RunStatusInProgress:
		if run.StartedAt == nil {
			c.add(InvariantInProgressStarted, "started_at", "set", "unset", nil)
		}
	case domain.RunStatusCompleted:
		if run.CompletedAt == nil {
			c.add(InvariantCompletedHasEnd, "completed_at", "set", "unset", nil)
		}
	}

	// 5. Временной интервал run
	if !validRange(run.StartedAt, run.CompletedAt) {
		c.add(InvariantTimeRange, "completed_at", "after "+formatTime(run.StartedAt), formatTime(run.CompletedAt), nil)
	}

	// 6. Счётчики run и шагов
	if run.CompletedComplexity < 0 {
		c.add(InvariantNonNegative, "completed_complexity", ">= 0", strconv.Itoa(run.CompletedComplexity), nil)
	}
	if run.ContextSwitches < 0 {
		c.add(InvariantNonNegative, "context_switches", ">= 0", strconv.Itoa(run.ContextSwitches), nil)
	}
	if run.TimeElapsed != nil && *run.TimeElapsed < 0 {
		c.add(InvariantNonNegative, "time_elapsed_ms", ">= 0", strconv.FormatInt(*run.TimeElapsed, 10), nil)
	}
	for _, s := range steps {
		if s.Complexity < 0 {
			c.add(InvariantNonNegative, stepField(s, "complexity"), ">= 0", strconv.Itoa(s.Complexity), &s.ID)
		}
		if s.ContextSwitches < 0 {
			c.add(InvariantNonNegative, stepField(s, "context_switches"), ">= 0", strconv.Itoa(s.ContextSwitches), &s.ID)
		}
		if s.TimeElapsed != nil && *s.TimeElapsed < 0 {
			c.add(InvariantNonNegative, stepField(s, "time_elapsed_ms"), ">= 0", strconv.FormatInt(*s.TimeElapsed, 10), &s.ID)
		}
	}

	// 7. JSON payloads
	if len(run.Data) > 0 && !json.Valid(run.Data) {
		c.add(InvariantValidJSON, "data", "valid JSON", truncate(string(run.Data)), nil)
	}
	for i, rec := range run.IO {
		if len(rec.Data) > 0 && !json.Valid(rec.Data) {
			c.add(InvariantValidJSON, fmt.Sprintf("io[%d].data", i), "valid JSON", truncate(string(rec.Data)), nil)
		}
	}

	// 8. Уникальность order: одно нарушение на каждое повторяющееся значение
	for _, dup := range duplicateOrders(steps) {
		c.add(InvariantUniqueStepOrder, "steps.order", "unique",
			fmt.Sprintf("%d (x%d)", dup.order, dup.count), nil)
	}

	// 9. Временной интервал шагов
	for _, s := range steps {
		if !validRange(s.StartedAt, s.CompletedAt) {
			c.add(InvariantStepTimeRange, stepField(s, "completed_at"), "after "+formatTime(s.StartedAt), formatTime(s.CompletedAt), &s.ID)
		}
	}

	// 10. Завершённые шаги
	for _, s := range steps {
		if s.Status == domain.StepStatusCompleted && s.CompletedAt == nil {
			c.add(InvariantStepCompletedAtSet, stepField(s, "completed_at"), "set", "unset", &s.ID)
		}
	}

	// 11. Политика полного завершения
	if v.Policy.RequireAllStepsCompleted && run.Status == domain.RunStatusCompleted {
		for _, s := range steps {
			if s.Status != domain.StepStatusCompleted {
				c.add(InvariantAllStepsCompleted, stepField(s, "status"), string(domain.StepStatusCompleted), string(s.Status), &s.ID)
			}
		}
	}

	// 12. Статусы из закрытого набора
	if !run.Status.IsValid() {
		c.add(InvariantKnownStatus, "status", "SCHEDULED|IN_PROGRESS|COMPLETED|FAILED", string(run.Status), nil)
	}
	for _, s := range steps {
		if !s.Status.IsValid() {
			c.add(InvariantKnownStatus, stepField(s, "status"), "PENDING|IN_PROGRESS|COMPLETED", string(s.Status), &s.ID)
		}
	}

	return c.out
}

// --- Helpers ---

type collector struct {
	softAsHard bool
	out        Violations
}

func (c *collector) add(inv Invariant, field, expected, actual string, stepID *uuid.UUID) {
	sev := inv.Severity()
	if c.softAsHard {
		sev = SeverityHard
	}

	var id *uuid.UUID
	if stepID != nil {
		v := *stepID
		id = &v
	}

	c.out = append(c.out, Violation{
		Invariant: inv,
		Kind:      inv.Kind(),
		Severity:  sev,
		Field:     field,
		Expected:  expected,
		Actual:    actual,
		StepID:    id,
	})
}

// validRange возвращает false только если заданы оба момента и started >= completed.
func validRange(started, completed *time.Time) bool {
	if started == nil || completed == nil {
		return true
	}
	return started.Before(*completed)
}

// stepsByOrder возвращает копию шагов, стабильно отсортированную по order.
// Исходный срез не меняется.
func stepsByOrder(steps []domain.Step) []domain.Step {
	sorted := make([]domain.Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

type orderCount struct {
	order int
	count int
}

// duplicateOrders ожидает шаги, отсортированные по order.
func duplicateOrders(sorted []domain.Step) []orderCount {
	var dups []orderCount
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Order == sorted[i].Order {
			j++
		}
		if j-i > 1 {
			dups = append(dups, orderCount{order: sorted[i].Order, count: j - i})
		}
		i = j
	}
	return dups
}

func stepField(s domain.Step, field string) string {
	return fmt.Sprintf("steps[order=%d].%s", s.Order, field)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unset"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
