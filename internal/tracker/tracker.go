package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/mq"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/telemetry"
)

// Publisher — получатель событий после успешного commit.
// Реализуется *mq.Publisher.
type Publisher interface {
	PublishRunCreated(ctx context.Context, payload mq.RunEventPayload) error
	PublishRunStatusChanged(ctx context.Context, payload mq.RunEventPayload) error
	PublishStepStatusChanged(ctx context.Context, payload mq.StepEventPayload) error
	PublishRunDeleted(ctx context.Context, payload mq.RunDeletedPayload) error
}

// Config — конфигурация трекера.
type Config struct {
	// Store — транзакционное хранилище.
	Store repo.UnitOfWork

	// Publisher — публикация событий (nil — события не публикуются).
	Publisher Publisher

	// Policy — политика валидации и переходов.
	Policy engine.Policy

	// Deleter — каскадное удаление (nil — без обработчиков потомков шагов).
	Deleter *CascadeDeleter

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Tracker — API мутаций агрегата run.
//
// Каждая операция:
//  1. захватывает мьютекс run;
//  2. в одной транзакции читает run под блокировкой и применяет изменение к копии;
//  3. проверяет копию валидатором: жёсткие нарушения отклоняют запись;
//  4. сохраняет изменённые строки;
//  5. после commit публикует событие.
type Tracker struct {
	store     repo.UnitOfWork
	publisher Publisher
	policy    engine.Policy
	validator engine.Validator
	deleter   *CascadeDeleter
	logger    *slog.Logger
	now       func() time.Time
	locks     *runLocks
}

// New создаёт новый Tracker.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	deleter := cfg.Deleter
	if deleter == nil {
		deleter = NewCascadeDeleter()
	}

	return &Tracker{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		policy:    cfg.Policy,
		validator: engine.Validator{Policy: cfg.Policy},
		deleter:   deleter,
		logger:    logger,
		now:       func() time.Time { return now().UTC() },
		locks:     newRunLocks(),
	}
}

// Result — результат успешной мутации.
type Result struct {
	// Run — состояние run после commit.
	Run *domain.Run `json:"run"`

	// Step — затронутый шаг (для операций над шагами).
	Step *domain.Step `json:"step,omitempty"`

	// Warnings — мягкие нарушения, не помешавшие записи.
	Warnings engine.Violations `json:"warnings,omitempty"`
}

// StepUpdate — изменение статуса шага.
type StepUpdate struct {
	Status domain.StepStatus

	// At — момент перехода; нулевой — текущее время.
	At time.Time

	// ContextSwitches — прирост переключений контекста (добавляется к шагу и run).
	ContextSwitches int
}

// Report — результат проверки run.
type Report struct {
	Run        *domain.Run       `json:"run,omitempty"`
	Violations engine.Violations `json:"violations"`
	Drift      engine.Drift      `json:"drift"`
	Summary    engine.Summary    `json:"summary"`
}

// Valid возвращает true, если нарушений нет.
func (r Report) Valid() bool {
	return len(r.Violations) == 0
}

// HasHard возвращает true, если есть жёсткие нарушения.
func (r Report) HasHard() bool {
	return len(r.Violations.Hard()) > 0
}

// --- Run Operations ---

// CreateRun сохраняет новый run вместе с шагами и IO.
func (t *Tracker) CreateRun(ctx context.Context, run *domain.Run) (*Result, error) {
	candidate := run.Clone()
	candidate.Adopt()
	candidate.TruncateTimes()

	warnings, err := t.check(candidate)
	if err != nil {
		return nil, err
	}

	err = t.withTx(ctx, "create_run", func(ctx context.Context, tx repo.Tx) error {
		if err := tx.InsertRun(ctx, candidate); err != nil {
			return err
		}
		for i := range candidate.Steps {
			if err := tx.InsertStep(ctx, &candidate.Steps[i]); err != nil {
				return err
			}
		}
		for i := range candidate.IO {
			if err := tx.InsertIO(ctx, &candidate.IO[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithRunID(t.logger, candidate.ID.String()).Info("run created",
		"status", candidate.Status,
		"steps", len(candidate.Steps),
		"io", len(candidate.IO),
	)
	t.publish(ctx, func(p Publisher) error {
		return p.PublishRunCreated(ctx, runEvent(candidate, ""))
	})

	return &Result{Run: candidate, Warnings: warnings}, nil
}

// GetRun возвращает run с шагами и IO.
func (t *Tracker) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	var run *domain.Run
	err := t.store.WithTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		run, err = tx.GetRun(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapNotFound(err, ErrRunNotFound)
	}
	return run, nil
}

// ListRuns возвращает runs без дочерних записей.
func (t *Tracker) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	var runs []domain.Run
	err := t.store.WithTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		var err error
		runs, err = tx.ListRuns(ctx, filter)
		return err
	})
	return runs, err
}

// UpdateRunStatus переводит run в статус to.
// Нулевой at заменяется текущим временем.
func (t *Tracker) UpdateRunStatus(ctx context.Context, runID uuid.UUID, to domain.RunStatus, at time.Time) (*Result, error) {
	at = t.stamp(at)

	var from domain.RunStatus
	res, err := t.mutate(ctx, "update_run_status", runID, func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error) {
		from = run.Status
		next, err := engine.TransitionRun(run, to, at, t.policy)
		if err != nil {
			telemetry.RejectedTransitions.WithLabelValues(string(engine.EntityRun)).Inc()
			return nil, nil, err
		}
		return next, nil, nil
	}, func(ctx context.Context, tx repo.Tx, next *domain.Run, _ *domain.Step) error {
		return tx.UpdateRun(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	telemetry.RunTransitions.WithLabelValues(string(from), string(to)).Inc()
	telemetry.WithRunID(t.logger, runID.String()).Info("run status changed", "from", from, "to", to)
	t.publish(ctx, func(p Publisher) error {
		return p.PublishRunStatusChanged(ctx, runEvent(res.Run, from))
	})
	return res, nil
}

// AddContextSwitches увеличивает счётчик переключений контекста run.
func (t *Tracker) AddContextSwitches(ctx context.Context, runID uuid.UUID, delta int) (*Result, error) {
	if delta < 0 {
		return nil, ErrNegativeDelta
	}

	return t.mutate(ctx, "add_context_switches", runID, func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error) {
		if run.IsFinished() {
			return nil, nil, ErrRunFinished
		}
		next := run.Clone()
		next.ContextSwitches += delta
		return next, nil, nil
	}, func(ctx context.Context, tx repo.Tx, next *domain.Run, _ *domain.Step) error {
		return tx.UpdateRun(ctx, next)
	})
}

// DeleteRun удаляет run и дочерние записи.
// Непустой includeOnly ограничивает удаление группами связей; run при этом остаётся.
func (t *Tracker) DeleteRun(ctx context.Context, runID uuid.UUID, includeOnly []Relation) (*DeleteResult, error) {
	unlock := t.locks.lock(runID)
	defer unlock()

	var res DeleteResult
	err := t.withTx(ctx, "delete_run", func(ctx context.Context, tx repo.Tx) error {
		if _, err := tx.GetRunForUpdate(ctx, runID); err != nil {
			return mapNotFound(err, ErrRunNotFound)
		}
		var err error
		res, err = t.deleter.Delete(ctx, tx, runID, includeOnly)
		return err
	})
	if err != nil {
		return nil, err
	}

	telemetry.CascadeDeleted.WithLabelValues(string(RelationSteps)).Add(float64(res.Steps))
	telemetry.CascadeDeleted.WithLabelValues(string(RelationIO)).Add(float64(res.IO))
	if res.RunDeleted {
		telemetry.CascadeDeleted.WithLabelValues("run").Inc()
	}
	telemetry.WithRunID(t.logger, runID.String()).Info("run deleted",
		"relations", includeOnly,
		"steps", res.Steps,
		"io", res.IO,
		"run_deleted", res.RunDeleted,
	)

	relations := make([]string, len(includeOnly))
	for i, rel := range includeOnly {
		relations[i] = string(rel)
	}
	t.publish(ctx, func(p Publisher) error {
		return p.PublishRunDeleted(ctx, mq.RunDeletedPayload{
			RunID:      runID,
			Relations:  relations,
			RunDeleted: res.RunDeleted,
		})
	})
	return &res, nil
}

// --- Step Operations ---

// AddStep добавляет шаг с заданным order.
// Шаг, добавленный сразу в COMPLETED, учитывается в CompletedComplexity run.
func (t *Tracker) AddStep(ctx context.Context, runID uuid.UUID, step domain.Step) (*Result, error) {
	return t.addStep(ctx, runID, step, false)
}

// AppendStep добавляет шаг в конец run (order = max + 1).
func (t *Tracker) AppendStep(ctx context.Context, runID uuid.UUID, step domain.Step) (*Result, error) {
	return t.addStep(ctx, runID, step, true)
}

func (t *Tracker) addStep(ctx context.Context, runID uuid.UUID, step domain.Step, autoOrder bool) (*Result, error) {
	return t.mutate(ctx, "add_step", runID, func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error) {
		if run.IsFinished() {
			return nil, nil, ErrRunFinished
		}
		next := run.Clone()
		if autoOrder {
			step.Order = next.NextStepOrder()
		}
		step.TruncateTimes()
		added := next.AttachStep(step)
		if added.Status == domain.StepStatusCompleted {
			next.CompletedComplexity += added.Complexity
		}
		return next, &added, nil
	}, func(ctx context.Context, tx repo.Tx, next *domain.Run, step *domain.Step) error {
		if err := tx.InsertStep(ctx, step); err != nil {
			return err
		}
		return tx.UpdateRun(ctx, next)
	})
}

// UpdateStepStatus применяет переход шага и обновляет агрегаты run.
//
// Завершение шага добавляет его complexity к CompletedComplexity run.
// Старт шага в SCHEDULED run переводит run в IN_PROGRESS.
func (t *Tracker) UpdateStepStatus(ctx context.Context, runID, stepID uuid.UUID, upd StepUpdate) (*Result, error) {
	if upd.ContextSwitches < 0 {
		return nil, ErrNegativeDelta
	}
	at := t.stamp(upd.At)

	var (
		stepFrom domain.StepStatus
		runFrom  domain.RunStatus
	)
	res, err := t.mutate(ctx, "update_step_status", runID, func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error) {
		if run.IsFinished() {
			return nil, nil, ErrRunFinished
		}
		current, ok := run.Step(stepID)
		if !ok {
			return nil, nil, ErrStepNotFound
		}
		stepFrom = current.Status
		runFrom = run.Status

		moved, err := engine.TransitionStep(*current, upd.Status, at)
		if err != nil {
			telemetry.RejectedTransitions.WithLabelValues(string(engine.EntityStep)).Inc()
			return nil, nil, err
		}

		next := run
		if upd.Status == domain.StepStatusInProgress && run.Status == domain.RunStatusScheduled {
			if next, err = engine.TransitionRun(run, domain.RunStatusInProgress, at, t.policy); err != nil {
				return nil, nil, err
			}
		} else {
			next = run.Clone()
		}

		moved.ContextSwitches += upd.ContextSwitches
		next.ContextSwitches += upd.ContextSwitches
		if moved.Status == domain.StepStatusCompleted {
			next.CompletedComplexity += moved.Complexity
		}

		slot, _ := next.Step(stepID)
		*slot = moved
		return next, &moved, nil
	}, func(ctx context.Context, tx repo.Tx, next *domain.Run, step *domain.Step) error {
		if err := tx.UpdateStep(ctx, step); err != nil {
			return mapNotFound(err, ErrStepNotFound)
		}
		return tx.UpdateRun(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	log := telemetry.WithStepID(telemetry.WithRunID(t.logger, runID.String()), stepID.String())
	telemetry.StepTransitions.WithLabelValues(string(stepFrom), string(upd.Status)).Inc()
	log.Info("step status changed", "from", stepFrom, "to", upd.Status, "order", res.Step.Order)
	t.publish(ctx, func(p Publisher) error {
		return p.PublishStepStatusChanged(ctx, mq.StepEventPayload{
			RunID:          runID,
			StepID:         stepID,
			Order:          res.Step.Order,
			Status:         string(res.Step.Status),
			PreviousStatus: string(stepFrom),
		})
	})

	if res.Run.Status != runFrom {
		telemetry.RunTransitions.WithLabelValues(string(runFrom), string(res.Run.Status)).Inc()
		log.Info("run started by step", "from", runFrom, "to", res.Run.Status)
		t.publish(ctx, func(p Publisher) error {
			return p.PublishRunStatusChanged(ctx, runEvent(res.Run, runFrom))
		})
	}
	return res, nil
}

// --- IO Operations ---

// RecordIO сохраняет снимок входа или выхода узла.
func (t *Tracker) RecordIO(ctx context.Context, runID uuid.UUID, rec domain.IO) (*Result, error) {
	return t.mutate(ctx, "record_io", runID, func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error) {
		if run.IsFinished() {
			return nil, nil, ErrRunFinished
		}
		next := run.Clone()
		next.AttachIO(rec)
		return next, nil, nil
	}, func(ctx context.Context, tx repo.Tx, next *domain.Run, _ *domain.Step) error {
		if err := tx.InsertIO(ctx, &next.IO[len(next.IO)-1]); err != nil {
			return err
		}
		return tx.UpdateRun(ctx, next)
	})
}

// --- Validation ---

// ValidateRun проверяет сохранённый run: нарушения и расхождения агрегатов.
func (t *Tracker) ValidateRun(ctx context.Context, runID uuid.UUID) (*Report, error) {
	run, err := t.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := t.Check(run)
	return &report, nil
}

// Check проверяет run без сохранения (dry run).
func (t *Tracker) Check(run *domain.Run) Report {
	violations := t.validator.Validate(run)
	recordViolations(violations)
	if violations == nil {
		violations = engine.Violations{}
	}
	return Report{
		Run:        run,
		Violations: violations,
		Drift:      engine.DetectDrift(run),
		Summary:    engine.Summarize(run),
	}
}

// --- Helpers ---

type mutateFn func(ctx context.Context, tx repo.Tx, run *domain.Run) (*domain.Run, *domain.Step, error)

type persistFn func(ctx context.Context, tx repo.Tx, next *domain.Run, step *domain.Step) error

// mutate выполняет цикл чтение → изменение → проверка → запись под мьютексом run.
func (t *Tracker) mutate(ctx context.Context, op string, runID uuid.UUID, apply mutateFn, persist persistFn) (*Result, error) {
	unlock := t.locks.lock(runID)
	defer unlock()

	var res Result
	err := t.withTx(ctx, op, func(ctx context.Context, tx repo.Tx) error {
		run, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return mapNotFound(err, ErrRunNotFound)
		}

		next, step, err := apply(ctx, tx, run)
		if err != nil {
			return err
		}
		next.UpdatedAt = t.stamp(time.Time{})

		warnings, err := t.check(next)
		if err != nil {
			return err
		}
		if err := persist(ctx, tx, next, step); err != nil {
			return err
		}

		res = Result{Run: next, Warnings: warnings}
		if step != nil {
			saved, _ := next.Step(step.ID)
			res.Step = saved
		}
		return nil
	})
	if err != nil {
		t.logger.Debug("mutation rejected", "op", op, "run_id", runID, "error", err)
		return nil, err
	}
	return &res, nil
}

// stamp возвращает момент перехода с точностью хранения; нулевой at заменяется текущим временем.
func (t *Tracker) stamp(at time.Time) time.Time {
	if at.IsZero() {
		at = t.now()
	}
	return at.UTC().Truncate(domain.TimePrecision)
}

// check валидирует кандидата: жёсткие нарушения — ошибка, мягкие — предупреждения.
func (t *Tracker) check(run *domain.Run) (engine.Violations, error) {
	violations := t.validator.Validate(run)
	recordViolations(violations)

	if hard := violations.Hard(); len(hard) > 0 {
		return nil, hard.Err()
	}
	return violations.Soft(), nil
}

// withTx выполняет fn в транзакции и учитывает сбои хранилища в метриках.
func (t *Tracker) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx repo.Tx) error) error {
	err := t.store.WithTx(ctx, fn)
	if err != nil && !IsRejection(err) {
		telemetry.TxFailures.WithLabelValues(op).Inc()
		t.logger.Error("transaction failed", "op", op, "error", err)
	}
	return err
}

// publish отправляет событие; ошибка публикации не откатывает записанное.
func (t *Tracker) publish(ctx context.Context, fn func(p Publisher) error) {
	if t.publisher == nil {
		return
	}
	if err := fn(t.publisher); err != nil {
		t.logger.Warn("failed to publish event", "error", err)
	}
}

func recordViolations(violations engine.Violations) {
	for _, v := range violations {
		telemetry.InvariantViolations.WithLabelValues(string(v.Kind), string(v.Severity)).Inc()
	}
}

func mapNotFound(err, target error) error {
	if errors.Is(err, repo.ErrNotFound) && !errors.Is(err, target) {
		return target
	}
	return err
}

func runEvent(run *domain.Run, previous domain.RunStatus) mq.RunEventPayload {
	return mq.RunEventPayload{
		RunID:          run.ID,
		Status:         string(run.Status),
		PreviousStatus: string(previous),
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
	}
}
