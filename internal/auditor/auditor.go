package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/telemetry"
	"github.com/shaiso/Runtrack/internal/tracker"
)

// DefaultBatchSize — размер страницы при выборке runs.
const DefaultBatchSize = 100

// Source — откуда аудитор берёт runs. Реализуется *tracker.Tracker.
type Source interface {
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	ValidateRun(ctx context.Context, runID uuid.UUID) (*tracker.Report, error)
}

// LeaderFunc сообщает, должен ли этот экземпляр выполнять проход.
type LeaderFunc func(ctx context.Context) (bool, error)

// Auditor — периодическая проверка инвариантов и агрегатов runs.
// Только читает: найденные нарушения логируются и отражаются в метриках.
type Auditor struct {
	source    Source
	logger    *slog.Logger
	lookback  time.Duration
	batchSize int
	leader    LeaderFunc
	now       func() time.Time
}

// Config — конфигурация Auditor.
type Config struct {
	Source Source
	Logger *slog.Logger

	// Lookback — помимо незавершённых runs проверяются runs, изменённые за это окно.
	Lookback time.Duration

	// BatchSize — количество runs за один запрос (default: 100).
	BatchSize int

	// Leader — опционально; без него каждый тик выполняется.
	Leader LeaderFunc

	Now func() time.Time
}

// New создаёт новый Auditor.
func New(cfg Config) *Auditor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Auditor{
		source:    cfg.Source,
		logger:    logger,
		lookback:  cfg.Lookback,
		batchSize: batchSize,
		leader:    cfg.Leader,
		now:       now,
	}
}

// Finding — run с нарушениями или расхождением агрегатов.
type Finding struct {
	RunID      uuid.UUID
	Status     domain.RunStatus
	Violations engine.Violations
	Drift      engine.Drift
}

// Summary — итог одного прохода.
type Summary struct {
	Checked   int
	Violating int
	Drifting  int
	Failed    int
	Findings  []Finding
}

// Tick выполняет один проход аудита.
//
// 1. Собирает незавершённые runs и runs, изменённые за окно Lookback
// 2. Для каждого выполняет ValidateRun
// 3. Обновляет метрики и логирует находки
//
// Ошибки одного run не блокируют проверку остальных.
func (a *Auditor) Tick(ctx context.Context) (Summary, error) {
	start := a.now()
	defer func() {
		telemetry.AuditDuration.Observe(time.Since(start).Seconds())
	}()

	ids, err := a.candidates(ctx, start)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		report, err := a.source.ValidateRun(ctx, id)
		if err != nil {
			if errors.Is(err, tracker.ErrRunNotFound) {
				// удалён между выборкой и проверкой
				continue
			}
			sum.Failed++
			a.logger.Error("failed to audit run", "run_id", id, "error", err)
			continue
		}

		sum.Checked++
		telemetry.AuditRunsChecked.Inc()

		hasDrift := report.Drift.HasDrift()
		if report.Valid() && !hasDrift {
			continue
		}

		if !report.Valid() {
			sum.Violating++
		}
		if hasDrift {
			sum.Drifting++
		}
		sum.Findings = append(sum.Findings, Finding{
			RunID:      id,
			Status:     report.Run.Status,
			Violations: report.Violations,
			Drift:      report.Drift,
		})
		a.logFinding(id, report)
	}

	telemetry.AuditViolatingRuns.Set(float64(sum.Violating))
	telemetry.AuditDriftRuns.Set(float64(sum.Drifting))

	a.logger.Info("audit pass completed",
		"candidates", len(ids),
		"checked", sum.Checked,
		"violating", sum.Violating,
		"drifting", sum.Drifting,
		"failed", sum.Failed,
	)

	return sum, nil
}

// Run запускает Tick по cron-расписанию до отмены ctx.
func (a *Auditor) Run(ctx context.Context, expr string) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() { a.runOnce(ctx) }))
	c.Start()

	a.logger.Info("auditor started", "cron", expr, "next", schedule.Next(a.now()).UTC())

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// runOnce выполняет проход, если этот экземпляр — лидер.
func (a *Auditor) runOnce(ctx context.Context) {
	if a.leader != nil {
		ok, err := a.leader(ctx)
		if err != nil {
			a.logger.Error("leader check failed", "error", err)
			return
		}
		if !ok {
			a.logger.Debug("not a leader, skipping audit pass")
			return
		}
	}

	if _, err := a.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("audit pass failed", "error", err)
	}
}

// candidates возвращает ID runs для проверки без повторов.
func (a *Auditor) candidates(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(runs []domain.Run) {
		for i := range runs {
			if _, ok := seen[runs[i].ID]; ok {
				continue
			}
			seen[runs[i].ID] = struct{}{}
			ids = append(ids, runs[i].ID)
		}
	}

	active := repo.RunFilter{Statuses: []domain.RunStatus{domain.RunStatusScheduled, domain.RunStatusInProgress}}
	if err := a.scan(ctx, active, add); err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}

	if a.lookback > 0 {
		since := now.Add(-a.lookback)
		if err := a.scan(ctx, repo.RunFilter{UpdatedSince: &since}, add); err != nil {
			return nil, fmt.Errorf("list recent runs: %w", err)
		}
	}

	return ids, nil
}

// scan постранично обходит runs по фильтру.
func (a *Auditor) scan(ctx context.Context, filter repo.RunFilter, fn func([]domain.Run)) error {
	filter.Limit = a.batchSize
	for {
		runs, err := a.source.ListRuns(ctx, filter)
		if err != nil {
			return err
		}
		fn(runs)
		if len(runs) < a.batchSize {
			return nil
		}
		filter.Offset += len(runs)
	}
}

func (a *Auditor) logFinding(id uuid.UUID, report *tracker.Report) {
	logger := telemetry.WithRunID(a.logger, id.String())

	for _, v := range report.Violations {
		logger.Warn("invariant violation",
			"invariant", int(v.Invariant),
			"kind", v.Kind,
			"severity", v.Severity,
			"field", v.Field,
			"expected", v.Expected,
			"actual", v.Actual,
		)
	}
	if report.Drift.HasDrift() {
		logger.Warn("aggregate drift",
			"stored_complexity", report.Drift.StoredComplexity,
			"recomputed_complexity", report.Drift.RecomputedComplexity,
			"stored_context_switches", report.Drift.StoredContextSwitches,
			"recomputed_context_switches", report.Drift.RecomputedContextSwitches,
		)
	}
}
