package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Runtrack/internal/domain"
)

// PostgreSQL error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

const runColumns = `
	id, name, status, is_private, was_run_automatically, user_id, team_id,
	schedule_id, resource_version_id, started_at, completed_at, time_elapsed_ms,
	completed_complexity, context_switches, data, created_at, updated_at`

const stepColumns = `
	id, run_id, name, node_id, resource_in_id, step_order, status,
	complexity, context_switches, started_at, completed_at, time_elapsed_ms`

const ioColumns = `id, run_id, node_input_name, node_name, data`

// PostgresStore — UnitOfWork поверх PostgreSQL (pgx).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новый PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate создаёт таблицы, если их нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close закрывает пул соединений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// WithTx выполняет fn в транзакции.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}
	// После Commit откат — no-op
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}
	return nil
}

// pgTx реализует Tx поверх pgx.Tx.
type pgTx struct {
	tx pgx.Tx
}

// GetRun возвращает run с дочерними записями.
func (t *pgTx) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return t.getRun(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
}

// GetRunForUpdate возвращает run с дочерними записями и блокирует строку run.
func (t *pgTx) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return t.getRun(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) getRun(ctx context.Context, query string, id uuid.UUID) (*domain.Run, error) {
	run, err := scanPgRun(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if run.Steps, err = t.listSteps(ctx, id); err != nil {
		return nil, err
	}
	if run.IO, err = t.listIO(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns возвращает runs без дочерних записей, новые первыми.
func (t *pgTx) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1::text[]))
		  AND ($2::timestamptz IS NULL OR updated_at >= $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := t.tx.Query(ctx, query,
		filter.statusStrings(),
		filter.UpdatedSince,
		filter.limit(),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// InsertRun создаёт строку run (без дочерних записей).
func (t *pgTx) InsertRun(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := t.tx.Exec(ctx, query,
		run.ID,
		run.Name,
		run.Status,
		run.IsPrivate,
		run.WasRunAutomatically,
		nullString(run.Owner.UserID),
		nullString(run.Owner.TeamID),
		nullString(run.ScheduleID),
		nullString(run.ResourceVersionID),
		run.StartedAt,
		run.CompletedAt,
		run.TimeElapsed,
		run.CompletedComplexity,
		run.ContextSwitches,
		nullData(run.Data),
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return mapPgError("insert run", err)
	}
	return nil
}

// UpdateRun обновляет изменяемые поля run.
func (t *pgTx) UpdateRun(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET name = $2, status = $3, is_private = $4, user_id = $5, team_id = $6,
		    started_at = $7, completed_at = $8, time_elapsed_ms = $9,
		    completed_complexity = $10, context_switches = $11, data = $12, updated_at = $13
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query,
		run.ID,
		run.Name,
		run.Status,
		run.IsPrivate,
		nullString(run.Owner.UserID),
		nullString(run.Owner.TeamID),
		run.StartedAt,
		run.CompletedAt,
		run.TimeElapsed,
		run.CompletedComplexity,
		run.ContextSwitches,
		nullData(run.Data),
		run.UpdatedAt,
	)
	if err != nil {
		return mapPgError("update run", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRun удаляет строку run. Дочерние записи должны быть удалены заранее.
func (t *pgTx) DeleteRun(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return mapPgError("delete run", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertStep создаёт шаг.
func (t *pgTx) InsertStep(ctx context.Context, step *domain.Step) error {
	query := `
		INSERT INTO run_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.tx.Exec(ctx, query,
		step.ID,
		step.RunID,
		step.Name,
		nullString(step.NodeID),
		nullString(step.ResourceInID),
		step.Order,
		step.Status,
		step.Complexity,
		step.ContextSwitches,
		step.StartedAt,
		step.CompletedAt,
		step.TimeElapsed,
	)
	if err != nil {
		return mapPgError("insert step", err)
	}
	return nil
}

// UpdateStep обновляет статус, счётчики и timestamps шага. Order не меняется.
func (t *pgTx) UpdateStep(ctx context.Context, step *domain.Step) error {
	query := `
		UPDATE run_steps
		SET status = $3, complexity = $4, context_switches = $5,
		    started_at = $6, completed_at = $7, time_elapsed_ms = $8
		WHERE id = $1 AND run_id = $2
	`
	result, err := t.tx.Exec(ctx, query,
		step.ID,
		step.RunID,
		step.Status,
		step.Complexity,
		step.ContextSwitches,
		step.StartedAt,
		step.CompletedAt,
		step.TimeElapsed,
	)
	if err != nil {
		return mapPgError("update step", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSteps удаляет все шаги run.
func (t *pgTx) DeleteSteps(ctx context.Context, runID uuid.UUID) (int64, error) {
	result, err := t.tx.Exec(ctx, `DELETE FROM run_steps WHERE run_id = $1`, runID)
	if err != nil {
		return 0, mapPgError("delete steps", err)
	}
	return result.RowsAffected(), nil
}

// InsertIO создаёт запись IO.
func (t *pgTx) InsertIO(ctx context.Context, rec *domain.IO) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO run_io (`+ioColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.RunID, rec.NodeInputName, rec.NodeName, nullData(rec.Data),
	)
	if err != nil {
		return mapPgError("insert io", err)
	}
	return nil
}

// DeleteIO удаляет все записи IO run.
func (t *pgTx) DeleteIO(ctx context.Context, runID uuid.UUID) (int64, error) {
	result, err := t.tx.Exec(ctx, `DELETE FROM run_io WHERE run_id = $1`, runID)
	if err != nil {
		return 0, mapPgError("delete io", err)
	}
	return result.RowsAffected(), nil
}

func (t *pgTx) listSteps(ctx context.Context, runID uuid.UUID) ([]domain.Step, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY step_order ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []domain.Step{}
	for rows.Next() {
		var step domain.Step
		var nodeID, resourceInID *string
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Name,
			&nodeID,
			&resourceInID,
			&step.Order,
			&step.Status,
			&step.Complexity,
			&step.ContextSwitches,
			&step.StartedAt,
			&step.CompletedAt,
			&step.TimeElapsed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.NodeID = derefString(nodeID)
		step.ResourceInID = derefString(resourceInID)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (t *pgTx) listIO(ctx context.Context, runID uuid.UUID) ([]domain.IO, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+ioColumns+` FROM run_io WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list io: %w", err)
	}
	defer rows.Close()

	records := []domain.IO{}
	for rows.Next() {
		var rec domain.IO
		var data *string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.NodeInputName, &rec.NodeName, &data); err != nil {
			return nil, fmt.Errorf("scan io: %w", err)
		}
		if data != nil {
			rec.Data = []byte(*data)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Helpers ---

// scanPgRun сканирует строку в Run (pgx.Row и pgx.Rows).
func scanPgRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var userID, teamID, scheduleID, resourceVersionID, data *string

	err := row.Scan(
		&run.ID,
		&run.Name,
		&run.Status,
		&run.IsPrivate,
		&run.WasRunAutomatically,
		&userID,
		&teamID,
		&scheduleID,
		&resourceVersionID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.TimeElapsed,
		&run.CompletedComplexity,
		&run.ContextSwitches,
		&data,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Owner = domain.Owner{UserID: derefString(userID), TeamID: derefString(teamID)}
	run.ScheduleID = derefString(scheduleID)
	run.ResourceVersionID = derefString(resourceVersionID)
	if data != nil {
		run.Data = []byte(*data)
	}
	return &run, nil
}

// mapPgError преобразует ошибки ограничений PostgreSQL в ошибки репозитория.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrAlreadyExists, pgErr.ConstraintName)
		case pgForeignKeyViolation, pgCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrInvalidState, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
