package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/shaiso/Runtrack/internal/domain"
)

// SQLiteStore — UnitOfWork поверх SQLite (modernc, без cgo).
// Используется для локального запуска и тестов.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает (или создаёт) БД по пути path и применяет схему.
// path может быть ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Одно соединение: транзакции сериализуются, а :memory: остаётся одной БД
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close закрывает БД.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx выполняет fn в транзакции.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}
	return nil
}

// sqlTx реализует Tx поверх *sql.Tx.
type sqlTx struct {
	tx *sql.Tx
}

// GetRun возвращает run с дочерними записями.
func (t *sqlTx) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := scanSQLiteRun(t.tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String()))
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

// GetRunForUpdate в SQLite совпадает с GetRun: запись сериализует транзакция.
func (t *sqlTx) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return t.GetRun(ctx, id)
}

// ListRuns возвращает runs без дочерних записей, новые первыми.
func (t *sqlTx) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if statuses := filter.statusStrings(); len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, s)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.UpdatedSince != nil {
		where = append(where, "updated_at >= ?")
		args = append(args, filter.UpdatedSince.UnixNano())
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// InsertRun создаёт строку run (без дочерних записей).
func (t *sqlTx) InsertRun(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.tx.ExecContext(ctx, query,
		run.ID.String(),
		run.Name,
		string(run.Status),
		run.IsPrivate,
		run.WasRunAutomatically,
		optText(run.Owner.UserID),
		optText(run.Owner.TeamID),
		optText(run.ScheduleID),
		optText(run.ResourceVersionID),
		optNanos(run.StartedAt),
		optNanos(run.CompletedAt),
		optInt64(run.TimeElapsed),
		run.CompletedComplexity,
		run.ContextSwitches,
		optText(string(run.Data)),
		run.CreatedAt.UnixNano(),
		run.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return mapSQLiteError("insert run", err)
	}
	return nil
}

// UpdateRun обновляет изменяемые поля run.
func (t *sqlTx) UpdateRun(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET name = ?, status = ?, is_private = ?, user_id = ?, team_id = ?,
		    started_at = ?, completed_at = ?, time_elapsed_ms = ?,
		    completed_complexity = ?, context_switches = ?, data = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := t.tx.ExecContext(ctx, query,
		run.Name,
		string(run.Status),
		run.IsPrivate,
		optText(run.Owner.UserID),
		optText(run.Owner.TeamID),
		optNanos(run.StartedAt),
		optNanos(run.CompletedAt),
		optInt64(run.TimeElapsed),
		run.CompletedComplexity,
		run.ContextSwitches,
		optText(string(run.Data)),
		run.UpdatedAt.UnixNano(),
		run.ID.String(),
	)
	if err != nil {
		return mapSQLiteError("update run", err)
	}
	return requireAffected(result)
}

// DeleteRun удаляет строку run. Дочерние записи должны быть удалены заранее.
func (t *sqlTx) DeleteRun(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id.String())
	if err != nil {
		return mapSQLiteError("delete run", err)
	}
	return requireAffected(result)
}

// InsertStep создаёт шаг.
func (t *sqlTx) InsertStep(ctx context.Context, step *domain.Step) error {
	query := `
		INSERT INTO run_steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.tx.ExecContext(ctx, query,
		step.ID.String(),
		step.RunID.String(),
		step.Name,
		optText(step.NodeID),
		optText(step.ResourceInID),
		step.Order,
		string(step.Status),
		step.Complexity,
		step.ContextSwitches,
		optNanos(step.StartedAt),
		optNanos(step.CompletedAt),
		optInt64(step.TimeElapsed),
	)
	if err != nil {
		return mapSQLiteError("insert step", err)
	}
	return nil
}

// UpdateStep обновляет статус, счётчики и timestamps шага. Order не меняется.
func (t *sqlTx) UpdateStep(ctx context.Context, step *domain.Step) error {
	query := `
		UPDATE run_steps
		SET status = ?, complexity = ?, context_switches = ?,
		    started_at = ?, completed_at = ?, time_elapsed_ms = ?
		WHERE id = ? AND run_id = ?
	`
	result, err := t.tx.ExecContext(ctx, query,
		string(step.Status),
		step.Complexity,
		step.ContextSwitches,
		optNanos(step.StartedAt),
		optNanos(step.CompletedAt),
		optInt64(step.TimeElapsed),
		step.ID.String(),
		step.RunID.String(),
	)
	if err != nil {
		return mapSQLiteError("update step", err)
	}
	return requireAffected(result)
}

// DeleteSteps удаляет все шаги run.
func (t *sqlTx) DeleteSteps(ctx context.Context, runID uuid.UUID) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, runID.String())
	if err != nil {
		return 0, mapSQLiteError("delete steps", err)
	}
	return result.RowsAffected()
}

// InsertIO создаёт запись IO.
func (t *sqlTx) InsertIO(ctx context.Context, rec *domain.IO) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO run_io (`+ioColumns+`) VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), rec.NodeInputName, rec.NodeName, optText(string(rec.Data)),
	)
	if err != nil {
		return mapSQLiteError("insert io", err)
	}
	return nil
}

// DeleteIO удаляет все записи IO run.
func (t *sqlTx) DeleteIO(ctx context.Context, runID uuid.UUID) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM run_io WHERE run_id = ?`, runID.String())
	if err != nil {
		return 0, mapSQLiteError("delete io", err)
	}
	return result.RowsAffected()
}

func (t *sqlTx) listSteps(ctx context.Context, runID uuid.UUID) ([]domain.Step, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? ORDER BY step_order ASC, id ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []domain.Step{}
	for rows.Next() {
		var (
			step                   domain.Step
			status                 string
			nodeID, resourceInID   sql.NullString
			startedAt, completedAt sql.NullInt64
			elapsed                sql.NullInt64
		)
		err := rows.Scan(
			&step.ID,
			&step.RunID,
			&step.Name,
			&nodeID,
			&resourceInID,
			&step.Order,
			&status,
			&step.Complexity,
			&step.ContextSwitches,
			&startedAt,
			&completedAt,
			&elapsed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Status = domain.StepStatus(status)
		step.NodeID = nodeID.String
		step.ResourceInID = resourceInID.String
		step.StartedAt = fromNanos(startedAt)
		step.CompletedAt = fromNanos(completedAt)
		step.TimeElapsed = fromNullInt64(elapsed)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (t *sqlTx) listIO(ctx context.Context, runID uuid.UUID) ([]domain.IO, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+ioColumns+` FROM run_io WHERE run_id = ? ORDER BY id ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("list io: %w", err)
	}
	defer rows.Close()

	records := []domain.IO{}
	for rows.Next() {
		var rec domain.IO
		var data sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.NodeInputName, &rec.NodeName, &data); err != nil {
			return nil, fmt.Errorf("scan io: %w", err)
		}
		if data.Valid {
			rec.Data = []byte(data.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*domain.Run, error) {
	var (
		run                                           domain.Run
		status                                        string
		userID, teamID, scheduleID, resourceVersionID sql.NullString
		startedAt, completedAt, elapsed               sql.NullInt64
		data                                          sql.NullString
		createdAt, updatedAt                          int64
	)
	err := row.Scan(
		&run.ID,
		&run.Name,
		&status,
		&run.IsPrivate,
		&run.WasRunAutomatically,
		&userID,
		&teamID,
		&scheduleID,
		&resourceVersionID,
		&startedAt,
		&completedAt,
		&elapsed,
		&run.CompletedComplexity,
		&run.ContextSwitches,
		&data,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.Owner = domain.Owner{UserID: userID.String, TeamID: teamID.String}
	run.ScheduleID = scheduleID.String
	run.ResourceVersionID = resourceVersionID.String
	run.StartedAt = fromNanos(startedAt)
	run.CompletedAt = fromNanos(completedAt)
	run.TimeElapsed = fromNullInt64(elapsed)
	if data.Valid {
		run.Data = []byte(data.String)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &run, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func optText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func optInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// mapSQLiteError преобразует ошибки ограничений SQLite в ошибки репозитория.
func mapSQLiteError(op string, err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%s: %w", op, ErrInvalidState)
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"), strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
	return fmt.Errorf("%s: %w", op, err)
}
