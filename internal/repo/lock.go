package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock — сессионная advisory-блокировка PostgreSQL.
//
// pg_try_advisory_lock привязан к соединению, поэтому блокировка держит
// выделенное соединение из пула до Release.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
	held bool
}

// AdvisoryLock выделяет соединение под блокировку с ключом key.
func (s *PostgresStore) AdvisoryLock(ctx context.Context, key int64) (*AdvisoryLock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	return &AdvisoryLock{conn: conn, key: key}, nil
}

// TryLock пытается взять блокировку; повторный вызов после успеха сразу возвращает true.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	if l.held {
		return true, nil
	}
	var ok bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	l.held = ok
	return ok, nil
}

// Release отпускает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) {
	if l.held {
		_, _ = l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key)
		l.held = false
	}
	l.conn.Release()
}
