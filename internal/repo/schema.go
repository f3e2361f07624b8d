package repo

// Схема хранения.
//
// ON DELETE CASCADE намеренно не используется: порядок удаления
// (шаги → IO → run) задаёт tracker.CascadeDeleter в одной транзакции,
// а внешние ключи гарантируют, что run не удалится раньше детей.
//
// data хранится как TEXT, а не JSONB: валидность JSON — мягкий инвариант,
// и исторические записи с невалидным payload должны читаться.

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id                    UUID PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	is_private            BOOLEAN NOT NULL DEFAULT FALSE,
	was_run_automatically BOOLEAN NOT NULL DEFAULT FALSE,
	user_id               TEXT,
	team_id               TEXT,
	schedule_id           TEXT,
	resource_version_id   TEXT,
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	time_elapsed_ms       BIGINT,
	completed_complexity  INTEGER NOT NULL DEFAULT 0,
	context_switches      INTEGER NOT NULL DEFAULT 0,
	data                  TEXT,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL,
	CONSTRAINT runs_single_owner CHECK (user_id IS NULL OR team_id IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at);

CREATE TABLE IF NOT EXISTS run_steps (
	id               UUID PRIMARY KEY,
	run_id           UUID NOT NULL REFERENCES runs(id),
	name             TEXT NOT NULL DEFAULT '',
	node_id          TEXT,
	resource_in_id   TEXT,
	step_order       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	complexity       INTEGER NOT NULL DEFAULT 0,
	context_switches INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	time_elapsed_ms  BIGINT,
	CONSTRAINT run_steps_run_order UNIQUE (run_id, step_order)
);

CREATE TABLE IF NOT EXISTS run_io (
	id              UUID PRIMARY KEY,
	run_id          UUID NOT NULL REFERENCES runs(id),
	node_input_name TEXT NOT NULL DEFAULT '',
	node_name       TEXT NOT NULL DEFAULT '',
	data            TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_io_run ON run_io(run_id);
`

// В SQLite моменты времени хранятся как unix-наносекунды (INTEGER):
// так сохраняется точность и порядок без разбора строковых форматов.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	is_private            INTEGER NOT NULL DEFAULT 0,
	was_run_automatically INTEGER NOT NULL DEFAULT 0,
	user_id               TEXT,
	team_id               TEXT,
	schedule_id           TEXT,
	resource_version_id   TEXT,
	started_at            INTEGER,
	completed_at          INTEGER,
	time_elapsed_ms       INTEGER,
	completed_complexity  INTEGER NOT NULL DEFAULT 0,
	context_switches      INTEGER NOT NULL DEFAULT 0,
	data                  TEXT,
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL,
	CHECK (user_id IS NULL OR team_id IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at);

CREATE TABLE IF NOT EXISTS run_steps (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	name             TEXT NOT NULL DEFAULT '',
	node_id          TEXT,
	resource_in_id   TEXT,
	step_order       INTEGER NOT NULL,
	status           TEXT NOT NULL,
	complexity       INTEGER NOT NULL DEFAULT 0,
	context_switches INTEGER NOT NULL DEFAULT 0,
	started_at       INTEGER,
	completed_at     INTEGER,
	time_elapsed_ms  INTEGER,
	UNIQUE (run_id, step_order)
);

CREATE TABLE IF NOT EXISTS run_io (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	node_input_name TEXT NOT NULL DEFAULT '',
	node_name       TEXT NOT NULL DEFAULT '',
	data            TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_io_run ON run_io(run_id);
`
