package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Owner — владелец run.
//
// Допустимо одно из: UserID, TeamID или ни одного (автоматический run без владельца).
// Оба одновременно — нарушение инварианта владения.
// Идентификаторы непрозрачны: их существование проверяет сервис идентификации, не этот модуль.
type Owner struct {
	UserID string `json:"user_id,omitempty"`
	TeamID string `json:"team_id,omitempty"`
}

// IsZero возвращает true, если владелец не задан.
func (o Owner) IsZero() bool {
	return o.UserID == "" && o.TeamID == ""
}

// IsConflicting возвращает true, если заданы и пользователь, и команда.
func (o Owner) IsConflicting() bool {
	return o.UserID != "" && o.TeamID != ""
}

// Run — один экземпляр выполнения workflow/routine.
//
// Run — корень агрегата: он владеет своими Steps и IO по значению.
// Step и IO не существуют вне run и удаляются вместе с ним.
type Run struct {
	// ID — уникальный идентификатор run (UUIDv7, сортируется по времени).
	ID uuid.UUID `json:"id"`

	// Name — отображаемое имя.
	Name string `json:"name"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// IsPrivate — флаг видимости.
	IsPrivate bool `json:"is_private"`

	// WasRunAutomatically — true, если run запущен расписанием, а не пользователем.
	WasRunAutomatically bool `json:"was_run_automatically"`

	// Owner — владелец run.
	Owner Owner `json:"owner"`

	// ScheduleID — ссылка на расписание (непрозрачная).
	ScheduleID string `json:"schedule_id,omitempty"`

	// ResourceVersionID — ссылка на версию ресурса (непрозрачная).
	ResourceVersionID string `json:"resource_version_id,omitempty"`

	// StartedAt — время начала выполнения. Nil, если run ещё не стартовал.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время завершения.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// TimeElapsed — длительность выполнения в миллисекундах.
	// Не обязана совпадать с CompletedAt-StartedAt: для возобновлённых runs передаётся напрямую.
	TimeElapsed *int64 `json:"time_elapsed_ms,omitempty"`

	// CompletedComplexity — сумма complexity завершённых шагов.
	// Записывается явно при завершении шагов, а не пересчитывается при чтении.
	CompletedComplexity int `json:"completed_complexity"`

	// ContextSwitches — счётчик переключений контекста.
	ContextSwitches int `json:"context_switches"`

	// Data — контекст выполнения (журнал решений и т.п.).
	// Схема принадлежит движку выполнения; гарантируется только валидность JSON.
	Data json.RawMessage `json:"data,omitempty"`

	// Steps — шаги run, упорядоченные по Order.
	Steps []Step `json:"steps"`

	// IO — снимки входов и выходов узлов.
	IO []IO `json:"io"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения записи.
	UpdatedAt time.Time `json:"updated_at"`
}

// RunParams — параметры конструктора NewRun.
type RunParams struct {
	ID                  uuid.UUID
	Name                string
	Status              RunStatus
	IsPrivate           bool
	WasRunAutomatically bool
	Owner               Owner
	ScheduleID          string
	ResourceVersionID   string
	StartedAt           *time.Time
	CompletedAt         *time.Time
	TimeElapsed         *int64
	CompletedComplexity int
	ContextSwitches     int
	Data                json.RawMessage
	CreatedAt           time.Time
}

// NewRun собирает агрегат run из готовых шагов и IO.
//
// Отсутствующие ID генерируются, RunID дочерних записей проставляется.
// Пустой статус заменяется на SCHEDULED, статус шага — на PENDING.
// Инварианты не проверяются: это задача engine.Validate.
func NewRun(p RunParams, steps []Step, io []IO) *Run {
	id := p.ID
	if id == uuid.Nil {
		id = NewID()
	}

	status := p.Status
	if status == "" {
		status = RunStatusScheduled
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	run := &Run{
		ID:                  id,
		Name:                p.Name,
		Status:              status,
		IsPrivate:           p.IsPrivate,
		WasRunAutomatically: p.WasRunAutomatically,
		Owner:               p.Owner,
		ScheduleID:          p.ScheduleID,
		ResourceVersionID:   p.ResourceVersionID,
		StartedAt:           cloneTime(p.StartedAt),
		CompletedAt:         cloneTime(p.CompletedAt),
		TimeElapsed:         cloneInt64(p.TimeElapsed),
		CompletedComplexity: p.CompletedComplexity,
		ContextSwitches:     p.ContextSwitches,
		Data:                cloneRaw(p.Data),
		Steps:               make([]Step, 0, len(steps)),
		IO:                  make([]IO, 0, len(io)),
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}

	for _, s := range steps {
		run.Steps = append(run.Steps, run.adopt(s))
	}
	for _, rec := range io {
		run.IO = append(run.IO, run.adoptIO(rec))
	}
	run.SortSteps()

	return run
}

// AttachStep добавляет шаг к run и возвращает его в том виде, в котором он сохранён.
func (r *Run) AttachStep(s Step) Step {
	s = r.adopt(s)
	r.Steps = append(r.Steps, s)
	r.SortSteps()
	return s
}

// AttachIO добавляет запись IO к run.
func (r *Run) AttachIO(rec IO) IO {
	rec = r.adoptIO(rec)
	r.IO = append(r.IO, rec)
	return rec
}

func (r *Run) adopt(s Step) Step {
	if s.ID == uuid.Nil {
		s.ID = NewID()
	}
	if s.Status == "" {
		s.Status = StepStatusPending
	}
	s.RunID = r.ID
	return s.Clone()
}

func (r *Run) adoptIO(rec IO) IO {
	if rec.ID == uuid.Nil {
		rec.ID = NewID()
	}
	rec.RunID = r.ID
	return rec.Clone()
}

// Adopt приводит вручную собранный агрегат к виду, который строит NewRun:
// генерирует отсутствующие ID, подставляет статусы по умолчанию
// и привязывает шаги и IO к этому run.
func (r *Run) Adopt() {
	if r.ID == uuid.Nil {
		r.ID = NewID()
	}
	if r.Status == "" {
		r.Status = RunStatusScheduled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	for i := range r.Steps {
		r.Steps[i] = r.adopt(r.Steps[i])
	}
	for i := range r.IO {
		r.IO[i] = r.adoptIO(r.IO[i])
	}
	r.SortSteps()
}

// TruncateTimes округляет timestamps run и шагов до TimePrecision.
func (r *Run) TruncateTimes() {
	r.StartedAt = truncateTime(r.StartedAt)
	r.CompletedAt = truncateTime(r.CompletedAt)
	r.CreatedAt = r.CreatedAt.Truncate(TimePrecision)
	r.UpdatedAt = r.UpdatedAt.Truncate(TimePrecision)
	for i := range r.Steps {
		r.Steps[i].TruncateTimes()
	}
}

// SortSteps упорядочивает шаги по Order (стабильно, дубликаты сохраняют порядок вставки).
func (r *Run) SortSteps() {
	sortSteps(r.Steps)
}

// Step возвращает указатель на шаг с заданным ID внутри агрегата.
func (r *Run) Step(id uuid.UUID) (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// HasStepOrder проверяет, занят ли order в этом run.
func (r *Run) HasStepOrder(order int) bool {
	for i := range r.Steps {
		if r.Steps[i].Order == order {
			return true
		}
	}
	return false
}

// NextStepOrder возвращает order, следующий за максимальным.
func (r *Run) NextStepOrder() int {
	next := 0
	for i := range r.Steps {
		if r.Steps[i].Order >= next {
			next = r.Steps[i].Order + 1
		}
	}
	return next
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Elapsed возвращает TimeElapsed как time.Duration.
// Если TimeElapsed не задан, используется разница timestamps (или 0).
func (r *Run) Elapsed() time.Duration {
	return elapsed(r.TimeElapsed, r.StartedAt, r.CompletedAt)
}

// TimePrecision — точность хранения timestamps (TIMESTAMPTZ в PostgreSQL хранит микросекунды).
// Моменты переходов округляются до неё до сравнения, чтобы прочитанный run
// не отличался от проверенного.
const TimePrecision = time.Microsecond

// ErrNoData — у записи нет payload.
var ErrNoData = errors.New("no data")

// DecodeData разбирает Data в v.
func (r *Run) DecodeData(v any) error {
	return decodeRaw(r.Data, v)
}

// Clone возвращает глубокую копию агрегата.
// Мутации выполняются над копией, чтобы исходный снимок оставался неизменным.
func (r *Run) Clone() *Run {
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.TimeElapsed = cloneInt64(r.TimeElapsed)
	c.Data = cloneRaw(r.Data)

	if r.Steps != nil {
		c.Steps = make([]Step, len(r.Steps))
		for i := range r.Steps {
			c.Steps[i] = r.Steps[i].Clone()
		}
	}
	if r.IO != nil {
		c.IO = make([]IO, len(r.IO))
		for i := range r.IO {
			c.IO[i] = r.IO[i].Clone()
		}
	}
	return &c
}

// --- Helpers ---

func elapsed(ms *int64, started, completed *time.Time) time.Duration {
	if ms != nil {
		return time.Duration(*ms) * time.Millisecond
	}
	if started == nil || completed == nil {
		return 0
	}
	return completed.Sub(*started)
}

func decodeRaw(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(raw, v)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func truncateTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Truncate(TimePrecision)
	return &v
}

func cloneInt64(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// TimePtr — вспомогательная функция для литералов.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Int64Ptr — вспомогательная функция для литералов.
func Int64Ptr(n int64) *int64 {
	return &n
}
