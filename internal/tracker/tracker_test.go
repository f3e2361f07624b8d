package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/engine"
	"github.com/shaiso/Runtrack/internal/mq"
	"github.com/shaiso/Runtrack/internal/repo"
	"github.com/shaiso/Runtrack/internal/telemetry"
)

// --- Test Helpers ---

// clock сдвигается на секунду при каждом вызове.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.MessageType
}

func (p *recordingPublisher) add(t mq.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	return nil
}

func (p *recordingPublisher) PublishRunCreated(context.Context, mq.RunEventPayload) error {
	return p.add(mq.MessageTypeRunCreated)
}

func (p *recordingPublisher) PublishRunStatusChanged(context.Context, mq.RunEventPayload) error {
	return p.add(mq.MessageTypeRunStatusChanged)
}

func (p *recordingPublisher) PublishStepStatusChanged(context.Context, mq.StepEventPayload) error {
	return p.add(mq.MessageTypeStepStatusChanged)
}

func (p *recordingPublisher) PublishRunDeleted(context.Context, mq.RunDeletedPayload) error {
	return p.add(mq.MessageTypeRunDeleted)
}

func (p *recordingPublisher) count(t mq.MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == t {
			n++
		}
	}
	return n
}

// failingStore подменяет отдельные операции Tx ошибкой.
type failingStore struct {
	inner   repo.UnitOfWork
	failIO  bool
	failGet bool
}

var errInjected = errors.New("injected failure")

func (s *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repo.Tx) error) error {
	return s.inner.WithTx(ctx, func(ctx context.Context, tx repo.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, store: s})
	})
}

type failingTx struct {
	repo.Tx
	store *failingStore
}

func (t *failingTx) DeleteIO(ctx context.Context, runID uuid.UUID) (int64, error) {
	if t.store.failIO {
		return 0, errInjected
	}
	return t.Tx.DeleteIO(ctx, runID)
}

func (t *failingTx) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	if t.store.failGet {
		return nil, errInjected
	}
	return t.Tx.GetRunForUpdate(ctx, id)
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *repo.SQLiteStore {
	t.Helper()
	store, err := repo.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTracker(t *testing.T, store repo.UnitOfWork, pub Publisher) *Tracker {
	t.Helper()
	cfg := Config{
		Store:  store,
		Logger: telemetry.Discard(),
		Now:    (&clock{t: base}).Now,
	}
	if pub != nil {
		cfg.Publisher = pub
	}
	return New(cfg)
}

// runWith создаёт SCHEDULED run с шагами заданной complexity и n записями IO.
func runWith(complexities []int, ioCount int) *domain.Run {
	steps := make([]domain.Step, len(complexities))
	for i, c := range complexities {
		steps[i] = domain.Step{Name: "step", Order: i, Complexity: c}
	}
	io := make([]domain.IO, ioCount)
	for i := range io {
		io[i] = domain.IO{NodeInputName: "in", NodeName: "node", Data: []byte(`{"v":1}`)}
	}
	return domain.NewRun(domain.RunParams{Name: "test", CreatedAt: base}, steps, io)
}

func mustCreate(t *testing.T, tr *Tracker, run *domain.Run) *domain.Run {
	t.Helper()
	res, err := tr.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return res.Run
}

// --- Run Tests ---

func TestTracker_CreateRun(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTracker(t, newStore(t), pub)

	created := mustCreate(t, tr, runWith([]int{1, 2}, 1))

	got, err := tr.GetRun(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got.Steps) != 2 || len(got.IO) != 1 {
		t.Errorf("got %d steps, %d io", len(got.Steps), len(got.IO))
	}
	if got.Status != domain.RunStatusScheduled {
		t.Errorf("status = %s", got.Status)
	}
	if pub.count(mq.MessageTypeRunCreated) != 1 {
		t.Error("run.created should be published")
	}
}

func TestTracker_CreateRun_RejectsHardViolation(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	run := domain.NewRun(domain.RunParams{Owner: domain.Owner{UserID: "u1", TeamID: "t1"}}, nil, nil)

	_, err := tr.CreateRun(context.Background(), run)
	if !errors.Is(err, engine.ErrOwnershipConflict) {
		t.Fatalf("expected ErrOwnershipConflict, got %v", err)
	}
	if !errors.Is(err, engine.ErrInvariantViolation) {
		t.Error("ownership conflict should also match ErrInvariantViolation")
	}

	if _, err := tr.GetRun(context.Background(), run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("rejected run should not be stored, got %v", err)
	}
}

func TestTracker_CreateRun_SoftWarnings(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	run := domain.NewRun(domain.RunParams{Data: []byte(`{not json`)}, nil, nil)

	res, err := tr.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("soft violation should not reject: %v", err)
	}
	if !res.Warnings.Has(engine.InvariantValidJSON) {
		t.Errorf("expected invalid JSON warning, got %v", res.Warnings)
	}
}

func TestTracker_CreateRun_SoftAsHard(t *testing.T) {
	tr := New(Config{
		Store:  newStore(t),
		Policy: engine.Policy{SoftAsHard: true},
		Logger: telemetry.Discard(),
	})
	run := domain.NewRun(domain.RunParams{Data: []byte(`{not json`)}, nil, nil)

	if _, err := tr.CreateRun(context.Background(), run); !errors.Is(err, engine.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestTracker_UpdateRunStatus(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTracker(t, newStore(t), pub)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith(nil, 0))

	// SCHEDULED → COMPLETED без старта
	_, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusCompleted, time.Time{})
	if !errors.Is(err, engine.ErrMissingStartTime) {
		t.Fatalf("expected ErrMissingStartTime, got %v", err)
	}

	res, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusInProgress, time.Time{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Run.StartedAt == nil {
		t.Fatal("StartedAt should be stamped")
	}

	res, err = tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusCompleted, time.Time{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Run.CompletedAt == nil || res.Run.TimeElapsed == nil {
		t.Error("CompletedAt and TimeElapsed should be set")
	}

	stored, _ := tr.GetRun(ctx, run.ID)
	if stored.Status != domain.RunStatusCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}
	if pub.count(mq.MessageTypeRunStatusChanged) != 2 {
		t.Errorf("expected 2 status events, got %d", pub.count(mq.MessageTypeRunStatusChanged))
	}
}

func TestTracker_UpdateRunStatus_NotFound(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)

	_, err := tr.UpdateRunStatus(context.Background(), uuid.New(), domain.RunStatusFailed, time.Time{})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		t.Error("ErrRunNotFound should wrap repo.ErrNotFound")
	}
}

func TestTracker_AddContextSwitches(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith(nil, 0))

	res, err := tr.AddContextSwitches(ctx, run.ID, 3)
	if err != nil {
		t.Fatalf("AddContextSwitches: %v", err)
	}
	if res.Run.ContextSwitches != 3 {
		t.Errorf("ContextSwitches = %d", res.Run.ContextSwitches)
	}

	if _, err := tr.AddContextSwitches(ctx, run.ID, -1); !errors.Is(err, ErrNegativeDelta) {
		t.Errorf("expected ErrNegativeDelta, got %v", err)
	}
}

// --- Step Tests ---

func TestTracker_StepLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTracker(t, newStore(t), pub)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{2}, 0))

	added, err := tr.AppendStep(ctx, run.ID, domain.Step{Name: "extra", Complexity: 5})
	if err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	if added.Step.Order != 1 {
		t.Errorf("appended order = %d, want 1", added.Step.Order)
	}
	if added.Step.Status != domain.StepStatusPending {
		t.Errorf("appended status = %s", added.Step.Status)
	}
	stepID := added.Step.ID

	res, err := tr.UpdateStepStatus(ctx, run.ID, stepID, StepUpdate{Status: domain.StepStatusInProgress})
	if err != nil {
		t.Fatalf("start step: %v", err)
	}
	if res.Run.Status != domain.RunStatusInProgress {
		t.Errorf("run should auto-start, status = %s", res.Run.Status)
	}

	res, err = tr.UpdateStepStatus(ctx, run.ID, stepID, StepUpdate{Status: domain.StepStatusCompleted, ContextSwitches: 2})
	if err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if res.Run.CompletedComplexity != 5 {
		t.Errorf("CompletedComplexity = %d, want 5", res.Run.CompletedComplexity)
	}
	if res.Run.ContextSwitches != 2 || res.Step.ContextSwitches != 2 {
		t.Errorf("context switches run=%d step=%d", res.Run.ContextSwitches, res.Step.ContextSwitches)
	}

	stored, _ := tr.GetRun(ctx, run.ID)
	if engine.DetectDrift(stored).HasDrift() {
		t.Errorf("unexpected drift: %+v", engine.DetectDrift(stored))
	}
	if pub.count(mq.MessageTypeStepStatusChanged) != 2 {
		t.Errorf("expected 2 step events, got %d", pub.count(mq.MessageTypeStepStatusChanged))
	}
	if pub.count(mq.MessageTypeRunStatusChanged) != 1 {
		t.Errorf("expected 1 run event, got %d", pub.count(mq.MessageTypeRunStatusChanged))
	}
}

func TestTracker_UpdateStepStatus_Rejections(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1}, 0))
	stepID := run.Steps[0].ID

	_, err := tr.UpdateStepStatus(ctx, run.ID, uuid.New(), StepUpdate{Status: domain.StepStatusInProgress})
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	_, err = tr.UpdateStepStatus(ctx, run.ID, stepID, StepUpdate{Status: domain.StepStatusCompleted})
	if !errors.Is(err, engine.ErrMissingStartTime) {
		t.Errorf("expected ErrMissingStartTime, got %v", err)
	}

	_, err = tr.UpdateStepStatus(ctx, run.ID, stepID, StepUpdate{Status: domain.StepStatusInProgress, ContextSwitches: -1})
	if !errors.Is(err, ErrNegativeDelta) {
		t.Errorf("expected ErrNegativeDelta, got %v", err)
	}
}

func TestTracker_AddStep_DuplicateOrder(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	run := mustCreate(t, tr, runWith([]int{1, 1}, 0))

	_, err := tr.AddStep(context.Background(), run.ID, domain.Step{Order: 1})
	if !errors.Is(err, engine.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}

	var invErr *engine.InvariantError
	if !errors.As(err, &invErr) || !invErr.Violations.Has(engine.InvariantUniqueStepOrder) {
		t.Errorf("expected unique order violation, got %v", err)
	}
}

func TestTracker_AddStep_CompletedCountsComplexity(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1}, 0))

	if _, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusInProgress, base.Add(time.Minute)); err != nil {
		t.Fatalf("start run: %v", err)
	}

	res, err := tr.AppendStep(ctx, run.ID, domain.Step{
		Name:        "backfilled",
		Status:      domain.StepStatusCompleted,
		Complexity:  7,
		StartedAt:   domain.TimePtr(base.Add(2 * time.Minute)),
		CompletedAt: domain.TimePtr(base.Add(3 * time.Minute)),
	})
	if err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	if res.Run.CompletedComplexity != 7 {
		t.Errorf("CompletedComplexity = %d, want 7", res.Run.CompletedComplexity)
	}

	if _, err := tr.AppendStep(ctx, run.ID, domain.Step{Name: "pending", Complexity: 4}); err != nil {
		t.Fatalf("AppendStep pending: %v", err)
	}

	stored, _ := tr.GetRun(ctx, run.ID)
	if drift := engine.DetectDrift(stored); drift.HasDrift() {
		t.Errorf("unexpected drift: %+v", drift)
	}
	if stored.CompletedComplexity != 7 {
		t.Errorf("stored CompletedComplexity = %d, want 7", stored.CompletedComplexity)
	}
}

func TestTracker_UnknownStatusRejected(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()

	_, err := tr.CreateRun(ctx, domain.NewRun(domain.RunParams{Status: "BOGUS"}, nil, nil))
	var invErr *engine.InvariantError
	if !errors.As(err, &invErr) || !invErr.Violations.Has(engine.InvariantKnownStatus) {
		t.Fatalf("CreateRun: expected unknown status violation, got %v", err)
	}
	if runs, _ := tr.ListRuns(ctx, repo.RunFilter{}); len(runs) != 0 {
		t.Errorf("run with unknown status must not be stored, got %d", len(runs))
	}

	run := mustCreate(t, tr, runWith(nil, 0))
	_, err = tr.AddStep(ctx, run.ID, domain.Step{Order: 0, Status: "DONE"})
	if !errors.As(err, &invErr) || !invErr.Violations.Has(engine.InvariantKnownStatus) {
		t.Errorf("AddStep: expected unknown status violation, got %v", err)
	}
}

func TestTracker_CreateRun_AdoptsChildren(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()

	run := &domain.Run{
		Name:      "assembled",
		CreatedAt: base,
		Steps:     []domain.Step{{Name: "b", Order: 1}, {Name: "a", Order: 0}},
		IO:        []domain.IO{{NodeName: "n", NodeInputName: "in"}},
	}

	created := mustCreate(t, tr, run)
	if created.ID == uuid.Nil || created.Status != domain.RunStatusScheduled {
		t.Fatalf("run defaults not applied: %+v", created)
	}
	if run.ID != uuid.Nil {
		t.Error("CreateRun must not modify the caller's run")
	}

	stored, err := tr.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(stored.Steps) != 2 || len(stored.IO) != 1 {
		t.Fatalf("stored steps=%d io=%d", len(stored.Steps), len(stored.IO))
	}
	for _, s := range stored.Steps {
		if s.ID == uuid.Nil || s.RunID != created.ID || s.Status != domain.StepStatusPending {
			t.Errorf("step not adopted: %+v", s)
		}
	}
	if stored.Steps[0].Name != "a" || stored.IO[0].RunID != created.ID {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestTracker_SubMicrosecondTransitionRejected(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1}, 0))
	started := base.Add(time.Minute)

	if _, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusInProgress, started); err != nil {
		t.Fatalf("start run: %v", err)
	}

	// В хранилище момент округляется до микросекунд и совпал бы со startedAt
	_, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusCompleted, started.Add(500*time.Nanosecond))
	if !errors.Is(err, engine.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}

	res, err := tr.UpdateStepStatus(ctx, run.ID, run.Steps[0].ID, StepUpdate{
		Status: domain.StepStatusInProgress,
		At:     started.Add(time.Second + 1500*time.Nanosecond),
	})
	if err != nil {
		t.Fatalf("start step: %v", err)
	}
	if want := started.Add(time.Second + time.Microsecond); !res.Step.StartedAt.Equal(want) {
		t.Errorf("step StartedAt = %v, want %v", res.Step.StartedAt, want)
	}

	report, err := tr.ValidateRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ValidateRun: %v", err)
	}
	if !report.Valid() {
		t.Errorf("stored run should stay valid, got %v", report.Violations)
	}
}

func TestTracker_FinishedRunRejectsChanges(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1}, 0))

	if _, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusFailed, time.Time{}); err != nil {
		t.Fatalf("fail run: %v", err)
	}

	if _, err := tr.AppendStep(ctx, run.ID, domain.Step{}); !errors.Is(err, ErrRunFinished) {
		t.Errorf("AppendStep: expected ErrRunFinished, got %v", err)
	}
	if _, err := tr.UpdateStepStatus(ctx, run.ID, run.Steps[0].ID, StepUpdate{Status: domain.StepStatusInProgress}); !errors.Is(err, ErrRunFinished) {
		t.Errorf("UpdateStepStatus: expected ErrRunFinished, got %v", err)
	}
	if _, err := tr.RecordIO(ctx, run.ID, domain.IO{NodeName: "n"}); !errors.Is(err, ErrRunFinished) {
		t.Errorf("RecordIO: expected ErrRunFinished, got %v", err)
	}
	if _, err := tr.UpdateRunStatus(ctx, run.ID, domain.RunStatusInProgress, time.Time{}); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("UpdateRunStatus: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTracker_ConcurrentStepCompletions(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()

	const n = 16
	complexities := make([]int, n)
	want := 0
	for i := range complexities {
		complexities[i] = i + 1
		want += i + 1
	}
	run := mustCreate(t, tr, runWith(complexities, 0))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, step := range run.Steps {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := tr.UpdateStepStatus(ctx, run.ID, id, StepUpdate{Status: domain.StepStatusInProgress}); err != nil {
				errs <- err
				return
			}
			if _, err := tr.UpdateStepStatus(ctx, run.ID, id, StepUpdate{Status: domain.StepStatusCompleted, ContextSwitches: 1}); err != nil {
				errs <- err
			}
		}(step.ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent update: %v", err)
	}

	stored, err := tr.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.CompletedComplexity != want {
		t.Errorf("CompletedComplexity = %d, want %d", stored.CompletedComplexity, want)
	}
	if stored.ContextSwitches != n {
		t.Errorf("ContextSwitches = %d, want %d", stored.ContextSwitches, n)
	}
	if engine.DetectDrift(stored).HasDrift() {
		t.Errorf("unexpected drift: %+v", engine.DetectDrift(stored))
	}
	if tr.locks.size() != 0 {
		t.Errorf("locks should be released, %d left", tr.locks.size())
	}
}

// --- IO Tests ---

func TestTracker_RecordIO(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith(nil, 0))

	res, err := tr.RecordIO(ctx, run.ID, domain.IO{NodeInputName: "out", NodeName: "fetch", Data: []byte(`[1,2]`)})
	if err != nil {
		t.Fatalf("RecordIO: %v", err)
	}
	if len(res.Run.IO) != 1 {
		t.Fatalf("expected 1 io record, got %d", len(res.Run.IO))
	}

	res, err = tr.RecordIO(ctx, run.ID, domain.IO{NodeName: "fetch", Data: []byte(`{bad`)})
	if err != nil {
		t.Fatalf("invalid IO data is a soft violation: %v", err)
	}
	if !res.Warnings.Has(engine.InvariantValidJSON) {
		t.Errorf("expected invalid JSON warning, got %v", res.Warnings)
	}
}

// --- Delete Tests ---

func TestTracker_DeleteRun_IncludeOnlyIO(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTracker(t, newStore(t), pub)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1, 2, 3}, 2))

	res, err := tr.DeleteRun(ctx, run.ID, []Relation{RelationIO})
	if err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if res.IO != 2 || res.Steps != 0 || res.RunDeleted {
		t.Errorf("unexpected result: %+v", res)
	}

	stored, err := tr.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("run should remain: %v", err)
	}
	if len(stored.Steps) != 3 {
		t.Errorf("steps should remain, got %d", len(stored.Steps))
	}
	if len(stored.IO) != 0 {
		t.Errorf("io should be removed, got %d", len(stored.IO))
	}
	if pub.count(mq.MessageTypeRunDeleted) != 1 {
		t.Error("run.deleted should be published")
	}
}

func TestTracker_DeleteRun_All(t *testing.T) {
	store := newStore(t)
	tr := newTracker(t, store, nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1, 2}, 1))

	res, err := tr.DeleteRun(ctx, run.ID, nil)
	if err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if !res.RunDeleted || res.Steps != 2 || res.IO != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	if _, err := tr.GetRun(ctx, run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestTracker_DeleteRun_NotFound(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)

	if _, err := tr.DeleteRun(context.Background(), uuid.New(), nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestTracker_DeleteRun_RollsBack(t *testing.T) {
	inner := newStore(t)
	store := &failingStore{inner: inner}
	tr := newTracker(t, store, nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{1, 2}, 1))

	store.failIO = true
	if _, err := tr.DeleteRun(ctx, run.ID, nil); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	store.failIO = false

	stored, err := tr.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("run should survive rollback: %v", err)
	}
	if len(stored.Steps) != 2 || len(stored.IO) != 1 {
		t.Errorf("children should survive rollback: %d steps, %d io", len(stored.Steps), len(stored.IO))
	}
}

func TestTracker_StepChildDeleter(t *testing.T) {
	var called []uuid.UUID
	hook := func(ctx context.Context, tx repo.Tx, runID uuid.UUID) (int64, error) {
		called = append(called, runID)
		return 4, nil
	}

	tr := New(Config{
		Store:   newStore(t),
		Deleter: NewCascadeDeleter(hook),
		Logger:  telemetry.Discard(),
	})
	run := mustCreate(t, tr, runWith([]int{1}, 1))

	res, err := tr.DeleteRun(context.Background(), run.ID, []Relation{RelationSteps})
	if err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if len(called) != 1 || res.StepChildren != 4 {
		t.Errorf("step child hook not applied: called=%d result=%+v", len(called), res)
	}
	if res.IO != 0 || res.RunDeleted {
		t.Errorf("io and run should remain: %+v", res)
	}
}

func TestParseRelations(t *testing.T) {
	rels, err := ParseRelations([]string{"io", " Steps ", "", "io"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rels) != 2 || rels[0] != RelationIO || rels[1] != RelationSteps {
		t.Errorf("ParseRelations = %v", rels)
	}

	if _, err := ParseRelations([]string{"comments"}); !errors.Is(err, ErrUnknownRelation) {
		t.Errorf("expected ErrUnknownRelation, got %v", err)
	}
}

// --- Validation Tests ---

func TestTracker_ValidateRun(t *testing.T) {
	store := newStore(t)
	tr := newTracker(t, store, nil)
	ctx := context.Background()
	run := mustCreate(t, tr, runWith([]int{3}, 0))

	report, err := tr.ValidateRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ValidateRun: %v", err)
	}
	if !report.Valid() || report.HasHard() {
		t.Errorf("expected clean report, got %v", report.Violations)
	}
	if report.Summary.TotalSteps != 1 || report.Drift.HasDrift() {
		t.Errorf("unexpected summary/drift: %+v %+v", report.Summary, report.Drift)
	}

	if _, err := tr.ValidateRun(ctx, uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestTracker_Check_DryRun(t *testing.T) {
	tr := newTracker(t, newStore(t), nil)
	run := domain.NewRun(domain.RunParams{StartedAt: domain.TimePtr(base)}, nil, nil)

	report := tr.Check(run)
	if !report.Violations.Has(engine.InvariantScheduledNoStart) {
		t.Errorf("expected invariant 2, got %v", report.Violations)
	}

	if _, err := tr.GetRun(context.Background(), run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Error("Check must not persist")
	}
}
