package engine

import (
	"encoding/json"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/shaiso/Runtrack/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func invariantsOf(vs Violations) []Invariant {
	out := make([]Invariant, len(vs))
	for i, v := range vs {
		out[i] = v.Invariant
	}
	return out
}

// --- Scenario Tests ---

func TestValidate_ScheduledWithoutStart(t *testing.T) {
	run := domain.NewRun(domain.RunParams{Status: domain.RunStatusScheduled}, nil, nil)

	if vs := Validate(run); len(vs) != 0 {
		t.Errorf("expected no violations, got %v", vs)
	}
}

func TestValidate_ScheduledWithStart(t *testing.T) {
	run := domain.NewRun(domain.RunParams{
		Status:    domain.RunStatusScheduled,
		StartedAt: at(0),
	}, nil, nil)

	vs := Validate(run)
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %v", vs)
	}
	if vs[0].Invariant != InvariantScheduledNoStart {
		t.Errorf("expected invariant 2, got %d", vs[0].Invariant)
	}
	if vs[0].Kind != KindScheduledHasStart || vs[0].Severity != SeverityHard {
		t.Errorf("unexpected violation: %+v", vs[0])
	}
}

func TestValidate_DuplicateOrderReportedOnce(t *testing.T) {
	run := domain.NewRun(domain.RunParams{}, []domain.Step{
		{Name: "a", Order: 0},
		{Name: "b", Order: 1},
		{Name: "c", Order: 1},
	}, nil)

	vs := Validate(run)
	if len(vs) != 1 {
		t.Fatalf("expected exactly 1 violation, got %v", vs)
	}
	if vs[0].Invariant != InvariantUniqueStepOrder {
		t.Errorf("expected invariant 8, got %d", vs[0].Invariant)
	}
	if vs[0].Actual != "1 (x2)" {
		t.Errorf("violation should identify order 1, got %q", vs[0].Actual)
	}
}

func TestValidate_OwnershipConflict(t *testing.T) {
	run := domain.NewRun(domain.RunParams{
		Owner: domain.Owner{UserID: "u1", TeamID: "t1"},
	}, nil, nil)

	vs := Validate(run)
	if len(vs) != 1 || vs[0].Invariant != InvariantOwnership {
		t.Fatalf("expected invariant 1, got %v", vs)
	}
	if vs[0].Kind != KindOwnershipConflict {
		t.Errorf("expected ownership_conflict kind, got %s", vs[0].Kind)
	}

	err := vs.Err()
	if !errors.Is(err, ErrOwnershipConflict) {
		t.Error("error should match ErrOwnershipConflict")
	}
	if !errors.Is(err, ErrInvariantViolation) {
		t.Error("error should match ErrInvariantViolation")
	}
}

// --- Invariant Tests ---

func TestValidate_EachInvariant(t *testing.T) {
	tests := []struct {
		name string
		run  *domain.Run
		want []Invariant
	}{
		{
			name: "in progress without start",
			run:  domain.NewRun(domain.RunParams{Status: domain.RunStatusInProgress}, nil, nil),
			want: []Invariant{InvariantInProgressStarted},
		},
		{
			name: "completed without end",
			run: domain.NewRun(domain.RunParams{
				Status:    domain.RunStatusCompleted,
				StartedAt: at(0),
			}, nil, nil),
			want: []Invariant{InvariantCompletedHasEnd},
		},
		{
			name: "start equals end",
			run: domain.NewRun(domain.RunParams{
				Status:      domain.RunStatusCompleted,
				StartedAt:   at(0),
				CompletedAt: at(0),
			}, nil, nil),
			want: []Invariant{InvariantTimeRange},
		},
		{
			name: "negative counters",
			run: domain.NewRun(domain.RunParams{
				CompletedComplexity: -1,
				ContextSwitches:     -2,
			}, []domain.Step{{Order: 0, Complexity: -3}}, nil),
			want: []Invariant{InvariantNonNegative, InvariantNonNegative, InvariantNonNegative},
		},
		{
			name: "invalid json data",
			run:  domain.NewRun(domain.RunParams{Data: json.RawMessage(`{"a":`)}, nil, nil),
			want: []Invariant{InvariantValidJSON},
		},
		{
			name: "invalid json io",
			run:  domain.NewRun(domain.RunParams{}, nil, []domain.IO{{Data: json.RawMessage(`nope`)}}),
			want: []Invariant{InvariantValidJSON},
		},
		{
			name: "step time range",
			run: domain.NewRun(domain.RunParams{Status: domain.RunStatusInProgress, StartedAt: at(0)}, []domain.Step{
				{Order: 0, Status: domain.StepStatusCompleted, StartedAt: at(time.Minute), CompletedAt: at(time.Second)},
			}, nil),
			want: []Invariant{InvariantStepTimeRange},
		},
		{
			name: "completed step without end",
			run: domain.NewRun(domain.RunParams{Status: domain.RunStatusInProgress, StartedAt: at(0)}, []domain.Step{
				{Order: 0, Status: domain.StepStatusCompleted, StartedAt: at(time.Second)},
			}, nil),
			want: []Invariant{InvariantStepCompletedAtSet},
		},
		{
			name: "unknown run status",
			run:  domain.NewRun(domain.RunParams{Status: "BOGUS"}, nil, nil),
			want: []Invariant{InvariantKnownStatus},
		},
		{
			name: "unknown step status",
			run:  domain.NewRun(domain.RunParams{}, []domain.Step{{Order: 0, Status: "DONE"}}, nil),
			want: []Invariant{InvariantKnownStatus},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := invariantsOf(Validate(tt.run))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_OrderedByInvariant(t *testing.T) {
	run := domain.NewRun(domain.RunParams{
		Status:      domain.RunStatusScheduled,
		StartedAt:   at(time.Hour),
		CompletedAt: at(0),
		Owner:       domain.Owner{UserID: "u", TeamID: "t"},
		Data:        json.RawMessage(`{`),
	}, []domain.Step{
		{Order: 2, Status: domain.StepStatusCompleted},
		{Order: 2},
	}, nil)

	got := invariantsOf(Validate(run))
	want := []Invariant{
		InvariantOwnership,
		InvariantScheduledNoStart,
		InvariantTimeRange,
		InvariantValidJSON,
		InvariantUniqueStepOrder,
		InvariantStepCompletedAtSet,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValidate_Severity(t *testing.T) {
	run := domain.NewRun(domain.RunParams{
		Status: domain.RunStatusInProgress,
		Data:   json.RawMessage(`{`),
	}, nil, nil)

	vs := Validate(run)
	if len(vs.Hard()) != 1 || vs.Hard()[0].Invariant != InvariantInProgressStarted {
		t.Errorf("expected invariant 3 as hard, got %v", vs.Hard())
	}
	if len(vs.Soft()) != 1 || vs.Soft()[0].Invariant != InvariantValidJSON {
		t.Errorf("expected invariant 7 as soft, got %v", vs.Soft())
	}

	strict := Validator{Policy: Policy{SoftAsHard: true}}.Validate(run)
	if len(strict.Soft()) != 0 || len(strict.Hard()) != 2 {
		t.Errorf("SoftAsHard should promote all violations, got %v", strict)
	}
}

func TestValidate_RequireAllStepsCompleted(t *testing.T) {
	run := domain.NewRun(domain.RunParams{
		Status:      domain.RunStatusCompleted,
		StartedAt:   at(0),
		CompletedAt: at(time.Hour),
	}, []domain.Step{
		{Order: 0, Status: domain.StepStatusCompleted, StartedAt: at(time.Second), CompletedAt: at(time.Minute)},
		{Order: 1, Status: domain.StepStatusPending},
	}, nil)

	if vs := Validate(run); len(vs) != 0 {
		t.Errorf("default policy should accept incomplete steps, got %v", vs)
	}

	vs := Validator{Policy: Policy{RequireAllStepsCompleted: true}}.Validate(run)
	if len(vs) != 1 || vs[0].Invariant != InvariantAllStepsCompleted {
		t.Fatalf("expected invariant 11, got %v", vs)
	}
	if vs[0].StepID == nil || *vs[0].StepID != run.Steps[1].ID {
		t.Error("violation should point at the pending step")
	}
}

func TestValidate_UnknownStatusIsHard(t *testing.T) {
	run := domain.NewRun(domain.RunParams{Status: "BOGUS"}, []domain.Step{{Order: 3, Status: "DONE"}}, nil)

	vs := Validate(run)
	if len(vs) != 2 || len(vs.Hard()) != 2 {
		t.Fatalf("expected 2 hard violations, got %v", vs)
	}
	if vs[0].Kind != KindUnknownStatus || vs[0].Field != "status" || vs[0].Actual != "BOGUS" {
		t.Errorf("run status violation = %+v", vs[0])
	}
	if vs[1].StepID == nil || *vs[1].StepID != run.Steps[0].ID || vs[1].Actual != "DONE" {
		t.Errorf("step status violation = %+v", vs[1])
	}
	if !errors.Is(vs.Err(), ErrInvariantViolation) {
		t.Error("error should match ErrInvariantViolation")
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	run := domain.NewRun(domain.RunParams{}, []domain.Step{
		{Name: "late", Order: 5},
		{Name: "early", Order: 1},
		{Name: "dup", Order: 1},
	}, nil)
	// Перемешиваем, чтобы проверить, что валидатор не сортирует исходный срез
	run.Steps[0], run.Steps[2] = run.Steps[2], run.Steps[0]
	before := run.Clone()

	Validate(run)

	if !reflect.DeepEqual(before, run) {
		t.Error("Validate should not modify the run")
	}
}

// --- Property Tests ---

func randomTime(r *rand.Rand) *time.Time {
	if r.Intn(3) == 0 {
		return nil
	}
	return at(time.Duration(r.Intn(5)) * time.Minute)
}

func randomRun(r *rand.Rand) *domain.Run {
	statuses := []domain.RunStatus{
		domain.RunStatusScheduled, domain.RunStatusInProgress,
		domain.RunStatusCompleted, domain.RunStatusFailed,
	}
	owners := []string{"", "u1", "t1"}

	steps := make([]domain.Step, r.Intn(6))
	for i := range steps {
		steps[i] = domain.Step{
			Order:       r.Intn(4),
			Status:      []domain.StepStatus{domain.StepStatusPending, domain.StepStatusInProgress, domain.StepStatusCompleted}[r.Intn(3)],
			Complexity:  r.Intn(5) - 1,
			StartedAt:   randomTime(r),
			CompletedAt: randomTime(r),
		}
	}

	return domain.NewRun(domain.RunParams{
		Status:              statuses[r.Intn(len(statuses))],
		Owner:               domain.Owner{UserID: owners[r.Intn(3)], TeamID: owners[r.Intn(3)]},
		StartedAt:           randomTime(r),
		CompletedAt:         randomTime(r),
		CompletedComplexity: r.Intn(5) - 1,
	}, steps, nil)
}

func TestValidate_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		run := randomRun(r)
		vs := Validate(run)

		// Идемпотентность
		if again := Validate(run); !reflect.DeepEqual(vs, again) {
			t.Fatalf("validation is not deterministic: %v vs %v", vs, again)
		}

		// Валидный run удовлетворяет всем свойствам
		if len(vs) > 0 {
			continue
		}
		if run.Owner.IsConflicting() {
			t.Fatalf("valid run has both owners: %+v", run.Owner)
		}
		if run.Status == domain.RunStatusScheduled && run.StartedAt != nil {
			t.Fatal("valid scheduled run has startedAt")
		}
		if run.Status == domain.RunStatusInProgress && run.StartedAt == nil {
			t.Fatal("valid in-progress run has no startedAt")
		}
		if run.StartedAt != nil && run.CompletedAt != nil && !run.StartedAt.Before(*run.CompletedAt) {
			t.Fatal("valid run has invalid time range")
		}
		seen := map[int]bool{}
		for _, s := range run.Steps {
			if seen[s.Order] {
				t.Fatalf("valid run has duplicate order %d", s.Order)
			}
			seen[s.Order] = true
			if s.Status == domain.StepStatusCompleted && s.CompletedAt == nil {
				t.Fatal("valid run has completed step without completedAt")
			}
		}
	}
}

func TestValidate_OwnerCombinations(t *testing.T) {
	for _, user := range []string{"", "u1"} {
		for _, team := range []string{"", "t1"} {
			run := domain.NewRun(domain.RunParams{Owner: domain.Owner{UserID: user, TeamID: team}}, nil, nil)
			flagged := Validate(run).Has(InvariantOwnership)
			conflicting := user != "" && team != ""
			if flagged != conflicting {
				t.Errorf("user=%q team=%q: flagged=%v, want %v", user, team, flagged, conflicting)
			}
		}
	}
}
