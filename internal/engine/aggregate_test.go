package engine

import (
	"testing"
	"time"

	"github.com/shaiso/Runtrack/internal/domain"
)

func TestRecomputeComplexity(t *testing.T) {
	run := domain.NewRun(domain.RunParams{}, []domain.Step{
		{Order: 0, Status: domain.StepStatusCompleted, Complexity: 3, StartedAt: at(0), CompletedAt: at(time.Second)},
		{Order: 1, Status: domain.StepStatusInProgress, Complexity: 5, StartedAt: at(0)},
		{Order: 2, Status: domain.StepStatusCompleted, Complexity: 4, StartedAt: at(0), CompletedAt: at(time.Second)},
		{Order: 3, Status: domain.StepStatusPending, Complexity: 10},
	}, nil)

	if got := RecomputeComplexity(run); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	run := domain.NewRun(domain.RunParams{}, []domain.Step{
		{Order: 0, Status: domain.StepStatusCompleted, Complexity: 1},
		{Order: 1, Status: domain.StepStatusInProgress, Complexity: 2},
		{Order: 2, Complexity: 3},
	}, []domain.IO{{NodeName: "n"}})

	s := Summarize(run)
	want := Summary{
		TotalSteps:      3,
		PendingSteps:    1,
		InProgressSteps: 1,
		CompletedSteps:  1,
		TotalComplexity: 6,
		IORecords:       1,
	}
	if s != want {
		t.Errorf("got %+v, want %+v", s, want)
	}
}

func TestDetectDrift(t *testing.T) {
	run := domain.NewRun(domain.RunParams{CompletedComplexity: 3, ContextSwitches: 4}, []domain.Step{
		{Order: 0, Status: domain.StepStatusCompleted, Complexity: 3, ContextSwitches: 2},
		{Order: 1, Status: domain.StepStatusPending, Complexity: 8, ContextSwitches: 1},
	}, nil)

	d := DetectDrift(run)
	if d.HasDrift() {
		t.Errorf("expected no drift, got %+v", d)
	}

	// Run-level переключения сверх суммы по шагам допустимы
	run.ContextSwitches = 10
	if DetectDrift(run).HasDrift() {
		t.Error("run-level context switches above step total should not be drift")
	}

	run.CompletedComplexity = 5
	d = DetectDrift(run)
	if !d.HasDrift() || d.ComplexityDelta() != 2 {
		t.Errorf("expected complexity drift of 2, got %+v", d)
	}

	run.CompletedComplexity = 3
	run.ContextSwitches = 1
	if !DetectDrift(run).HasDrift() {
		t.Error("run context switches below step total should be drift")
	}
}
