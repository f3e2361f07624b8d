package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- NewRun Tests ---

func TestNewRun_Defaults(t *testing.T) {
	run := NewRun(RunParams{Name: "nightly"}, []Step{
		{Name: "b", Order: 1},
		{Name: "a", Order: 0},
	}, []IO{
		{NodeName: "n1", NodeInputName: "in"},
	})

	if run.ID == uuid.Nil {
		t.Fatal("ID should be generated")
	}
	if run.Status != RunStatusScheduled {
		t.Errorf("expected status SCHEDULED, got %s", run.Status)
	}
	if run.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	// Шаги отсортированы по order
	if run.Steps[0].Name != "a" || run.Steps[1].Name != "b" {
		t.Errorf("steps should be sorted by order, got %s, %s", run.Steps[0].Name, run.Steps[1].Name)
	}

	for _, s := range run.Steps {
		if s.ID == uuid.Nil {
			t.Error("step ID should be generated")
		}
		if s.RunID != run.ID {
			t.Error("step RunID should point to the run")
		}
		if s.Status != StepStatusPending {
			t.Errorf("expected step status PENDING, got %s", s.Status)
		}
	}

	if run.IO[0].RunID != run.ID || run.IO[0].ID == uuid.Nil {
		t.Error("io record should be adopted by the run")
	}
}

func TestNewRun_KeepsExplicitValues(t *testing.T) {
	id := NewID()
	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	run := NewRun(RunParams{
		ID:        id,
		Status:    RunStatusInProgress,
		StartedAt: &started,
	}, nil, nil)

	if run.ID != id {
		t.Errorf("expected ID %s, got %s", id, run.ID)
	}
	if run.Status != RunStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", run.Status)
	}

	// Конструктор копирует указатели
	started = started.Add(time.Hour)
	if run.StartedAt.Hour() != 10 {
		t.Error("StartedAt should not alias caller's variable")
	}
}

// --- Clone Tests ---

func TestRun_Clone_IsDeep(t *testing.T) {
	started := time.Now()
	run := NewRun(RunParams{StartedAt: &started, Data: json.RawMessage(`{"a":1}`)}, []Step{
		{Order: 0, StartedAt: &started},
	}, []IO{{Data: json.RawMessage(`1`)}})

	clone := run.Clone()
	clone.Steps[0].Status = StepStatusCompleted
	clone.Steps[0].StartedAt = nil
	*clone.StartedAt = started.Add(time.Hour)
	clone.Data[0] = '['
	clone.IO[0].Data[0] = '2'

	if run.Steps[0].Status != StepStatusPending {
		t.Error("clone should not share steps slice")
	}
	if run.Steps[0].StartedAt == nil {
		t.Error("clone should not share step pointers")
	}
	if !run.StartedAt.Equal(started) {
		t.Error("clone should not share StartedAt")
	}
	if string(run.Data) != `{"a":1}` {
		t.Error("clone should not share Data buffer")
	}
	if string(run.IO[0].Data) != `1` {
		t.Error("clone should not share IO data buffer")
	}
}

// --- Adopt Tests ---

func TestRun_Adopt(t *testing.T) {
	foreign := NewID()
	run := &Run{
		Steps: []Step{
			{Name: "b", Order: 1, RunID: foreign},
			{Name: "a", Order: 0},
		},
		IO: []IO{{NodeName: "n1"}},
	}

	run.Adopt()

	if run.ID == uuid.Nil || run.Status != RunStatusScheduled || run.CreatedAt.IsZero() {
		t.Fatalf("run defaults not applied: %+v", run)
	}
	if !run.UpdatedAt.Equal(run.CreatedAt) {
		t.Error("UpdatedAt should default to CreatedAt")
	}
	if run.Steps[0].Name != "a" {
		t.Error("steps should be sorted by order")
	}
	for _, s := range run.Steps {
		if s.ID == uuid.Nil || s.RunID != run.ID || s.Status != StepStatusPending {
			t.Errorf("step not adopted: %+v", s)
		}
	}
	if run.IO[0].ID == uuid.Nil || run.IO[0].RunID != run.ID {
		t.Errorf("io not adopted: %+v", run.IO[0])
	}
}

func TestRun_TruncateTimes(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	run := NewRun(RunParams{
		StartedAt: TimePtr(base.Add(1500 * time.Nanosecond)),
		CreatedAt: base.Add(999 * time.Nanosecond),
	}, []Step{{Order: 0, CompletedAt: TimePtr(base.Add(2*time.Microsecond + 1))}}, nil)

	run.TruncateTimes()

	if !run.StartedAt.Equal(base.Add(time.Microsecond)) {
		t.Errorf("StartedAt = %v", run.StartedAt)
	}
	if !run.CreatedAt.Equal(base) || !run.UpdatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, UpdatedAt = %v", run.CreatedAt, run.UpdatedAt)
	}
	if !run.Steps[0].CompletedAt.Equal(base.Add(2 * time.Microsecond)) {
		t.Errorf("step CompletedAt = %v", run.Steps[0].CompletedAt)
	}
	if run.CompletedAt != nil || run.Steps[0].StartedAt != nil {
		t.Error("unset timestamps must stay unset")
	}
}

// --- Accessor Tests ---

func TestRun_NextStepOrder(t *testing.T) {
	run := NewRun(RunParams{}, nil, nil)
	if got := run.NextStepOrder(); got != 0 {
		t.Errorf("expected 0 for empty run, got %d", got)
	}

	run.AttachStep(Step{Order: 4})
	run.AttachStep(Step{Order: 2})
	if got := run.NextStepOrder(); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	if !run.HasStepOrder(2) || run.HasStepOrder(3) {
		t.Error("HasStepOrder mismatch")
	}
}

func TestRun_Step(t *testing.T) {
	run := NewRun(RunParams{}, []Step{{Order: 0}}, nil)
	id := run.Steps[0].ID

	step, ok := run.Step(id)
	if !ok {
		t.Fatal("step should be found")
	}
	step.Complexity = 7
	if run.Steps[0].Complexity != 7 {
		t.Error("Step should return pointer into the aggregate")
	}

	if _, ok := run.Step(uuid.New()); ok {
		t.Error("unknown step should not be found")
	}
}

func TestRun_DecodeData(t *testing.T) {
	run := NewRun(RunParams{Data: json.RawMessage(`{"decision":"retry"}`)}, nil, nil)

	var payload struct {
		Decision string `json:"decision"`
	}
	if err := run.DecodeData(&payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Decision != "retry" {
		t.Errorf("expected retry, got %s", payload.Decision)
	}

	empty := NewRun(RunParams{}, nil, nil)
	if err := empty.DecodeData(&payload); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestRun_Elapsed(t *testing.T) {
	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	run := NewRun(RunParams{StartedAt: &started, CompletedAt: &completed}, nil, nil)
	if run.Elapsed() != 90*time.Second {
		t.Errorf("expected 90s from timestamps, got %s", run.Elapsed())
	}

	// Явно заданная длительность приоритетнее timestamps
	run.TimeElapsed = Int64Ptr(5000)
	if run.Elapsed() != 5*time.Second {
		t.Errorf("expected 5s from TimeElapsed, got %s", run.Elapsed())
	}
}

// --- Status Tests ---

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusScheduled, false},
		{RunStatusInProgress, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, ok := ParseRunStatus("IN_PROGRESS"); !ok {
		t.Error("IN_PROGRESS should parse")
	}
	if _, ok := ParseRunStatus("RUNNING"); ok {
		t.Error("RUNNING is not a run status")
	}
	if _, ok := ParseStepStatus("PENDING"); !ok {
		t.Error("PENDING should parse")
	}
	if _, ok := ParseStepStatus("FAILED"); ok {
		t.Error("FAILED is not a step status")
	}
}
