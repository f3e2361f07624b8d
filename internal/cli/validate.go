package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Runtrack/internal/api"
	"github.com/shaiso/Runtrack/internal/engine"
)

// NewValidateCmd создаёт команду проверки run из файла.
//
// С --offline файл проверяется локально тем же валидатором, что и на сервере;
// иначе отправляется в POST /api/v1/validate.
func NewValidateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var offline bool
	var policy engine.Policy

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a run JSON file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSON(cmd, args[0])
			if err != nil {
				return err
			}

			var report *ReportResponse
			if offline {
				report, err = ValidateOffline(body, policy)
			} else {
				report, err = clientFn().ValidateDraft(cmd.Context(), body)
			}
			if err != nil {
				return err
			}
			return printReport(outputFn(), report)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Validate locally without calling the API")
	cmd.Flags().BoolVar(&policy.RequireAllStepsCompleted, "require-all-steps-completed", false, "Offline: COMPLETED run requires all steps COMPLETED")
	cmd.Flags().BoolVar(&policy.SoftAsHard, "soft-invariants-fatal", false, "Offline: treat soft violations as hard")

	return cmd
}

// ValidateOffline проверяет JSON-описание run (формат api.CreateRunRequest) локально.
func ValidateOffline(body []byte, policy engine.Policy) (*ReportResponse, error) {
	var req api.CreateRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}
	run, err := req.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}

	violations := engine.Validator{Policy: policy}.Validate(run)
	drift := engine.DetectDrift(run)
	summary := engine.Summarize(run)

	report := &ReportResponse{
		RunID:      run.ID.String(),
		Valid:      len(violations) == 0,
		Violations: make([]Violation, len(violations)),
	}
	for i, v := range violations {
		report.Violations[i] = Violation{
			Invariant: int(v.Invariant),
			Kind:      string(v.Kind),
			Severity:  string(v.Severity),
			Field:     v.Field,
			Expected:  v.Expected,
			Actual:    v.Actual,
		}
		if v.StepID != nil {
			report.Violations[i].StepID = v.StepID.String()
		}
	}
	report.Drift.StoredComplexity = drift.StoredComplexity
	report.Drift.RecomputedComplexity = drift.RecomputedComplexity
	report.Drift.StoredContextSwitches = drift.StoredContextSwitches
	report.Drift.RecomputedContextSwitches = drift.RecomputedContextSwitches
	report.Drift.HasDrift = drift.HasDrift()
	report.Summary.TotalSteps = summary.TotalSteps
	report.Summary.CompletedSteps = summary.CompletedSteps

	return report, nil
}
