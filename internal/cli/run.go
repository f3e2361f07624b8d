package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunCreateCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStatusCmd(clientFn, outputFn),
		newRunSwitchesCmd(clientFn, outputFn),
		newRunIOCmd(clientFn, outputFn),
		newRunDeleteCmd(clientFn, outputFn),
		newRunValidateCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "NAME", "STATUS", "OWNER", "COMPLEXITY", "SWITCHES", "ELAPSED", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{
		r.ID, r.Name, r.Status, r.Owner(),
		strconv.Itoa(r.CompletedComplexity), strconv.Itoa(r.ContextSwitches),
		r.Elapsed(), r.CreatedAt,
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "Filter by status (SCHEDULED, IN_PROGRESS, COMPLETED, FAILED), repeatable")
	cmd.Flags().StringVar(&opts.UpdatedSince, "updated-since", "", "Only runs updated since this RFC3339 time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newRunCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a run from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSON(cmd, file)
			if err != nil {
				return err
			}

			out := outputFn()
			run, warnings, err := clientFn().CreateRun(cmd.Context(), body)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run created: %s", run.ID))
			out.Warnings(warnings)
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to run JSON (- for stdin)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(run)
				return nil
			}

			out.Table(runHeaders, [][]string{runRow(*run)})
			if len(run.Steps) > 0 {
				fmt.Fprintln(out.w)
				out.Table(stepHeaders, stepRows(run.Steps))
			}
			if len(run.IO) > 0 {
				fmt.Fprintln(out.w)
				rows := make([][]string, len(run.IO))
				for i, rec := range run.IO {
					rows[i] = []string{rec.ID, rec.NodeName, rec.NodeInputName}
				}
				out.Table([]string{"IO_ID", "NODE", "INPUT"}, rows)
			}
			return nil
		},
	}
}

func newRunStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Change run status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := RunStatusRequest{Status: args[1]}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				req.At = &t
			}

			out := outputFn()
			run, warnings, err := clientFn().UpdateRunStatus(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run %s is now %s", run.ID, run.Status))
			out.Warnings(warnings)
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Transition time in RFC3339 (now if not specified)")

	return cmd
}

func newRunSwitchesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "switches ID DELTA",
		Short: "Add context switches to a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}

			run, err := clientFn().AddContextSwitches(cmd.Context(), args[0], delta)
			if err != nil {
				return err
			}

			outputFn().Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}

func newRunIOCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "io RUN_ID -f FILE",
		Short: "Record a node input/output snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSON(cmd, file)
			if err != nil {
				return err
			}

			rec, err := clientFn().RecordIO(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"ID", "RUN_ID", "NODE", "INPUT"},
				[][]string{{rec.ID, rec.RunID, rec.NodeName, rec.NodeInputName}},
				rec,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to IO JSON (- for stdin)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newRunDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var include []string

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a run or selected relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			res, err := clientFn().DeleteRun(cmd.Context(), args[0], include)
			if err != nil {
				return err
			}

			if res.RunDeleted {
				out.Success(fmt.Sprintf("Run deleted: %s", res.RunID))
			} else {
				out.Success(fmt.Sprintf("Relations deleted for run %s", res.RunID))
			}
			out.Print(
				[]string{"RUN_ID", "STEPS", "IO", "STEP_CHILDREN", "RUN_DELETED"},
				[][]string{{
					res.RunID,
					strconv.FormatInt(res.Steps, 10),
					strconv.FormatInt(res.IO, 10),
					strconv.FormatInt(res.StepChildren, 10),
					strconv.FormatBool(res.RunDeleted),
				}},
				res,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "Delete only these relations (steps, io); the run is kept")

	return cmd
}

func newRunValidateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate ID",
		Short: "Check stored run invariants and aggregate drift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := clientFn().ValidateRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printReport(outputFn(), report)
		},
	}
}

// printReport выводит отчёт проверки; невалидный отчёт возвращает ошибку (ненулевой код выхода).
func printReport(out *Output, report *ReportResponse) error {
	if out.jsonMode {
		out.JSON(report)
	} else {
		if len(report.Violations) > 0 {
			out.Violations(report.Violations)
		}
		if report.Drift.HasDrift {
			out.Error(fmt.Sprintf("aggregate drift: complexity stored=%d recomputed=%d, context switches stored=%d recomputed=%d",
				report.Drift.StoredComplexity, report.Drift.RecomputedComplexity,
				report.Drift.StoredContextSwitches, report.Drift.RecomputedContextSwitches))
		}
	}

	if !report.Valid {
		return fmt.Errorf("%d invariant violation(s)", len(report.Violations))
	}
	out.Success("Run is valid")
	return nil
}

// readJSON читает JSON из файла или stdin ("-").
func readJSON(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	return data, nil
}
