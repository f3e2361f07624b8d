package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Runtrack/internal/mq"
)

// StepUpdatePublisher — отправка обновления шага через очередь steps.updates.
type StepUpdatePublisher interface {
	PublishStepUpdate(ctx context.Context, payload mq.StepUpdatePayload) error
}

// QueueFunc открывает соединение с брокером; close освобождает его.
type QueueFunc func(ctx context.Context) (pub StepUpdatePublisher, close func() error, err error)

// NewStepCmd создаёт группу команд для управления шагами.
func NewStepCmd(clientFn func() *Client, outputFn func() *Output, queueFn QueueFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Manage run steps",
	}

	cmd.AddCommand(
		newStepAddCmd(clientFn, outputFn),
		newStepStatusCmd(clientFn, outputFn, queueFn),
	)

	return cmd
}

var stepHeaders = []string{"STEP_ID", "ORDER", "NAME", "STATUS", "COMPLEXITY", "SWITCHES", "ELAPSED"}

func stepRows(steps []StepResponse) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		rows[i] = []string{
			s.ID, strconv.Itoa(s.Order), s.Name, s.Status,
			strconv.Itoa(s.Complexity), strconv.Itoa(s.ContextSwitches),
			formatElapsed(s.TimeElapsedMs),
		}
	}
	return rows
}

func newStepAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "add RUN_ID -f FILE",
		Short: "Add a step to a run (appended when order is omitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readJSON(cmd, file)
			if err != nil {
				return err
			}

			out := outputFn()
			step, warnings, err := clientFn().AddStep(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Step added: %s", step.ID))
			out.Warnings(warnings)
			out.Print(stepHeaders, stepRows([]StepResponse{*step}), step)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to step JSON (- for stdin)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newStepStatusCmd(clientFn func() *Client, outputFn func() *Output, queueFn QueueFunc) *cobra.Command {
	var at string
	var switches int
	var viaQueue bool

	cmd := &cobra.Command{
		Use:   "status RUN_ID STEP_ID STATUS",
		Short: "Change step status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var atTime *time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				atTime = &t
			}

			out := outputFn()

			if viaQueue {
				return publishStepUpdate(cmd.Context(), out, queueFn, args, atTime, switches)
			}

			run, warnings, err := clientFn().UpdateStepStatus(cmd.Context(), args[0], args[1], StepStatusRequest{
				Status:          args[2],
				At:              atTime,
				ContextSwitches: switches,
			})
			if err != nil {
				return err
			}

			out.Warnings(warnings)
			if out.jsonMode {
				out.JSON(run)
				return nil
			}
			out.Table(runHeaders, [][]string{runRow(*run)})
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Transition time in RFC3339 (now if not specified)")
	cmd.Flags().IntVar(&switches, "context-switches", 0, "Context switches to add to the step and run")
	cmd.Flags().BoolVar(&viaQueue, "via-queue", false, "Send the update through RabbitMQ instead of the HTTP API")

	return cmd
}

func publishStepUpdate(ctx context.Context, out *Output, queueFn QueueFunc, args []string, at *time.Time, switches int) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q", args[0])
	}
	stepID, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid step ID %q", args[1])
	}
	if queueFn == nil {
		return fmt.Errorf("queue is not configured")
	}

	pub, closeFn, err := queueFn(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	payload := mq.StepUpdatePayload{
		RunID:           runID,
		StepID:          stepID,
		Status:          args[2],
		ContextSwitches: switches,
	}
	if at != nil {
		payload.At = *at
	}

	if err := pub.PublishStepUpdate(ctx, payload); err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Step update queued: %s %s", stepID, args[2]))
	return nil
}
