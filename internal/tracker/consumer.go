package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Runtrack/internal/domain"
	"github.com/shaiso/Runtrack/internal/mq"
	"github.com/shaiso/Runtrack/internal/telemetry"
)

// Исходы обработки обновления шага (метка метрики).
const (
	outcomeApplied  = "applied"
	outcomeDropped  = "dropped"
	outcomeRejected = "rejected"
	outcomeRetry    = "retry"
)

// StepUpdateHandler возвращает обработчик очереди steps.updates.
//
// Классификация:
//   - применено — ack;
//   - недопустимый переход, нарушение инварианта, run/шаг не найден — ack и сброс (с логом);
//   - некорректное сообщение — reject в DLQ;
//   - сбой хранилища — nack с requeue.
func (t *Tracker) StepUpdateHandler() mq.Handler {
	return func(ctx context.Context, d *mq.Delivery) error {
		outcome, err := t.handleStepUpdate(ctx, &d.Message)
		telemetry.StepUpdatesConsumed.WithLabelValues(outcome).Inc()
		return err
	}
}

func (t *Tracker) handleStepUpdate(ctx context.Context, msg *mq.Message) (string, error) {
	if msg.Type != mq.MessageTypeStepUpdate {
		return outcomeRejected, mq.Reject(fmt.Errorf("unexpected message type %q", msg.Type))
	}

	payload, err := mq.ParsePayload[mq.StepUpdatePayload](msg)
	if err != nil {
		return outcomeRejected, mq.Reject(err)
	}
	status, ok := domain.ParseStepStatus(payload.Status)
	if !ok {
		return outcomeRejected, mq.Reject(fmt.Errorf("unknown step status %q", payload.Status))
	}

	log := telemetry.WithStepID(telemetry.WithRunID(t.logger, payload.RunID.String()), payload.StepID.String())

	_, err = t.UpdateStepStatus(ctx, payload.RunID, payload.StepID, StepUpdate{
		Status:          status,
		At:              payload.At,
		ContextSwitches: payload.ContextSwitches,
	})
	switch {
	case err == nil:
		return outcomeApplied, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeRetry, err
	case IsRejection(err):
		log.Warn("step update dropped", "message_id", msg.ID, "status", status, "error", err)
		return outcomeDropped, nil
	default:
		return outcomeRetry, err
	}
}
