package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunCreated        MessageType = "run.created"
	MessageTypeRunStatusChanged  MessageType = "run.status_changed"
	MessageTypeStepStatusChanged MessageType = "step.status_changed"
	MessageTypeRunDeleted        MessageType = "run.deleted"
	MessageTypeStepUpdate        MessageType = "step.update"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с сериализованным payload.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// RunEventPayload — payload событий run.created и run.status_changed.
type RunEventPayload struct {
	RunID          uuid.UUID  `json:"run_id"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// StepEventPayload — payload события step.status_changed.
type StepEventPayload struct {
	RunID          uuid.UUID `json:"run_id"`
	StepID         uuid.UUID `json:"step_id"`
	Order          int       `json:"order"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
}

// RunDeletedPayload — payload события run.deleted.
type RunDeletedPayload struct {
	RunID uuid.UUID `json:"run_id"`

	// Relations — удалённые связи; пусто, если удалён весь run.
	Relations []string `json:"relations,omitempty"`

	// RunDeleted — true, если удалена и сама запись run.
	RunDeleted bool `json:"run_deleted"`
}

// StepUpdatePayload — входящее обновление статуса шага от исполнителя.
type StepUpdatePayload struct {
	RunID  uuid.UUID `json:"run_id"`
	StepID uuid.UUID `json:"step_id"`
	Status string    `json:"status"`

	// At — момент перехода; пустой означает «сейчас».
	At time.Time `json:"at,omitzero"`

	// ContextSwitches — прирост переключений контекста.
	ContextSwitches int `json:"context_switches,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

func (p *Publisher) publishEvent(ctx context.Context, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKey(msgType), msg)
}

// PublishRunCreated публикует событие о создании run.
func (p *Publisher) PublishRunCreated(ctx context.Context, payload RunEventPayload) error {
	return p.publishEvent(ctx, MessageTypeRunCreated, payload)
}

// PublishRunStatusChanged публикует событие о смене статуса run.
func (p *Publisher) PublishRunStatusChanged(ctx context.Context, payload RunEventPayload) error {
	return p.publishEvent(ctx, MessageTypeRunStatusChanged, payload)
}

// PublishStepStatusChanged публикует событие о смене статуса шага.
func (p *Publisher) PublishStepStatusChanged(ctx context.Context, payload StepEventPayload) error {
	return p.publishEvent(ctx, MessageTypeStepStatusChanged, payload)
}

// PublishRunDeleted публикует событие об удалении run или его связей.
func (p *Publisher) PublishRunDeleted(ctx context.Context, payload RunDeletedPayload) error {
	return p.publishEvent(ctx, MessageTypeRunDeleted, payload)
}

// PublishStepUpdate отправляет обновление шага в очередь steps.updates.
// Отправитель: исполнители и CLI.
func (p *Publisher) PublishStepUpdate(ctx context.Context, payload StepUpdatePayload) error {
	msg, err := NewMessage(MessageTypeStepUpdate, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeSteps, RoutingKeyStepUpdate, msg)
}
