package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Runtrack/internal/telemetry"
)

// Handler — функция обработки сообщения.
//
// nil — ack; ошибка, обёрнутая Reject, — nack без requeue (в DLQ);
// любая другая ошибка — nack с requeue.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение с методами ack/nack.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
// requeue=true — вернуть в очередь, false — отправить в DLQ.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start запускает потребление сообщений.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	// Запускаем основной цикл потребления
	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Получаем канал доставки
		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			// Ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-c.conn.ReconnectNotify():
				c.logReconnect(ev)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue)

		// Обрабатываем сообщения
		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			// Канал закрыт, ждём переподключения
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-c.conn.ReconnectNotify():
				c.logReconnect(ev)
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNotConnected
	}

	// Устанавливаем prefetch
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// Начинаем потребление
	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	// Парсим сообщение
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		// Некорректное сообщение — отправляем в DLQ
		raw.Nack(false, false)
		return
	}

	delivery := &Delivery{
		Message: msg,
		Raw:     raw,
	}

	log := deliveryLogger(c.logger, c.queue, &msg)
	log.Debug("received message")

	switch outcome := Classify(c.handler(telemetry.WithLogger(ctx, log), delivery)); outcome.Action {
	case ActionAck:
		raw.Ack(false)
	case ActionReject:
		log.Error("message rejected", "error", outcome.Err)
		raw.Nack(false, false)
	default:
		log.Warn("handler failed, requeueing", "error", outcome.Err, "redelivered", raw.Redelivered)
		raw.Nack(false, true)
	}
}

// logReconnect сообщает о переподписке на очередь после переподключения.
// Неподтверждённые до разрыва сообщения брокер доставит повторно.
func (c *Consumer) logReconnect(ev Reconnect) {
	c.logger.Info("resubscribing after reconnect",
		"queue", c.queue,
		"attempts", ev.Attempts,
		"downtime", ev.Downtime,
	)
}

// messageRef — идентификаторы run и шага, общие для всех payload.
type messageRef struct {
	RunID  string `json:"run_id"`
	StepID string `json:"step_id"`
}

// deliveryLogger возвращает логгер с контекстом сообщения: очередь, ID, тип,
// а также run_id и step_id, если они есть в payload.
func deliveryLogger(logger *slog.Logger, queue string, msg *Message) *slog.Logger {
	log := logger.With("queue", queue, "message_id", msg.ID, "type", msg.Type)

	var ref messageRef
	if json.Unmarshal(msg.Payload, &ref) != nil {
		return log
	}
	if ref.RunID != "" {
		log = telemetry.WithRunID(log, ref.RunID)
	}
	if ref.StepID != "" {
		log = telemetry.WithStepID(log, ref.StepID)
	}
	return log
}

// Action — решение по доставленному сообщению.
type Action int

const (
	ActionAck Action = iota
	ActionRequeue
	ActionReject
)

// Outcome — результат обработки сообщения.
type Outcome struct {
	Action Action
	Err    error
}

// Classify переводит результат Handler в решение ack/nack.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Action: ActionAck}
	case IsReject(err):
		return Outcome{Action: ActionReject, Err: err}
	default:
		return Outcome{Action: ActionRequeue, Err: err}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if len(msg.Payload) == 0 {
		return result, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
