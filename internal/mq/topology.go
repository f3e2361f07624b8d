package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeRuns — события жизненного цикла runs (topic, routing key = тип события).
	ExchangeRuns Exchange = "runtrack.runs"

	// ExchangeSteps — входящие обновления шагов от исполнителей.
	ExchangeSteps Exchange = "runtrack.steps"

	ExchangeDLQ Exchange = "runtrack.dlq"
)

// Queues — имена очередей.
const (
	QueueStepUpdates Queue = "steps.updates"
	QueueDLQSteps    Queue = "dlq.steps"
)

// Routing keys.
const (
	RoutingKeyRunCreated        RoutingKey = RoutingKey(MessageTypeRunCreated)
	RoutingKeyRunStatusChanged  RoutingKey = RoutingKey(MessageTypeRunStatusChanged)
	RoutingKeyStepStatusChanged RoutingKey = RoutingKey(MessageTypeStepStatusChanged)
	RoutingKeyRunDeleted        RoutingKey = RoutingKey(MessageTypeRunDeleted)

	RoutingKeyStepUpdate RoutingKey = "update"
	RoutingKeyDLQSteps   RoutingKey = "steps"
)

// SetupTopology объявляет exchanges, очереди и привязки. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, amqp.ExchangeTopic},
		{ExchangeSteps, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQSteps),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// steps.updates — отклонённые (reject) сообщения уходят в DLQ
		{QueueStepUpdates, dlqArgs},
		{QueueDLQSteps, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
// На runtrack.runs очереди объявляют сами подписчики.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueStepUpdates, RoutingKeyStepUpdate, ExchangeSteps},
		{QueueDLQSteps, RoutingKeyDLQSteps, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Runtrack RabbitMQ Topology:

    runtrack.runs (topic)
    └── run.created | run.status_changed | step.status_changed | run.deleted
            Consumers: external subscribers

    runtrack.steps (direct)
    └── steps.updates [routing: update]
            Consumer: runtrack-api
            DLQ: dlq.steps

    runtrack.dlq (direct)
    └── dlq.steps [routing: steps]
            Manual processing
  `
}
