package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Runtrack/internal/telemetry"
)

// Задержки переподключения: экспоненциальный рост от reconnectBaseDelay до reconnectMaxDelay.
const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Reconnect — событие восстановления соединения с брокером.
type Reconnect struct {
	// Attempts — число попыток, понадобившихся для переподключения.
	Attempts int

	// Downtime — время от разрыва до восстановления.
	Downtime time.Duration

	// Cause — ошибка, с которой брокер закрыл соединение (nil, если причина не передана).
	Cause error
}

// Connection — соединение с RabbitMQ, общее для публикации событий runs
// и потребления steps.updates.
//
// При разрыве соединение восстанавливается в фоне; consumers узнают
// об этом через ReconnectNotify и заново подписываются на очередь.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	done        chan struct{}
	reconnected chan Reconnect
}

// NewConnection подключается к RabbitMQ и запускает наблюдение за соединением.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	c := &Connection{
		url:         url,
		logger:      logger.With("broker", redactURL(url)),
		done:        make(chan struct{}),
		reconnected: make(chan Reconnect, 1),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}
	c.logger.Info("connected to RabbitMQ")

	go c.watch()

	return c, nil
}

// dial открывает соединение и канал и подменяет ими текущие.
func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch.Close()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.channel = ch
	telemetry.BrokerConnected.Set(1)

	return nil
}

// watch ждёт разрыва соединения и восстанавливает его до вызова Close.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		var cause error
		select {
		case <-c.done:
			return
		case amqpErr := <-lost:
			if amqpErr != nil {
				cause = amqpErr
			}
		}

		telemetry.BrokerConnected.Set(0)
		c.logger.Warn("RabbitMQ connection lost, step updates and run events are paused", "error", cause)

		ev, ok := c.redial(cause)
		if !ok {
			return
		}
		c.notify(ev)
	}
}

// redial переподключается с экспоненциальной задержкой.
// Возвращает false, если соединение закрыто во время ожидания.
func (c *Connection) redial(cause error) (Reconnect, bool) {
	since := time.Now()
	delay := reconnectBaseDelay

	for attempt := 1; ; attempt++ {
		if !c.wait(delay) {
			return Reconnect{}, false
		}

		if err := c.dial(); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return Reconnect{}, false
			}
			delay = nextDelay(delay)
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "next_delay", delay, "error", err)
			continue
		}

		ev := Reconnect{Attempts: attempt, Downtime: time.Since(since), Cause: cause}
		telemetry.BrokerReconnects.Inc()
		c.logger.Info("RabbitMQ connection restored", "attempts", ev.Attempts, "downtime", ev.Downtime)
		return ev, true
	}
}

// wait спит d; false — соединение закрыто раньше.
func (c *Connection) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

// notify передаёт событие подписчику; непрочитанное старое событие заменяется новым.
func (c *Connection) notify(ev Reconnect) {
	for {
		select {
		case c.reconnected <- ev:
			return
		default:
		}
		select {
		case <-c.reconnected:
		default:
		}
	}
}

// nextDelay удваивает задержку, не превышая reconnectMaxDelay.
func nextDelay(d time.Duration) time.Duration {
	return min(d*2, reconnectMaxDelay)
}

// Channel возвращает текущий AMQP канал.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify возвращает канал событий переподключения.
func (c *Connection) ReconnectNotify() <-chan Reconnect {
	return c.reconnected
}

// Close закрывает канал и соединение; повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	telemetry.BrokerConnected.Set(0)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected проверяет, открыто ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil {
		return ErrNotConnected
	}
	return fn(ch)
}

// Ping проверяет, что соединение открыто (для /healthz).
func (c *Connection) Ping() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// redactURL скрывает пароль в URL для логов.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
