package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/config"
)

var (
	errNotConnected = errors.New("rabbitmq: not connected")
	errClientClosed = errors.New("rabbitmq: client closed")
)

const (
	defaultRedialDelay = time.Second
	maxRedialDelay     = 30 * time.Second
)

// rabbitClient publishes to a topic exchange and consumes from one durable queue bound to it.
type rabbitClient struct {
	cfg    config.RabbitMQ
	tag    string
	logger *zap.Logger

	// redialDelay is the first wait before reconnecting; it doubles up to maxRedialDelay.
	redialDelay time.Duration
	done        chan struct{}
	stopOnce    sync.Once

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func newRabbitClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if cfg.Messaging.RabbitMQ.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	client := &rabbitClient{
		cfg:         cfg.Messaging.RabbitMQ,
		tag:         cfg.Messaging.ConsumerGroup,
		logger:      logger,
		redialDelay: defaultRedialDelay,
		done:        make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.connect(); err != nil {
				return fmt.Errorf("connect rabbitmq: %w", err)
			}
			logger.Info("rabbitmq connected",
				zap.String("exchange", client.cfg.Exchange),
				zap.String("queue", client.cfg.Queue),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("closing rabbitmq client")
			return client.close()
		},
	})

	return client, nil
}

func (r *rabbitClient) connect() error {
	conn, err := amqp.Dial(r.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := declareTopology(ch, r.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return errClientClosed
	}
	r.conn, r.ch = conn, ch
	r.mu.Unlock()

	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// watch redials once the broker drops the connection. A client-side close ends it quietly.
func (r *rabbitClient) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	r.logger.Warn("rabbitmq connection lost",
		zap.Int("code", amqpErr.Code),
		zap.String("reason", amqpErr.Reason),
	)
	r.redial(r.connect)
}

// redial calls dial with exponential backoff until it succeeds or the client is closed.
func (r *rabbitClient) redial(dial func() error) bool {
	delay := r.redialDelay
	if delay <= 0 {
		delay = defaultRedialDelay
	}
	for attempt := 1; ; attempt++ {
		select {
		case <-r.done:
			return false
		case <-time.After(delay):
		}

		err := dial()
		if err == nil {
			r.logger.Info("rabbitmq reconnected", zap.Int("attempt", attempt))
			return true
		}
		if errors.Is(err, errClientClosed) {
			return false
		}
		delay = min(delay*2, maxRedialDelay)
		r.logger.Warn("rabbitmq reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
	}
}

func declareTopology(ch *amqp.Channel, cfg config.RabbitMQ) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, bindingKey(cfg.RoutingKey), cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (r *rabbitClient) close() error {
	r.stopOnce.Do(func() {
		if r.done != nil {
			close(r.done)
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var closeErr error
	if r.ch != nil && !r.ch.IsClosed() {
		closeErr = r.ch.Close()
	}
	if r.conn != nil && !r.conn.IsClosed() {
		closeErr = errors.Join(closeErr, r.conn.Close())
	}
	r.ch, r.conn = nil, nil
	return closeErr
}

func (r *rabbitClient) Publish(ctx context.Context, env Envelope) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch == nil || ch.IsClosed() {
		return errNotConnected
	}

	return ch.PublishWithContext(ctx, r.cfg.Exchange, routingKey(r.cfg.RoutingKey, env.Subject), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(env.Key),
		Timestamp:    time.Now().UTC(),
		Headers:      amqpHeaders(env.allHeaders()),
		Body:         env.Value,
	})
}

// Consume uses its own channel so prefetch does not affect publishing.
func (r *rabbitClient) Consume(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return errNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, r.cfg.Queue, r.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.cfg.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			r.deliver(ctx, d, handler)
		}
	}
}

func (r *rabbitClient) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	msg := Message{
		Topic:   d.RoutingKey,
		Key:     []byte(d.MessageId),
		Value:   append([]byte(nil), d.Body...),
		Headers: fromAMQPHeaders(d.Headers),
		Offset:  int64(d.DeliveryTag),
		Time:    d.Timestamp,
	}

	if err := handler(ctx, msg); err != nil {
		// Requeue once; a redelivered failure is dropped.
		requeue := !d.Redelivered
		r.logger.Error("message handler failed",
			zap.Error(err),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Bool("requeue", requeue),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			r.logger.Warn("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		r.logger.Warn("ack failed", zap.Error(err))
	}
}

func (r *rabbitClient) Topic() string { return r.cfg.Exchange }

func routingKey(base, subject string) string {
	if subject == "" {
		return base
	}
	return base + "." + strings.ReplaceAll(subject, ".", "_")
}

func bindingKey(base string) string {
	return base + ".#"
}

func amqpHeaders(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

func fromAMQPHeaders(table amqp.Table) map[string]string {
	if len(table) == 0 {
		return nil
	}
	m := make(map[string]string, len(table))
	for k, v := range table {
		switch val := v.(type) {
		case string:
			m[k] = val
		case []byte:
			m[k] = string(val)
		default:
			m[k] = fmt.Sprint(val)
		}
	}
	return m
}
