package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/config"
)

// Envelope is an outbound message. Subject narrows routing on brokers that support it.
type Envelope struct {
	Key     []byte
	Value   []byte
	Subject string
	Headers map[string]string
}

// Message represents a message consumed from the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Subject returns the subject the publisher attached, if any.
func (m Message) Subject() string {
	return m.Headers[SubjectHeader]
}

// allHeaders merges the subject into the header set.
func (e Envelope) allHeaders() map[string]string {
	if e.Subject == "" {
		return e.Headers
	}
	merged := make(map[string]string, len(e.Headers)+1)
	for k, v := range e.Headers {
		merged[k] = v
	}
	merged[SubjectHeader] = e.Subject
	return merged
}

// Handler processes an inbound message.
type Handler func(context.Context, Message) error

// Client is the pluggable messaging abstraction.
type Client interface {
	Publish(ctx context.Context, env Envelope) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
}

// SubjectHeader carries Envelope.Subject alongside the payload.
const SubjectHeader = "subject"

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// noopClient is used when messaging is disabled.
type noopClient struct {
	topic string
}

func (n noopClient) Publish(context.Context, Envelope) error { return nil }
func (n noopClient) Consume(ctx context.Context, handler Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (n noopClient) Topic() string { return n.topic }

// NewClient builds a messaging client based on configuration.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if !cfg.Messaging.Enabled || cfg.Messaging.Driver == "noop" {
		logger.Info("messaging disabled; using noop client")

		return noopClient{topic: cfg.Messaging.Kafka.Topic}, nil
	}

	switch cfg.Messaging.Driver {
	case "kafka":
		return newKafkaClient(lc, cfg, logger)
	case "rabbitmq":
		return newRabbitClient(lc, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}
