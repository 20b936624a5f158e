package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/logger"
	"github.com/Additional-Code/fooddash/internal/messaging"
	"github.com/Additional-Code/fooddash/internal/observability"
	ordersvc "github.com/Additional-Code/fooddash/internal/service/order"
	"github.com/Additional-Code/fooddash/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/fooddash/worker/order")

// Module registers order notification handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		NewNotifier,
		fx.Annotate(
			Registrations,
			fx.ResultTags(`group:"worker.handlers,flatten"`),
		),
	),
)

// Notifier turns order lifecycle events into customer-facing notification lines.
type Notifier struct {
	metrics *observability.OrderMetrics
	logger  *zap.Logger
}

// NewNotifier constructs a Notifier. metrics may be nil.
func NewNotifier(logger *zap.Logger, metrics *observability.OrderMetrics) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{metrics: metrics, logger: logger}
}

// Registrations binds the notifier to every order event subject.
func Registrations(n *Notifier) []worker.HandlerRegistration {
	return []worker.HandlerRegistration{
		{Subject: ordersvc.EventOrderPlaced, Handler: n.Handle},
		{Subject: ordersvc.EventOrderStatusChanged, Handler: n.Handle},
		{Subject: ordersvc.EventDriverAssigned, Handler: n.Handle},
	}
}

// Handle decodes one event and logs the notification the customer would receive.
func (n *Notifier) Handle(ctx context.Context, msg messaging.Message) error {
	ctx, span := workerTracer.Start(ctx, "worker.orders.notify", trace.WithAttributes(
		attribute.String("messaging.topic", msg.Topic),
		attribute.String("messaging.subject", msg.Subject()),
	))
	defer span.End()

	log := logger.FromContext(ctx, n.logger)

	var event ordersvc.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error("failed to decode order event", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode error")
		n.metrics.RecordNotification(ctx, msg.Subject(), err)
		return fmt.Errorf("decode order event: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", event.OrderID), attribute.String("event.id", event.ID))

	text, ok := NotificationText(event)
	if !ok {
		log.Debug("order event needs no notification", zap.String("type", event.Type), zap.Int64("order_id", event.OrderID))
		return nil
	}

	log.Info("customer notification",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int64("order_id", event.OrderID),
		zap.Int64("customer_id", event.CustomerID),
		zap.String("message", text),
	)
	n.metrics.RecordNotification(ctx, event.Type, nil)
	return nil
}

// NotificationText renders the line a customer sees for event. ok is false for events customers are not told about.
func NotificationText(event ordersvc.Event) (string, bool) {
	switch event.Type {
	case ordersvc.EventOrderPlaced:
		return fmt.Sprintf("Order #%d received, waiting for the restaurant to confirm.", event.OrderID), true
	case ordersvc.EventDriverAssigned:
		return fmt.Sprintf("A driver has been assigned to order #%d.", event.OrderID), true
	case ordersvc.EventOrderStatusChanged:
	default:
		return "", false
	}

	status, err := core.ParseStatus(event.NewStatus)
	if err != nil {
		return "", false
	}
	switch status {
	case core.StatusPreparing:
		return fmt.Sprintf("The restaurant is preparing order #%d.", event.OrderID), true
	case core.StatusReadyForPickup:
		return fmt.Sprintf("Order #%d is ready and waiting for a driver.", event.OrderID), true
	case core.StatusOutForDelivery:
		return fmt.Sprintf("Order #%d is on its way.", event.OrderID), true
	case core.StatusDelivered:
		return fmt.Sprintf("Order #%d was delivered. Enjoy your meal!", event.OrderID), true
	case core.StatusCancelled:
		return fmt.Sprintf("Order #%d was cancelled.", event.OrderID), true
	default:
		return "", false
	}
}
