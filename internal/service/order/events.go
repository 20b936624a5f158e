package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/messaging"
	"github.com/Additional-Code/fooddash/internal/observability"
)

// Event types published on the bus.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventDriverAssigned     = "order.driver_assigned"
)

// Event is the payload of every order lifecycle notification.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	OrderID      int64     `json:"order_id"`
	CustomerID   int64     `json:"customer_id"`
	RestaurantID int64     `json:"restaurant_id"`
	OldStatus    string    `json:"old_status,omitempty"`
	NewStatus    string    `json:"new_status"`
	DriverID     *int64    `json:"driver_id,omitempty"`
	ChangedBy    int64     `json:"changed_by"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// StatusHook observes committed lifecycle changes. Hooks run after commit and cannot fail the change.
type StatusHook interface {
	OnOrderEvent(ctx context.Context, event Event) error
}

// StatusHookFunc adapts a function to StatusHook.
type StatusHookFunc func(ctx context.Context, event Event) error

// OnOrderEvent calls f.
func (f StatusHookFunc) OnOrderEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// PublishingHook forwards events to the message bus as JSON.
type PublishingHook struct {
	client  messaging.Client
	metrics *observability.OrderMetrics
	logger  *zap.Logger
}

// NewPublishingHook wires the bus publisher hook.
func NewPublishingHook(client messaging.Client, metrics *observability.OrderMetrics, logger *zap.Logger) StatusHook {
	return &PublishingHook{client: client, metrics: metrics, logger: logger}
}

// OnOrderEvent publishes event keyed by order so per-order ordering is kept on partitioned brokers.
func (h *PublishingHook) OnOrderEvent(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	err = h.client.Publish(ctx, messaging.Envelope{
		Key:     []byte(strconv.FormatInt(event.OrderID, 10)),
		Value:   payload,
		Subject: event.Type,
		Headers: map[string]string{
			"event_id":     event.ID,
			"content_type": "application/json",
		},
	})
	h.metrics.RecordEvent(ctx, event.Type, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	h.logger.Debug("order event published",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.Int64("order_id", event.OrderID),
	)
	return nil
}

func newEventID() string {
	return uuid.NewString()
}
