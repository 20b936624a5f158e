package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const orderMeterName = "github.com/Additional-Code/fooddash/orders"

// Transition outcomes recorded on the transitions counter.
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultConflict    = "conflict"
	ResultUnavailable = "unavailable"
)

// OrderMetrics holds the instruments of the order lifecycle.
type OrderMetrics struct {
	transitions metric.Int64Counter
	latency     metric.Float64Histogram
	placed      metric.Int64Counter
	cacheLookup metric.Int64Counter
	events      metric.Int64Counter
	notified    metric.Int64Counter
}

// NewOrderMetrics registers order instruments on the manager's meter.
func NewOrderMetrics(mgr *Manager) (*OrderMetrics, error) {
	return newOrderMetrics(mgr.Meter(orderMeterName))
}

func newOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transition attempts by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("orders.transition.duration",
		metric.WithDescription("Time spent applying a status transition"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders accepted"))
	if err != nil {
		return nil, err
	}
	cacheLookup, err := meter.Int64Counter("orders.cache.lookups",
		metric.WithDescription("Order read-model cache lookups by hit"))
	if err != nil {
		return nil, err
	}
	events, err := meter.Int64Counter("orders.events.published",
		metric.WithDescription("Order lifecycle events handed to the bus"))
	if err != nil {
		return nil, err
	}
	notified, err := meter.Int64Counter("orders.notifications",
		metric.WithDescription("Order events turned into customer notifications by the worker"))
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		transitions: transitions,
		latency:     latency,
		placed:      placed,
		cacheLookup: cacheLookup,
		events:      events,
		notified:    notified,
	}, nil
}

// RecordTransition counts one transition attempt and its duration.
func (m *OrderMetrics) RecordTransition(ctx context.Context, from, to, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("result", result),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordPlaced counts an accepted order.
func (m *OrderMetrics) RecordPlaced(ctx context.Context) {
	if m == nil {
		return
	}
	m.placed.Add(ctx, 1)
}

// RecordCacheLookup counts a read-model cache lookup.
func (m *OrderMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookup.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

// RecordEvent counts a publish attempt per event type.
func (m *OrderMetrics) RecordEvent(ctx context.Context, eventType string, err error) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.Bool("failed", err != nil),
	))
}

// RecordNotification counts a consumed event per type and outcome.
func (m *OrderMetrics) RecordNotification(ctx context.Context, eventType string, err error) {
	if m == nil {
		return
	}
	m.notified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.Bool("failed", err != nil),
	))
}
