package order

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/dto"
	"github.com/Additional-Code/fooddash/internal/entity"
	"github.com/Additional-Code/fooddash/internal/logger"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

// PlaceItem is one requested order line.
type PlaceItem struct {
	MenuItemID int64
	Quantity   int
	Notes      *string
}

// PlaceRequest is a customer's new order.
type PlaceRequest struct {
	Caller          core.Caller
	RestaurantID    int64
	Items           []PlaceItem
	DeliveryAddress string
	DeliveryLat     *float64
	DeliveryLng     *float64
	Notes           *string
}

// Place creates a pending order with snapshotted menu prices and its first history row.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*dto.OrderView, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Place", trace.WithAttributes(
		attribute.Int64("order.restaurant_id", req.RestaurantID),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	log := logger.FromContext(ctx, s.logger).With(
		zap.Int64("customer_id", req.Caller.ID),
		zap.Int64("restaurant_id", req.RestaurantID),
	)

	if guard := core.CanPlace(req.Caller); !guard.Allowed {
		err := mapError(guard.Error())
		recordSpanError(span, err)
		return nil, err
	}
	if err := s.validatePlace(req); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	menu, err := s.store.MenuItems(ctx, req.RestaurantID, uniqueMenuIDs(req.Items))
	if err != nil {
		mapped := mapError(err)
		recordSpanError(span, mapped)
		logRejection(log, "menu lookup failed", mapped)
		return nil, mapped
	}
	items, subtotal, err := priceItems(req.Items, menu)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	now := s.now()
	customerID := req.Caller.ID
	order := &entity.Order{
		CustomerID:      customerID,
		RestaurantID:    req.RestaurantID,
		Status:          core.InitialStatus(),
		DeliveryFee:     s.orders.DeliveryFee,
		TotalAmount:     subtotal.Add(s.orders.DeliveryFee).Round(2),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	initial := &entity.OrderStatusHistory{
		Status:    order.Status,
		ChangedBy: &customerID,
		CreatedAt: now,
	}

	if err := s.store.CreateOrder(ctx, order, items, initial); err != nil {
		mapped := mapError(err)
		recordSpanError(span, mapped)
		logRejection(log, "order placement failed", mapped)
		return nil, mapped
	}

	s.metrics.RecordPlaced(ctx)
	log.Info("order placed", zap.Int64("order_id", order.ID), zap.String("total", order.TotalAmount.StringFixed(2)))

	s.notify(ctx, Event{
		Type:       EventOrderPlaced,
		OrderID:    order.ID,
		NewStatus:  order.Status.String(),
		ChangedBy:  customerID,
		OccurredAt: now,
	}, order)

	return assembleView(order), nil
}

func (s *Service) validatePlace(req PlaceRequest) error {
	switch {
	case req.RestaurantID <= 0:
		return invalidOrder("restaurant_id is required")
	case strings.TrimSpace(req.DeliveryAddress) == "":
		return invalidOrder("delivery_address is required")
	case len(req.Items) == 0:
		return invalidOrder("at least one item is required")
	case s.orders.MaxItemCount > 0 && len(req.Items) > s.orders.MaxItemCount:
		return invalidOrder("too many items", errorbank.WithDetail("max_items", s.orders.MaxItemCount))
	}
	for _, item := range req.Items {
		if item.MenuItemID <= 0 {
			return invalidOrder("menu_item_id is required")
		}
		if item.Quantity <= 0 {
			return invalidOrder("quantity must be positive", errorbank.WithDetail("menu_item_id", item.MenuItemID))
		}
	}
	return nil
}

// priceItems snapshots current menu prices onto order lines.
func priceItems(requested []PlaceItem, menu []*entity.MenuItem) ([]*entity.OrderItem, decimal.Decimal, error) {
	byID := make(map[int64]*entity.MenuItem, len(menu))
	for _, mi := range menu {
		byID[mi.ID] = mi
	}

	subtotal := decimal.Zero
	items := make([]*entity.OrderItem, 0, len(requested))
	for _, req := range requested {
		mi, ok := byID[req.MenuItemID]
		if !ok {
			return nil, decimal.Zero, invalidOrder("menu item not found for this restaurant", errorbank.WithDetail("menu_item_id", req.MenuItemID))
		}
		if !mi.IsAvailable {
			return nil, decimal.Zero, invalidOrder("menu item is not available", errorbank.WithDetail("menu_item_id", req.MenuItemID))
		}
		items = append(items, &entity.OrderItem{
			MenuItemID: mi.ID,
			Quantity:   req.Quantity,
			UnitPrice:  mi.Price,
			Notes:      req.Notes,
		})
		subtotal = subtotal.Add(mi.Price.Mul(decimal.NewFromInt(int64(req.Quantity))))
	}
	return items, subtotal, nil
}

func uniqueMenuIDs(items []PlaceItem) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.MenuItemID]; ok {
			continue
		}
		seen[item.MenuItemID] = struct{}{}
		ids = append(ids, item.MenuItemID)
	}
	return ids
}

func invalidOrder(message string, opts ...errorbank.Option) error {
	return errorbank.BadRequest(message, append(opts, errorbank.WithCode(CodeInvalidOrder))...)
}
