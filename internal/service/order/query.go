package order

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/cache"
	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/dto"
	"github.com/Additional-Code/fooddash/internal/entity"
	"github.com/Additional-Code/fooddash/internal/logger"
	repo "github.com/Additional-Code/fooddash/internal/repository/order"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

// cachedView is the cache entry of an order; it keeps the ids authorization needs next to the view.
type cachedView struct {
	View              dto.OrderView `json:"view"`
	RestaurantOwnerID int64         `json:"restaurant_owner_id"`
	DriverUserID      *int64        `json:"driver_user_id,omitempty"`
}

func newCachedView(order *entity.Order) cachedView {
	entry := cachedView{View: *assembleView(order)}
	if order.Restaurant != nil {
		entry.RestaurantOwnerID = order.Restaurant.OwnerID
	}
	if d := order.BoundDriver(); d != nil {
		userID := d.UserID
		entry.DriverUserID = &userID
	}
	return entry
}

// newerThan orders two snapshots of the same order by their last write.
func (c cachedView) newerThan(other cachedView) bool {
	if !c.View.UpdatedAt.Equal(other.View.UpdatedAt) {
		return c.View.UpdatedAt.After(other.View.UpdatedAt)
	}
	return len(c.View.History) > len(other.View.History)
}

func (c cachedView) subject() core.Subject {
	return core.Subject{
		OrderID:           c.View.ID,
		Status:            core.Status(c.View.Status),
		CustomerID:        c.View.CustomerID,
		RestaurantOwnerID: c.RestaurantOwnerID,
		DriverUserID:      c.DriverUserID,
	}
}

// Get returns the hydrated order if caller may see it.
func (s *Service) Get(ctx context.Context, id int64, caller core.Caller) (*dto.OrderView, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	entry, err := s.loadCached(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if guard := core.CanView(caller, entry.subject()); !guard.Allowed {
		err := mapError(guard.Error())
		recordSpanError(span, err)
		return nil, err
	}
	view := entry.View
	return &view, nil
}

// History returns the audit trail of an order, oldest first.
func (s *Service) History(ctx context.Context, id int64, caller core.Caller) ([]dto.StatusHistoryResponse, error) {
	view, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return view.History, nil
}

func (s *Service) loadCached(ctx context.Context, id int64) (cachedView, error) {
	log := logger.FromContext(ctx, s.logger)
	key := s.keys.OrderView(id)

	if s.cache != nil {
		entry, err := cache.GetJSON[cachedView](ctx, s.cache, key)
		switch {
		case err == nil:
			s.metrics.RecordCacheLookup(ctx, true)
			return entry, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.RecordCacheLookup(ctx, false)
		default:
			log.Warn("orders cache read failed", zap.Int64("order_id", id), zap.Error(err))
		}
	}

	order, err := s.store.LoadView(ctx, id)
	if err != nil {
		return cachedView{}, mapError(err)
	}
	entry := newCachedView(order)
	if s.cache == nil {
		return entry, nil
	}

	// A write committed while we were reading has already stored its own view; never replace it.
	stored, err := cache.AddJSON(ctx, s.cache, key, entry, s.cacheTTL)
	if err != nil {
		log.Warn("orders cache write failed", zap.Int64("order_id", id), zap.Error(err))
		return entry, nil
	}
	if !stored {
		if current, err := cache.GetJSON[cachedView](ctx, s.cache, key); err == nil && current.newerThan(entry) {
			return current, nil
		}
	}
	return entry, nil
}

// ListQuery narrows a caller's order listing.
type ListQuery struct {
	Status core.Status
	Limit  int
	Offset int
}

// ListResult is one page of orders.
type ListResult struct {
	Orders []dto.OrderResponse `json:"orders"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// List returns the orders visible to caller: their own, their restaurant's, their deliveries, or all for admins.
func (s *Service) List(ctx context.Context, caller core.Caller, q ListQuery) (*ListResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List", trace.WithAttributes(attribute.String("caller.role", string(caller.Role))))
	defer span.End()

	if q.Status != "" && !q.Status.Valid() {
		err := errorbank.BadRequest("unknown status filter", errorbank.WithDetail("status", q.Status.String()))
		recordSpanError(span, err)
		return nil, err
	}

	filter := repo.ListFilter{Status: q.Status, Limit: s.pageSize(q.Limit), Offset: max(q.Offset, 0)}
	callerID := caller.ID
	switch caller.Role {
	case core.RoleAdmin:
	case core.RoleCustomer:
		filter.CustomerID = &callerID
	case core.RoleRestaurant:
		filter.RestaurantOwnerID = &callerID
	case core.RoleDriver:
		filter.DriverUserID = &callerID
	default:
		err := mapError(core.GuardResult{Reason: "role cannot list orders"}.Error())
		recordSpanError(span, err)
		return nil, err
	}

	orders, total, err := s.store.List(ctx, filter)
	if err != nil {
		mapped := mapError(err)
		recordSpanError(span, mapped)
		return nil, mapped
	}

	result := &ListResult{
		Orders: make([]dto.OrderResponse, 0, len(orders)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, o := range orders {
		result.Orders = append(result.Orders, toResponse(o))
	}
	return result, nil
}

func (s *Service) pageSize(requested int) int {
	size := requested
	if size <= 0 {
		size = s.orders.PageSize
	}
	if size <= 0 {
		size = 20
	}
	if s.orders.MaxPageSize > 0 && size > s.orders.MaxPageSize {
		size = s.orders.MaxPageSize
	}
	return size
}
