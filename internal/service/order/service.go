package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/cache"
	"github.com/Additional-Code/fooddash/internal/config"
	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/dto"
	"github.com/Additional-Code/fooddash/internal/entity"
	"github.com/Additional-Code/fooddash/internal/logger"
	"github.com/Additional-Code/fooddash/internal/observability"
	repo "github.com/Additional-Code/fooddash/internal/repository/order"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/fooddash/service/order")

const hookTimeout = 5 * time.Second

// Service is the order lifecycle manager.
type Service struct {
	store    repo.Store
	cache    cache.Store
	keys     cache.Keys
	cacheTTL time.Duration
	orders   config.Orders
	metrics  *observability.OrderMetrics
	hooks    []StatusHook
	logger   *zap.Logger
	now      func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store   repo.Store
	Cache   cache.Store
	Keys    cache.Keys
	Config  config.Config
	Logger  *zap.Logger
	Metrics *observability.OrderMetrics `optional:"true"`
	Hooks   []StatusHook                `group:"order.status_hooks"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    p.Store,
		cache:    p.Cache,
		keys:     p.Keys,
		cacheTTL: p.Config.Cache.DefaultTTL,
		orders:   p.Config.Orders,
		metrics:  p.Metrics,
		hooks:    p.Hooks,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TransitionRequest asks to move an order to Status on behalf of Caller.
type TransitionRequest struct {
	OrderID  int64
	Status   core.Status
	Caller   core.Caller
	DriverID *int64
	Notes    *string
}

// Transition validates and applies one status change, returning the updated read model.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*dto.OrderView, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Transition", trace.WithAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.String("order.status.to", req.Status.String()),
		attribute.String("caller.role", string(req.Caller.Role)),
	))
	defer span.End()

	log := logger.FromContext(ctx, s.logger).With(
		zap.Int64("order_id", req.OrderID),
		zap.String("to", req.Status.String()),
		zap.Int64("caller_id", req.Caller.ID),
		zap.String("caller_role", string(req.Caller.Role)),
	)

	start := time.Now()
	saved, from, err := s.transition(ctx, req)
	s.metrics.RecordTransition(ctx, from.String(), req.Status.String(), transitionResult(err), time.Since(start))
	if err != nil {
		mapped := mapError(err)
		recordSpanError(span, mapped)
		logRejection(log, "order transition rejected", mapped)
		return nil, mapped
	}

	log.Info("order transitioned", zap.String("from", from.String()))

	s.refresh(ctx, saved)
	s.notify(ctx, Event{
		Type:       EventOrderStatusChanged,
		OrderID:    saved.ID,
		OldStatus:  from.String(),
		NewStatus:  saved.Status.String(),
		DriverID:   saved.DriverID,
		ChangedBy:  req.Caller.ID,
		OccurredAt: saved.UpdatedAt,
	}, saved)

	return assembleView(saved), nil
}

func (s *Service) transition(ctx context.Context, req TransitionRequest) (*entity.Order, core.Status, error) {
	if !req.Status.Valid() {
		return nil, "", fmt.Errorf("%w: unknown status %q", core.ErrInvalidTransition, req.Status)
	}

	order, err := s.store.LoadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, "", err
	}
	subject, err := subjectOf(order)
	if err != nil {
		return nil, "", err
	}
	from := subject.Status

	if err := core.ValidateTransition(from, req.Status); err != nil {
		return nil, from, err
	}
	if guard := core.CanTransition(req.Caller, subject, req.Status); !guard.Allowed {
		return nil, from, guard.Error()
	}

	binding, err := core.PlanDriverBinding(from, req.Status, order.DriverID, req.DriverID)
	if err != nil {
		return nil, from, err
	}
	if binding.Claim != nil {
		if guard := core.CanAssignDriver(req.Caller, subject); !guard.Allowed {
			return nil, from, guard.Error()
		}
		if err := s.checkDriverAvailable(ctx, *binding.Claim); err != nil {
			return nil, from, err
		}
	}

	changedBy := req.Caller.ID
	saved, err := s.store.SaveTransition(ctx, repo.TransitionRecord{
		OrderID:   order.ID,
		From:      from,
		To:        req.Status,
		Binding:   binding,
		ChangedBy: &changedBy,
		Notes:     req.Notes,
		At:        s.now(),
	})
	return saved, from, err
}

// AssignDriverRequest binds DriverID to an order that is waiting for pickup.
type AssignDriverRequest struct {
	OrderID  int64
	DriverID int64
	Caller   core.Caller
}

// AssignDriver changes the bound driver without a status change; no history row is written.
func (s *Service) AssignDriver(ctx context.Context, req AssignDriverRequest) (*dto.OrderView, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.AssignDriver", trace.WithAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.Int64("driver.id", req.DriverID),
	))
	defer span.End()

	log := logger.FromContext(ctx, s.logger).With(
		zap.Int64("order_id", req.OrderID),
		zap.Int64("driver_id", req.DriverID),
		zap.Int64("caller_id", req.Caller.ID),
	)

	saved, changed, err := s.assignDriver(ctx, req)
	if err != nil {
		mapped := mapError(err)
		recordSpanError(span, mapped)
		logRejection(log, "driver assignment rejected", mapped)
		return nil, mapped
	}
	if !changed {
		return assembleView(saved), nil
	}

	log.Info("driver assigned")

	s.refresh(ctx, saved)
	s.notify(ctx, Event{
		Type:       EventDriverAssigned,
		OrderID:    saved.ID,
		OldStatus:  saved.Status.String(),
		NewStatus:  saved.Status.String(),
		DriverID:   saved.DriverID,
		ChangedBy:  req.Caller.ID,
		OccurredAt: saved.UpdatedAt,
	}, saved)

	return assembleView(saved), nil
}

func (s *Service) assignDriver(ctx context.Context, req AssignDriverRequest) (*entity.Order, bool, error) {
	order, err := s.store.LoadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, false, err
	}
	subject, err := subjectOf(order)
	if err != nil {
		return nil, false, err
	}

	binding, err := core.PlanReassignment(subject.Status, order.DriverID, req.DriverID)
	if err != nil {
		return nil, false, err
	}
	if guard := core.CanAssignDriver(req.Caller, subject); !guard.Allowed {
		return nil, false, guard.Error()
	}

	if !binding.Empty() {
		if err := s.checkDriverAvailable(ctx, *binding.Claim); err != nil {
			return nil, false, err
		}
	}

	saved, err := s.store.AssignDriver(ctx, repo.AssignmentRecord{
		OrderID:          order.ID,
		ExpectedStatus:   subject.Status,
		ExpectedDriverID: order.DriverID,
		Binding:          binding,
		At:               s.now(),
	})
	return saved, !binding.Empty(), err
}

func (s *Service) checkDriverAvailable(ctx context.Context, driverID int64) error {
	available, err := s.store.IsDriverAvailable(ctx, driverID)
	if err != nil {
		return err
	}
	if !available {
		return fmt.Errorf("%w: driver %d", core.ErrDriverUnavailable, driverID)
	}
	return nil
}

// subjectOf projects the narrow authorization view of a loaded order.
func subjectOf(order *entity.Order) (core.Subject, error) {
	status, err := core.ParseStatus(order.Status.String())
	if err != nil {
		return core.Subject{}, fmt.Errorf("order %d: %w", order.ID, err)
	}
	subject := core.Subject{
		OrderID:    order.ID,
		Status:     status,
		CustomerID: order.CustomerID,
	}
	if order.Restaurant != nil {
		subject.RestaurantOwnerID = order.Restaurant.OwnerID
	}
	if d := order.BoundDriver(); d != nil {
		userID := d.UserID
		subject.DriverUserID = &userID
	}
	return subject, nil
}

// refresh writes the committed read model through to the cache unless a newer one is already there.
func (s *Service) refresh(ctx context.Context, order *entity.Order) {
	if s.cache == nil {
		return
	}
	key := s.keys.OrderView(order.ID)
	entry := newCachedView(order)
	if current, err := cache.GetJSON[cachedView](ctx, s.cache, key); err == nil && current.newerThan(entry) {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, entry, s.cacheTTL); err != nil {
		logger.FromContext(ctx, s.logger).Warn("orders cache refresh failed", zap.Int64("order_id", order.ID), zap.Error(err))
		s.invalidate(ctx, order.ID)
	}
}

// invalidate drops the cached read model when it cannot be refreshed.
func (s *Service) invalidate(ctx context.Context, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.keys.OrderView(orderID)); err != nil {
		logger.FromContext(ctx, s.logger).Warn("orders cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// notify runs every hook after commit. Hook failures are logged and never surface to the caller.
func (s *Service) notify(ctx context.Context, event Event, order *entity.Order) {
	if len(s.hooks) == 0 {
		return
	}
	event.ID = newEventID()
	event.CustomerID = order.CustomerID
	event.RestaurantID = order.RestaurantID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()

	for _, hook := range s.hooks {
		if err := hook.OnOrderEvent(hookCtx, event); err != nil {
			logger.FromContext(ctx, s.logger).Warn("order hook failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}
}

func recordSpanError(span trace.Span, err error) {
	appErr := errorbank.From(err)
	if appErr.Temporary() || appErr.Kind() == errorbank.KindInternal {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, appErr.Code())
}

func logRejection(log *zap.Logger, msg string, err error) {
	appErr := errorbank.From(err)
	fields := []zap.Field{zap.String("code", appErr.Code()), zap.Error(err)}
	if appErr.Temporary() || errors.Is(err, context.DeadlineExceeded) {
		log.Error(msg, fields...)
		return
	}
	log.Info(msg, fields...)
}
