package order

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/dto"
	"github.com/Additional-Code/fooddash/internal/presentation/http/response"
	service "github.com/Additional-Code/fooddash/internal/service/order"
	"github.com/Additional-Code/fooddash/internal/transport/http/auth"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/fooddash/transport/http/order")

// OrderService is the lifecycle surface the HTTP handlers drive.
type OrderService interface {
	Place(ctx context.Context, req service.PlaceRequest) (*dto.OrderView, error)
	Get(ctx context.Context, id int64, caller core.Caller) (*dto.OrderView, error)
	History(ctx context.Context, id int64, caller core.Caller) ([]dto.StatusHistoryResponse, error)
	List(ctx context.Context, caller core.Caller, q service.ListQuery) (*service.ListResult, error)
	Transition(ctx context.Context, req service.TransitionRequest) (*dto.OrderView, error)
	AssignDriver(ctx context.Context, req service.AssignDriverRequest) (*dto.OrderView, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc OrderService
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes behind the auth middleware.
func Register(e *echo.Echo, h *Handler, authn echo.MiddlewareFunc) {
	g := e.Group("/orders", authn)
	g.POST("", h.place)
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.GET("/:id/history", h.history)
	g.POST("/:id/transitions", h.transition)
	g.PUT("/:id/driver", h.assignDriver)
}

type placeItemPayload struct {
	MenuItemID int64   `json:"menu_item_id"`
	Quantity   int     `json:"quantity"`
	Notes      *string `json:"notes"`
}

type placePayload struct {
	RestaurantID    int64              `json:"restaurant_id"`
	Items           []placeItemPayload `json:"items"`
	DeliveryAddress string             `json:"delivery_address"`
	DeliveryLat     *float64           `json:"delivery_lat"`
	DeliveryLng     *float64           `json:"delivery_lng"`
	Notes           *string            `json:"notes"`
}

type transitionPayload struct {
	Status   string  `json:"status"`
	DriverID *int64  `json:"driver_id"`
	Notes    *string `json:"notes"`
}

type assignDriverPayload struct {
	DriverID int64 `json:"driver_id"`
}

func (h *Handler) place(c echo.Context) error {
	b := response.New(c)
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return b.WithError(errorbank.Unauthorized("authentication required")).Build()
	}

	var payload placePayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.place", trace.WithAttributes(
		attribute.Int64("order.restaurant_id", payload.RestaurantID),
	))
	defer span.End()

	req := service.PlaceRequest{
		Caller:          caller,
		RestaurantID:    payload.RestaurantID,
		DeliveryAddress: payload.DeliveryAddress,
		DeliveryLat:     payload.DeliveryLat,
		DeliveryLng:     payload.DeliveryLng,
		Notes:           payload.Notes,
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, service.PlaceItem{MenuItemID: item.MenuItemID, Quantity: item.Quantity, Notes: item.Notes})
	}

	view, err := h.svc.Place(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(view).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return b.WithError(errorbank.Unauthorized("authentication required")).Build()
	}

	q := service.ListQuery{Status: core.Status(c.QueryParam("status"))}
	var err error
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		return b.WithError(err).Build()
	}
	if q.Offset, err = intQuery(c, "offset"); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	res, err := h.svc.List(ctx, caller, q)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(res.Orders).WithPage(res.Total, res.Limit, res.Offset).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	caller, id, err := callerAndID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	view, err := h.svc.Get(ctx, id, caller)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

func (h *Handler) history(c echo.Context) error {
	b := response.New(c)
	caller, id, err := callerAndID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.history", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	history, err := h.svc.History(ctx, id, caller)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(history).Build()
}

func (h *Handler) transition(c echo.Context) error {
	b := response.New(c)
	caller, id, err := callerAndID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload transitionPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	status, err := core.ParseStatus(payload.Status)
	if err != nil {
		return b.WithError(errorbank.BadRequest("unknown status", errorbank.WithCode("invalid_status"), errorbank.WithDetail("status", payload.Status))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.transition", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status.to", status.String()),
	))
	defer span.End()

	view, err := h.svc.Transition(ctx, service.TransitionRequest{
		OrderID:  id,
		Status:   status,
		Caller:   caller,
		DriverID: payload.DriverID,
		Notes:    payload.Notes,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

func (h *Handler) assignDriver(c echo.Context) error {
	b := response.New(c)
	caller, id, err := callerAndID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload assignDriverPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.DriverID <= 0 {
		return b.WithError(errorbank.BadRequest("driver_id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.assignDriver", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("driver.id", payload.DriverID),
	))
	defer span.End()

	view, err := h.svc.AssignDriver(ctx, service.AssignDriverRequest{OrderID: id, DriverID: payload.DriverID, Caller: caller})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

func callerAndID(c echo.Context) (core.Caller, int64, error) {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return core.Caller{}, 0, errorbank.Unauthorized("authentication required")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return core.Caller{}, 0, errorbank.BadRequest("invalid id", errorbank.WithCause(err))
	}
	return caller, id, nil
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithCause(err))
	}
	return v, nil
}
