package order

import (
	"context"
	"time"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/entity"
)

// Store is the persistence contract of the order lifecycle.
type Store interface {
	// LoadOrder returns the narrow lifecycle aggregate with restaurant and driver attached.
	LoadOrder(ctx context.Context, id int64) (*entity.Order, error)
	// SaveTransition applies a status change, its driver side effects and the history row atomically,
	// then returns the hydrated order as committed.
	SaveTransition(ctx context.Context, rec TransitionRecord) (*entity.Order, error)
	// AssignDriver binds a driver without changing the order status and returns the hydrated order.
	AssignDriver(ctx context.Context, rec AssignmentRecord) (*entity.Order, error)
	IsDriverAvailable(ctx context.Context, driverID int64) (bool, error)

	CreateOrder(ctx context.Context, order *entity.Order, items []*entity.OrderItem, initial *entity.OrderStatusHistory) error
	MenuItems(ctx context.Context, restaurantID int64, ids []int64) ([]*entity.MenuItem, error)

	// LoadView returns the order with items, history, restaurant and driver hydrated.
	LoadView(ctx context.Context, id int64) (*entity.Order, error)
	History(ctx context.Context, orderID int64) ([]*entity.OrderStatusHistory, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Order, int, error)
}

// TransitionRecord is everything SaveTransition needs to commit one transition.
type TransitionRecord struct {
	OrderID   int64
	From      core.Status
	To        core.Status
	Binding   core.DriverBinding
	ChangedBy *int64
	Notes     *string
	At        time.Time
}

// AssignmentRecord describes a driver (re)assignment guarded by the observed order state.
type AssignmentRecord struct {
	OrderID          int64
	ExpectedStatus   core.Status
	ExpectedDriverID *int64
	Binding          core.DriverBinding
	At               time.Time
}

// ListFilter narrows List results; nil scopes are ignored.
type ListFilter struct {
	CustomerID        *int64
	RestaurantOwnerID *int64
	DriverUserID      *int64
	Status            core.Status
	Limit             int
	Offset            int
}
