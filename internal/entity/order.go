package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	core "github.com/Additional-Code/fooddash/internal/core/order"
)

// Order represents a customer's order against one restaurant.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID              int64           `bun:",pk,autoincrement"`
	CustomerID      int64           `bun:"customer_id,notnull"`
	RestaurantID    int64           `bun:"restaurant_id,notnull"`
	DriverID        *int64          `bun:"driver_id"`
	Status          core.Status     `bun:"status,notnull"`
	TotalAmount     decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull"`
	DeliveryFee     decimal.Decimal `bun:"delivery_fee,type:decimal(12,2),notnull"`
	DeliveryAddress string          `bun:"delivery_address,notnull"`
	DeliveryLat     *float64        `bun:"delivery_lat"`
	DeliveryLng     *float64        `bun:"delivery_lng"`
	Notes           *string         `bun:"notes"`
	CreatedAt       time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`

	Restaurant *Restaurant           `bun:"rel:belongs-to,join:restaurant_id=id"`
	Driver     *Driver               `bun:"rel:belongs-to,join:driver_id=id"`
	Items      []*OrderItem          `bun:"rel:has-many,join:id=order_id"`
	History    []*OrderStatusHistory `bun:"rel:has-many,join:id=order_id"`
}

// BoundDriver returns the joined driver, or nil when no driver is bound.
func (o *Order) BoundDriver() *Driver {
	if o.DriverID == nil {
		return nil
	}
	return o.Driver
}

// OrderItem is an immutable line of an order with its price snapshot.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID         int64           `bun:",pk,autoincrement"`
	OrderID    int64           `bun:"order_id,notnull"`
	MenuItemID int64           `bun:"menu_item_id,notnull"`
	Quantity   int             `bun:"quantity,notnull"`
	UnitPrice  decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull"`
	Notes      *string         `bun:"notes"`
}

// OrderStatusHistory is one append-only row of the order audit trail.
type OrderStatusHistory struct {
	bun.BaseModel `bun:"table:order_status_history,alias:osh"`

	ID        int64     `bun:",pk,autoincrement"`
	OrderID   int64     `bun:"order_id,notnull"`
	Status    core.Status `bun:"status,notnull"`
	ChangedBy *int64      `bun:"changed_by"`
	Notes     *string     `bun:"notes"`
	CreatedAt time.Time   `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
