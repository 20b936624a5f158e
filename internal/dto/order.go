package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	RestaurantID    int64           `json:"restaurant_id"`
	DriverID        *int64          `json:"driver_id"`
	Status          string          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	DeliveryAddress string          `json:"delivery_address"`
	DeliveryLat     *float64        `json:"delivery_lat,omitempty"`
	DeliveryLng     *float64        `json:"delivery_lng,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItemResponse is a single order line.
type OrderItemResponse struct {
	ID         int64           `json:"id"`
	MenuItemID int64           `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Notes      *string         `json:"notes,omitempty"`
}

// StatusHistoryResponse is one entry of an order's audit trail.
type StatusHistoryResponse struct {
	Status    string    `json:"status"`
	ChangedBy *int64    `json:"changed_by,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RestaurantResponse is the restaurant summary attached to an order view.
type RestaurantResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DriverResponse is the driver summary attached to an order view.
type DriverResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OrderView is the hydrated read model returned to portals.
type OrderView struct {
	OrderResponse
	Restaurant *RestaurantResponse     `json:"restaurant,omitempty"`
	Driver     *DriverResponse         `json:"driver,omitempty"`
	Items      []OrderItemResponse     `json:"items"`
	History    []StatusHistoryResponse `json:"history"`
}
