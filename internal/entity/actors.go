package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Restaurant is referenced by orders; its lifecycle is owned elsewhere.
type Restaurant struct {
	bun.BaseModel `bun:"table:restaurants,alias:r"`

	ID      int64  `bun:",pk,autoincrement"`
	OwnerID int64  `bun:"owner_id,notnull"`
	Name    string `bun:"name,notnull"`
}

// Driver is a delivery driver account.
type Driver struct {
	bun.BaseModel `bun:"table:drivers,alias:d"`

	ID          int64     `bun:",pk,autoincrement"`
	UserID      int64     `bun:"user_id,notnull"`
	Name        string    `bun:"name,notnull"`
	IsAvailable bool      `bun:"is_available,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// MenuItem is read when placing an order to snapshot its current price.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items,alias:mi"`

	ID           int64           `bun:",pk,autoincrement"`
	RestaurantID int64           `bun:"restaurant_id,notnull"`
	Name         string          `bun:"name,notnull"`
	Price        decimal.Decimal `bun:"price,type:decimal(12,2),notnull"`
	IsAvailable  bool            `bun:"is_available,notnull"`
}
