package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/database"
	"github.com/Additional-Code/fooddash/internal/entity"
	repo "github.com/Additional-Code/fooddash/internal/repository/order"
)

// Module registers the Seeder with Fx.
var Module = fx.Provide(New)

// Sample identities used by the seeded data.
const (
	SampleCustomerID = 1001
	SampleOwnerID    = 2001
)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	conns  *database.Connections
	store  repo.Store
	logger *zap.Logger
	now    func() time.Time
}

// Summary counts the rows a seeding run inserted.
type Summary struct {
	Restaurants int
	MenuItems   int
	Drivers     int
	Orders      int
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, store repo.Store, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		conns:  conns,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Seed inserts restaurants, menus, drivers and one pending sample order. It is a no-op once restaurants exist.
func (s *Seeder) Seed(ctx context.Context) (Summary, error) {
	var summary Summary

	existing, err := s.conns.Writer.NewSelect().Model((*entity.Restaurant)(nil)).Count(ctx)
	if err != nil {
		return summary, fmt.Errorf("count restaurants: %w", err)
	}
	if existing > 0 {
		s.logger.Info("seed data already present, skipping", zap.Int("restaurants", existing))
		return summary, nil
	}

	var firstMenu []*entity.MenuItem
	err = s.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		restaurants := []*entity.Restaurant{
			{OwnerID: SampleOwnerID, Name: "Luigi's Pizzeria"},
			{OwnerID: SampleOwnerID + 1, Name: "Sakura Sushi"},
		}
		if _, err := tx.NewInsert().Model(&restaurants).Exec(ctx); err != nil {
			return fmt.Errorf("insert restaurants: %w", err)
		}
		summary.Restaurants = len(restaurants)

		menus := map[int][]*entity.MenuItem{
			0: {
				{Name: "Margherita", Price: decimal.RequireFromString("9.50"), IsAvailable: true},
				{Name: "Quattro Formaggi", Price: decimal.RequireFromString("12.00"), IsAvailable: true},
				{Name: "Tiramisu", Price: decimal.RequireFromString("5.25"), IsAvailable: false},
			},
			1: {
				{Name: "Salmon Nigiri", Price: decimal.RequireFromString("6.80"), IsAvailable: true},
				{Name: "Dragon Roll", Price: decimal.RequireFromString("13.40"), IsAvailable: true},
			},
		}
		for idx, items := range menus {
			for _, item := range items {
				item.RestaurantID = restaurants[idx].ID
			}
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return fmt.Errorf("insert menu for %s: %w", restaurants[idx].Name, err)
			}
			summary.MenuItems += len(items)
		}
		firstMenu = menus[0]

		drivers := []*entity.Driver{
			{UserID: 3001, Name: "Dana Driver", IsAvailable: true, UpdatedAt: s.now()},
			{UserID: 3002, Name: "Sam Scooter", IsAvailable: true, UpdatedAt: s.now()},
			{UserID: 3003, Name: "Off Duty Olu", IsAvailable: false, UpdatedAt: s.now()},
		}
		if _, err := tx.NewInsert().Model(&drivers).Exec(ctx); err != nil {
			return fmt.Errorf("insert drivers: %w", err)
		}
		summary.Drivers = len(drivers)
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	if err := s.sampleOrder(ctx, firstMenu); err != nil {
		return summary, err
	}
	summary.Orders = 1

	s.logger.Info("seeded database",
		zap.Int("restaurants", summary.Restaurants),
		zap.Int("menu_items", summary.MenuItems),
		zap.Int("drivers", summary.Drivers),
		zap.Int("orders", summary.Orders),
	)
	return summary, nil
}

func (s *Seeder) sampleOrder(ctx context.Context, menu []*entity.MenuItem) error {
	now := s.now()
	fee := decimal.RequireFromString("2.99")
	items := []*entity.OrderItem{
		{MenuItemID: menu[0].ID, Quantity: 2, UnitPrice: menu[0].Price},
		{MenuItemID: menu[1].ID, Quantity: 1, UnitPrice: menu[1].Price},
	}
	total := fee
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	order := &entity.Order{
		CustomerID:      SampleCustomerID,
		RestaurantID:    menu[0].RestaurantID,
		Status:          core.InitialStatus(),
		TotalAmount:     total.Round(2),
		DeliveryFee:     fee,
		DeliveryAddress: "221B Baker Street",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	customer := int64(SampleCustomerID)
	initial := &entity.OrderStatusHistory{Status: order.Status, ChangedBy: &customer, CreatedAt: now}
	if err := s.store.CreateOrder(ctx, order, items, initial); err != nil {
		return fmt.Errorf("create sample order: %w", err)
	}
	return nil
}
