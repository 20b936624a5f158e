package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/database"
	"github.com/Additional-Code/fooddash/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/fooddash/repository/order")

// Repository encapsulates read/write access for orders.
type Repository struct {
	conns  *database.Connections
	writer *bun.DB
	reader *bun.DB
}

var _ Store = (*Repository)(nil)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		conns:  conns,
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// LoadOrder reads from the writer so the status compared at commit time is not replica-stale.
func (r *Repository) LoadOrder(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.LoadOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := loadAggregate(ctx, r.writer, id)
	return order, finishSpan(span, err)
}

// SaveTransition compare-and-swaps the status, claims/releases drivers and appends history in one transaction.
// The returned view is read inside that transaction; if it cannot be read nothing is committed.
func (r *Repository) SaveTransition(ctx context.Context, rec TransitionRecord) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SaveTransition", trace.WithAttributes(
		attribute.Int64("order.id", rec.OrderID),
		attribute.String("order.status.from", rec.From.String()),
		attribute.String("order.status.to", rec.To.String()),
	))
	defer span.End()

	var saved *entity.Order
	err := r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*entity.Order)(nil)).
			Set("status = ?", rec.To.String()).
			Set("updated_at = ?", rec.At).
			Where("id = ?", rec.OrderID).
			Where("status = ?", rec.From.String())
		if rec.Binding.Claim != nil {
			q = q.Set("driver_id = ?", *rec.Binding.Claim)
		}
		if err := expectOneRow(q.Exec(ctx)); err != nil {
			return err
		}

		if err := applyBinding(ctx, tx, rec.Binding, rec.At); err != nil {
			return err
		}

		history := &entity.OrderStatusHistory{
			OrderID:   rec.OrderID,
			Status:    rec.To,
			ChangedBy: rec.ChangedBy,
			Notes:     rec.Notes,
			CreatedAt: rec.At,
		}
		if _, err := tx.NewInsert().Model(history).Exec(ctx); err != nil {
			return err
		}

		var err error
		saved, err = loadView(ctx, tx, rec.OrderID)
		return err
	})
	if err != nil {
		return nil, finishSpan(span, err)
	}
	return saved, nil
}

// AssignDriver swaps the bound driver while the order still has the expected status and driver.
func (r *Repository) AssignDriver(ctx context.Context, rec AssignmentRecord) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.AssignDriver", trace.WithAttributes(attribute.Int64("order.id", rec.OrderID)))
	defer span.End()

	if rec.Binding.Claim == nil {
		order, err := loadView(ctx, r.writer, rec.OrderID)
		return order, finishSpan(span, err)
	}

	var saved *entity.Order
	err := r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*entity.Order)(nil)).
			Set("driver_id = ?", *rec.Binding.Claim).
			Set("updated_at = ?", rec.At).
			Where("id = ?", rec.OrderID).
			Where("status = ?", rec.ExpectedStatus.String())
		if rec.ExpectedDriverID == nil {
			q = q.Where("driver_id IS NULL")
		} else {
			q = q.Where("driver_id = ?", *rec.ExpectedDriverID)
		}
		if err := expectOneRow(q.Exec(ctx)); err != nil {
			return err
		}
		if err := applyBinding(ctx, tx, rec.Binding, rec.At); err != nil {
			return err
		}

		var err error
		saved, err = loadView(ctx, tx, rec.OrderID)
		return err
	})
	if err != nil {
		return nil, finishSpan(span, err)
	}
	return saved, nil
}

// IsDriverAvailable reports whether the driver exists and is free; unknown drivers are unavailable.
func (r *Repository) IsDriverAvailable(ctx context.Context, driverID int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.IsDriverAvailable", trace.WithAttributes(attribute.Int64("driver.id", driverID)))
	defer span.End()

	driver := new(entity.Driver)
	err := r.writer.NewSelect().Model(driver).Column("id", "is_available").Where("id = ?", driverID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, finishSpan(span, err)
	}
	return driver.IsAvailable, nil
}

// CreateOrder persists the order, its items and the initial history row together.
func (r *Repository) CreateOrder(ctx context.Context, order *entity.Order, items []*entity.OrderItem, initial *entity.OrderStatusHistory) error {
	if order == nil || initial == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CreateOrder", trace.WithAttributes(
		attribute.Int64("order.customer_id", order.CustomerID),
		attribute.Int64("order.restaurant_id", order.RestaurantID),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	err := r.conns.InTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, item := range items {
			item.OrderID = order.ID
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}
		initial.OrderID = order.ID
		if _, err := tx.NewInsert().Model(initial).Exec(ctx); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
		return nil
	})
	if err != nil {
		return finishSpan(span, err)
	}

	order.Items = items
	order.History = []*entity.OrderStatusHistory{initial}
	return nil
}

// MenuItems returns the requested menu items that belong to the restaurant.
func (r *Repository) MenuItems(ctx context.Context, restaurantID int64, ids []int64) ([]*entity.MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MenuItems", trace.WithAttributes(attribute.Int64("restaurant.id", restaurantID)))
	defer span.End()

	var items []*entity.MenuItem
	err := r.reader.NewSelect().Model(&items).
		Where("mi.restaurant_id = ?", restaurantID).
		Where("mi.id IN (?)", bun.In(ids)).
		Scan(ctx)
	return items, finishSpan(span, err)
}

// LoadView fetches the hydrated read model using the read replica when available.
func (r *Repository) LoadView(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.LoadView", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := loadView(ctx, r.reader, id)
	return order, finishSpan(span, err)
}

// History returns the audit trail of one order, oldest first.
func (r *Repository) History(ctx context.Context, orderID int64) ([]*entity.OrderStatusHistory, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.History", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var rows []*entity.OrderStatusHistory
	err := r.reader.NewSelect().Model(&rows).
		Where("osh.order_id = ?", orderID).
		Order("osh.created_at ASC", "osh.id ASC").
		Scan(ctx)
	return rows, finishSpan(span, err)
}

// List returns a page of orders matching filter, newest first, with the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*entity.Order, int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	var orders []*entity.Order
	q := r.reader.NewSelect().Model(&orders).
		Relation("Restaurant").
		Relation("Driver")
	if filter.CustomerID != nil {
		q = q.Where("o.customer_id = ?", *filter.CustomerID)
	}
	if filter.RestaurantOwnerID != nil {
		q = q.Where("restaurant.owner_id = ?", *filter.RestaurantOwnerID)
	}
	if filter.DriverUserID != nil {
		q = q.Where("driver.user_id = ?", *filter.DriverUserID)
	}
	if filter.Status != "" {
		q = q.Where("o.status = ?", filter.Status.String())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	total, err := q.Order("o.created_at DESC", "o.id DESC").ScanAndCount(ctx)
	if err != nil {
		return nil, 0, finishSpan(span, err)
	}
	return orders, total, nil
}

func loadView(ctx context.Context, db bun.IDB, id int64) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().Model(order).
		Relation("Restaurant").
		Relation("Driver").
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.id ASC")
		}).
		Relation("History", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("osh.created_at ASC", "osh.id ASC")
		}).
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func loadAggregate(ctx context.Context, db bun.IDB, id int64) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().Model(order).
		Relation("Restaurant").
		Relation("Driver").
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// applyBinding claims the new driver only if still available, then frees the previous one.
func applyBinding(ctx context.Context, tx bun.Tx, binding core.DriverBinding, at time.Time) error {
	if binding.Claim != nil {
		res, err := tx.NewUpdate().Model((*entity.Driver)(nil)).
			Set("is_available = ?", false).
			Set("updated_at = ?", at).
			Where("id = ?", *binding.Claim).
			Where("is_available = ?", true).
			Exec(ctx)
		if err := expectOneRow(res, err); err != nil {
			if errors.Is(err, core.ErrConflict) {
				return fmt.Errorf("%w: driver %d", core.ErrDriverUnavailable, *binding.Claim)
			}
			return err
		}
	}
	if binding.Release != nil {
		_, err := tx.NewUpdate().Model((*entity.Driver)(nil)).
			Set("is_available = ?", true).
			Set("updated_at = ?", at).
			Where("id = ?", *binding.Release).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("release driver %d: %w", *binding.Release, err)
		}
	}
	return nil
}

// expectOneRow turns a zero-row conditional update into ErrConflict.
func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrConflict
	}
	return nil
}

func finishSpan(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, core.ErrOrderNotFound):
		span.SetStatus(codes.Error, "not found")
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrDriverUnavailable):
		span.SetStatus(codes.Error, err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}
	return err
}
