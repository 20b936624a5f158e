package order

import (
	"context"
	"sort"
	"sync"
	"time"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/entity"
	repo "github.com/Additional-Code/fooddash/internal/repository/order"
)

// mockStore is an in-memory Store honouring the same compare-and-swap rules as the bun repository.
type mockStore struct {
	mu          sync.Mutex
	orders      map[int64]*entity.Order
	restaurants map[int64]*entity.Restaurant
	drivers     map[int64]*entity.Driver
	menu        map[int64]*entity.MenuItem
	items       map[int64][]*entity.OrderItem
	history     map[int64][]*entity.OrderStatusHistory
	nextID      int64

	// loadBarrier, when set, holds every LoadOrder until all expected loads happened.
	loadBarrier *sync.WaitGroup

	LoadErr   error
	SaveErr   error
	CreateErr error
	ListErr   error

	saveCalls  int
	viewCalls  int
	lastFilter repo.ListFilter
}

func newMockStore() *mockStore {
	return &mockStore{
		orders:      map[int64]*entity.Order{},
		restaurants: map[int64]*entity.Restaurant{},
		drivers:     map[int64]*entity.Driver{},
		menu:        map[int64]*entity.MenuItem{},
		items:       map[int64][]*entity.OrderItem{},
		history:     map[int64][]*entity.OrderStatusHistory{},
		nextID:      100,
	}
}

// seedOrder inserts an order directly at status with an optional driver and a matching history path.
func (m *mockStore) seedOrder(customerID, restaurantID int64, status core.Status, driverID *int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	now := time.Now().UTC()
	m.orders[id] = &entity.Order{
		ID:              id,
		CustomerID:      customerID,
		RestaurantID:    restaurantID,
		DriverID:        driverID,
		Status:          status,
		DeliveryAddress: "1 Main St",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if driverID != nil {
		m.drivers[*driverID].IsAvailable = false
	}
	for _, s := range pathTo(status) {
		m.history[id] = append(m.history[id], &entity.OrderStatusHistory{OrderID: id, Status: s, CreatedAt: now})
	}
	return id
}

func pathTo(target core.Status) []core.Status {
	path := []core.Status{core.StatusPending}
	if target == core.StatusCancelled {
		return append(path, core.StatusCancelled)
	}
	for path[len(path)-1] != target {
		next := core.Next(path[len(path)-1])
		path = append(path, next[0])
	}
	return path
}

func (m *mockStore) hydrate(o *entity.Order, full bool) *entity.Order {
	cp := *o
	if r, ok := m.restaurants[o.RestaurantID]; ok {
		rc := *r
		cp.Restaurant = &rc
	}
	if o.DriverID != nil {
		if d, ok := m.drivers[*o.DriverID]; ok {
			dc := *d
			cp.Driver = &dc
		}
	}
	if full {
		cp.Items = append([]*entity.OrderItem(nil), m.items[o.ID]...)
		cp.History = append([]*entity.OrderStatusHistory(nil), m.history[o.ID]...)
	}
	return &cp
}

func (m *mockStore) LoadOrder(_ context.Context, id int64) (*entity.Order, error) {
	m.mu.Lock()
	var (
		out *entity.Order
		err error
	)
	switch o, ok := m.orders[id]; {
	case m.LoadErr != nil:
		err = m.LoadErr
	case !ok:
		err = core.ErrOrderNotFound
	default:
		out = m.hydrate(o, false)
	}
	barrier := m.loadBarrier
	m.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return out, err
}

func (m *mockStore) SaveTransition(_ context.Context, rec repo.TransitionRecord) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++

	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	o, ok := m.orders[rec.OrderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	if o.Status != rec.From {
		return nil, core.ErrConflict
	}
	if err := m.applyBinding(rec.Binding); err != nil {
		return nil, err
	}

	o.Status = rec.To
	o.UpdatedAt = rec.At
	if rec.Binding.Claim != nil {
		id := *rec.Binding.Claim
		o.DriverID = &id
	}
	m.history[o.ID] = append(m.history[o.ID], &entity.OrderStatusHistory{
		OrderID:   o.ID,
		Status:    rec.To,
		ChangedBy: rec.ChangedBy,
		Notes:     rec.Notes,
		CreatedAt: rec.At,
	})
	return m.hydrate(o, true), nil
}

func (m *mockStore) AssignDriver(_ context.Context, rec repo.AssignmentRecord) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	o, ok := m.orders[rec.OrderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	if rec.Binding.Claim == nil {
		return m.hydrate(o, true), nil
	}
	if o.Status != rec.ExpectedStatus || !samePtr(o.DriverID, rec.ExpectedDriverID) {
		return nil, core.ErrConflict
	}
	if err := m.applyBinding(rec.Binding); err != nil {
		return nil, err
	}
	id := *rec.Binding.Claim
	o.DriverID = &id
	o.UpdatedAt = rec.At
	return m.hydrate(o, true), nil
}

func (m *mockStore) applyBinding(b core.DriverBinding) error {
	if b.Claim != nil {
		d, ok := m.drivers[*b.Claim]
		if !ok || !d.IsAvailable {
			return core.ErrDriverUnavailable
		}
		d.IsAvailable = false
	}
	if b.Release != nil {
		if d, ok := m.drivers[*b.Release]; ok {
			d.IsAvailable = true
		}
	}
	return nil
}

func (m *mockStore) IsDriverAvailable(_ context.Context, driverID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	return ok && d.IsAvailable, nil
}

func (m *mockStore) CreateOrder(_ context.Context, order *entity.Order, items []*entity.OrderItem, initial *entity.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.nextID++
	order.ID = m.nextID
	for i, item := range items {
		item.ID = int64(i + 1)
		item.OrderID = order.ID
	}
	initial.OrderID = order.ID
	order.Items = items
	order.History = []*entity.OrderStatusHistory{initial}

	stored := *order
	stored.Items, stored.History = nil, nil
	m.orders[order.ID] = &stored
	m.items[order.ID] = items
	m.history[order.ID] = []*entity.OrderStatusHistory{initial}
	return nil
}

func (m *mockStore) MenuItems(_ context.Context, restaurantID int64, ids []int64) ([]*entity.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.MenuItem
	for _, id := range ids {
		if mi, ok := m.menu[id]; ok && mi.RestaurantID == restaurantID {
			out = append(out, mi)
		}
	}
	return out, nil
}

func (m *mockStore) LoadView(_ context.Context, id int64) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewCalls++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	return m.hydrate(o, true), nil
}

func (m *mockStore) History(_ context.Context, orderID int64) ([]*entity.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.OrderStatusHistory(nil), m.history[orderID]...), nil
}

func (m *mockStore) List(_ context.Context, filter repo.ListFilter) ([]*entity.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}

	var out []*entity.Order
	for _, o := range m.orders {
		h := m.hydrate(o, false)
		if filter.CustomerID != nil && o.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.RestaurantOwnerID != nil && (h.Restaurant == nil || h.Restaurant.OwnerID != *filter.RestaurantOwnerID) {
			continue
		}
		if filter.DriverUserID != nil && (h.Driver == nil || h.Driver.UserID != *filter.DriverUserID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	total := len(out)
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *mockStore) status(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status.String()
}

func (m *mockStore) driverOf(id int64) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].DriverID
}

func (m *mockStore) driverAvailable(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drivers[id].IsAvailable
}

func (m *mockStore) historyStatuses(id int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.history[id]))
	for _, h := range m.history[id] {
		out = append(out, h.Status.String())
	}
	return out
}

func samePtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var _ repo.Store = (*mockStore)(nil)
