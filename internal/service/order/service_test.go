package order

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Additional-Code/fooddash/internal/cache"
	"github.com/Additional-Code/fooddash/internal/config"
	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/entity"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

const (
	restaurantID   int64 = 1
	ownerID        int64 = 50
	otherOwnerID   int64 = 51
	customerID     int64 = 10
	adminID        int64 = 1
	busyDriver     int64 = 7
	busyDriverUser int64 = 707
	freeDriver     int64 = 8
	freeDriverUser int64 = 808
	spareDriver    int64 = 9
	pizzaID        int64 = 31
	soldOutID      int64 = 32
)

var (
	admin      = core.Caller{ID: adminID, Role: core.RoleAdmin}
	customer   = core.Caller{ID: customerID, Role: core.RoleCustomer}
	owner      = core.Caller{ID: ownerID, Role: core.RoleRestaurant}
	otherOwner = core.Caller{ID: otherOwnerID, Role: core.RoleRestaurant}
)

type recordingHook struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (h *recordingHook) OnOrderEvent(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return h.err
}

func (h *recordingHook) all() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) SetIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type harness struct {
	svc   *Service
	store *mockStore
	cache *memCache
	hook  *recordingHook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMockStore()
	store.restaurants[restaurantID] = &entity.Restaurant{ID: restaurantID, OwnerID: ownerID, Name: "Luigi's"}
	store.drivers[busyDriver] = &entity.Driver{ID: busyDriver, UserID: busyDriverUser, Name: "Busy", IsAvailable: false}
	store.drivers[freeDriver] = &entity.Driver{ID: freeDriver, UserID: freeDriverUser, Name: "Free", IsAvailable: true}
	store.drivers[spareDriver] = &entity.Driver{ID: spareDriver, UserID: 909, Name: "Spare", IsAvailable: true}
	store.menu[pizzaID] = &entity.MenuItem{ID: pizzaID, RestaurantID: restaurantID, Name: "Margherita", Price: decimal.RequireFromString("9.50"), IsAvailable: true}
	store.menu[soldOutID] = &entity.MenuItem{ID: soldOutID, RestaurantID: restaurantID, Name: "Special", Price: decimal.RequireFromString("15.00"), IsAvailable: false}

	cfg := config.Config{
		Cache: config.Cache{DefaultTTL: time.Minute, KeyPrefix: "test"},
		Orders: config.Orders{
			DeliveryFee:  decimal.RequireFromString("2.99"),
			PageSize:     20,
			MaxPageSize:  50,
			MaxItemCount: 10,
		},
	}
	mc := &memCache{data: map[string][]byte{}}
	hook := &recordingHook{}

	svc := NewService(Params{
		Store:  store,
		Cache:  mc,
		Keys:   cache.NewKeys(cfg),
		Config: cfg,
		Logger: zap.NewNop(),
		Hooks:  []StatusHook{hook},
	})
	return &harness{svc: svc, store: store, cache: mc, hook: hook}
}

func driverCaller(userID int64) core.Caller {
	return core.Caller{ID: userID, Role: core.RoleDriver}
}

func ptr(v int64) *int64 { return &v }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if !errorbank.HasCode(err, code) {
		t.Fatalf("error = %v (code %s), want code %s", err, errorbank.From(err).Code(), code)
	}
}

func TestCustomerPlacesAndCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	placed, err := h.svc.Place(ctx, PlaceRequest{
		Caller:          customer,
		RestaurantID:    restaurantID,
		Items:           []PlaceItem{{MenuItemID: pizzaID, Quantity: 2}},
		DeliveryAddress: "1 Main St",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if placed.Status != core.StatusPending.String() {
		t.Errorf("status = %s, want pending", placed.Status)
	}
	if !placed.TotalAmount.Equal(decimal.RequireFromString("21.99")) {
		t.Errorf("total = %s, want 21.99", placed.TotalAmount)
	}
	if got := h.store.historyStatuses(placed.ID); !reflect.DeepEqual(got, []string{"pending"}) {
		t.Errorf("history = %v, want [pending]", got)
	}

	cancelled, err := h.svc.Transition(ctx, TransitionRequest{OrderID: placed.ID, Status: core.StatusCancelled, Caller: customer})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if cancelled.Status != core.StatusCancelled.String() {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if got := h.store.historyStatuses(placed.ID); !reflect.DeepEqual(got, []string{"pending", "cancelled"}) {
		t.Errorf("history = %v, want [pending cancelled]", got)
	}
	if len(cancelled.History) != 2 {
		t.Errorf("view history = %d rows, want 2", len(cancelled.History))
	}
}

func TestRestaurantOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	_, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: otherOwner})
	assertCode(t, err, CodeNotAuthorized)
	if errorbank.From(err).StatusCode() != 403 {
		t.Errorf("status code = %d, want 403", errorbank.From(err).StatusCode())
	}

	view, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner})
	if err != nil {
		t.Fatalf("owner Transition: %v", err)
	}
	if view.Status != core.StatusPreparing.String() {
		t.Errorf("status = %s, want preparing", view.Status)
	}
}

func TestUnavailableDriverLeavesOrderUntouched(t *testing.T) {
	h := newHarness(t)
	id := h.store.seedOrder(customerID, restaurantID, core.StatusReadyForPickup, nil)

	_, err := h.svc.Transition(context.Background(), TransitionRequest{
		OrderID:  id,
		Status:   core.StatusOutForDelivery,
		Caller:   admin,
		DriverID: ptr(busyDriver),
	})
	assertCode(t, err, CodeDriverUnavailable)

	if got := h.store.status(id); got != core.StatusReadyForPickup.String() {
		t.Errorf("status = %s, want ready_for_pickup", got)
	}
	if h.store.driverOf(id) != nil {
		t.Errorf("driver = %v, want unchanged nil", *h.store.driverOf(id))
	}
	if h.store.saveCalls != 0 {
		t.Errorf("SaveTransition called %d times, want 0", h.store.saveCalls)
	}
}

func TestCustomerCannotCancelOutForDelivery(t *testing.T) {
	h := newHarness(t)
	id := h.store.seedOrder(customerID, restaurantID, core.StatusOutForDelivery, ptr(freeDriver))

	_, err := h.svc.Transition(context.Background(), TransitionRequest{OrderID: id, Status: core.StatusCancelled, Caller: customer})
	assertCode(t, err, CodeNotAuthorized)
	if got := h.store.status(id); got != core.StatusOutForDelivery.String() {
		t.Errorf("status = %s, want out_for_delivery", got)
	}
}

func TestAssignedDriverDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusOutForDelivery, ptr(freeDriver))

	_, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusDelivered, Caller: driverCaller(busyDriverUser)})
	assertCode(t, err, CodeNotAuthorized)

	view, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusDelivered, Caller: driverCaller(freeDriverUser)})
	if err != nil {
		t.Fatalf("assigned driver Transition: %v", err)
	}
	if view.Status != core.StatusDelivered.String() {
		t.Errorf("status = %s, want delivered", view.Status)
	}
	if view.DriverID == nil || *view.DriverID != freeDriver {
		t.Errorf("driver_id = %v, want %d kept on delivered order", view.DriverID, freeDriver)
	}
	if !h.store.driverAvailable(freeDriver) {
		t.Error("driver should be available again after delivery")
	}
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	h.store.loadBarrier = barrier

	requests := []TransitionRequest{
		{OrderID: id, Status: core.StatusCancelled, Caller: customer},
		{OrderID: id, Status: core.StatusPreparing, Caller: owner},
	}
	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Transition(context.Background(), req)
		}()
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errorbank.HasCode(err, CodeStatusConflict):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("succeeded=%d conflicted=%d, want 1 and 1", succeeded, conflicted)
	}
	if n := len(h.store.historyStatuses(id)); n != 2 {
		t.Errorf("history rows = %d, want 2", n)
	}
}

func TestTransition_TerminalOrdersRejectEveryone(t *testing.T) {
	callers := []core.Caller{admin, customer, owner, driverCaller(freeDriverUser)}

	for _, terminal := range []core.Status{core.StatusDelivered, core.StatusCancelled} {
		for _, target := range core.All() {
			for _, caller := range callers {
				t.Run(terminal.String()+"->"+target.String()+"/"+string(caller.Role), func(t *testing.T) {
					h := newHarness(t)
					var driver *int64
					if terminal == core.StatusDelivered {
						driver = ptr(freeDriver)
					}
					id := h.store.seedOrder(customerID, restaurantID, terminal, driver)

					_, err := h.svc.Transition(context.Background(), TransitionRequest{OrderID: id, Status: target, Caller: caller})
					assertCode(t, err, CodeInvalidTransition)
					if errorbank.From(err).StatusCode() != 422 {
						t.Errorf("status code = %d, want 422", errorbank.From(err).StatusCode())
					}
				})
			}
		}
	}
}

func TestTransition_HistoryFollowsPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	steps := []TransitionRequest{
		{OrderID: id, Status: core.StatusPreparing, Caller: owner},
		{OrderID: id, Status: core.StatusReadyForPickup, Caller: owner, DriverID: ptr(freeDriver)},
		{OrderID: id, Status: core.StatusOutForDelivery, Caller: driverCaller(freeDriverUser)},
		{OrderID: id, Status: core.StatusDelivered, Caller: driverCaller(freeDriverUser)},
	}
	for _, step := range steps {
		if _, err := h.svc.Transition(ctx, step); err != nil {
			t.Fatalf("Transition to %s: %v", step.Status, err)
		}
	}

	want := []string{"pending", "preparing", "ready_for_pickup", "out_for_delivery", "delivered"}
	if got := h.store.historyStatuses(id); !reflect.DeepEqual(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	for i := 1; i < len(want); i++ {
		if !core.CanMove(core.Status(want[i-1]), core.Status(want[i])) {
			t.Errorf("history step %s -> %s is not a valid transition", want[i-1], want[i])
		}
	}

	events := h.hook.all()
	if len(events) != len(steps) {
		t.Fatalf("events = %d, want %d", len(events), len(steps))
	}
	last := events[len(events)-1]
	if last.Type != EventOrderStatusChanged || last.OldStatus != "out_for_delivery" || last.NewStatus != "delivered" {
		t.Errorf("last event = %+v", last)
	}
	if last.ID == "" || last.CustomerID != customerID {
		t.Errorf("event missing id or customer: %+v", last)
	}
}

func TestTransition_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   core.Status
		driver   *int64
		req      func(id int64) TransitionRequest
		wantCode string
	}{
		{
			name:   "skipping a step",
			status: core.StatusPending,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusDelivered, Caller: admin}
			},
			wantCode: CodeInvalidTransition,
		},
		{
			name:   "unknown status",
			status: core.StatusPending,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.Status("teleported"), Caller: admin}
			},
			wantCode: CodeInvalidTransition,
		},
		{
			name:   "missing order",
			status: core.StatusPending,
			req: func(int64) TransitionRequest {
				return TransitionRequest{OrderID: 9999, Status: core.StatusPreparing, Caller: admin}
			},
			wantCode: CodeOrderNotFound,
		},
		{
			name:   "out for delivery without driver",
			status: core.StatusReadyForPickup,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusOutForDelivery, Caller: admin}
			},
			wantCode: CodeDriverRequired,
		},
		{
			name:   "driver supplied while preparing",
			status: core.StatusPending,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner, DriverID: ptr(freeDriver)}
			},
			wantCode: CodeDriverNotAssignable,
		},
		{
			name:   "customer advancing status",
			status: core.StatusPending,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: customer}
			},
			wantCode: CodeNotAuthorized,
		},
		{
			name:   "driver picking their own order",
			status: core.StatusPreparing,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusReadyForPickup, Caller: driverCaller(freeDriverUser), DriverID: ptr(freeDriver)}
			},
			wantCode: CodeNotAuthorized,
		},
		{
			name:   "other customer cancelling",
			status: core.StatusPending,
			req: func(id int64) TransitionRequest {
				return TransitionRequest{OrderID: id, Status: core.StatusCancelled, Caller: core.Caller{ID: 11, Role: core.RoleCustomer}}
			},
			wantCode: CodeNotAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.store.seedOrder(customerID, restaurantID, tt.status, tt.driver)

			_, err := h.svc.Transition(context.Background(), tt.req(id))
			assertCode(t, err, tt.wantCode)
			if h.store.saveCalls != 0 {
				t.Errorf("SaveTransition called for a rejected request")
			}
			if len(h.hook.all()) != 0 {
				t.Errorf("hooks fired for a rejected request")
			}
		})
	}
}

func TestTransition_PersistenceFailureIsTemporary(t *testing.T) {
	h := newHarness(t)
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)
	h.store.SaveErr = errors.New("connection reset")

	_, err := h.svc.Transition(context.Background(), TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner})
	assertCode(t, err, CodePersistenceFailure)
	appErr := errorbank.From(err)
	if !appErr.Temporary() || appErr.StatusCode() != 503 {
		t.Errorf("temporary=%v status=%d, want true/503", appErr.Temporary(), appErr.StatusCode())
	}
	if got := h.store.status(id); got != core.StatusPending.String() {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestTransition_HookFailureDoesNotFailTransition(t *testing.T) {
	h := newHarness(t)
	h.hook.err = errors.New("broker down")
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	if _, err := h.svc.Transition(context.Background(), TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner}); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got := h.store.status(id); got != core.StatusPreparing.String() {
		t.Errorf("status = %s, want preparing", got)
	}
}

func TestTransition_CancelReleasesDriver(t *testing.T) {
	h := newHarness(t)
	id := h.store.seedOrder(customerID, restaurantID, core.StatusReadyForPickup, ptr(freeDriver))

	if _, err := h.svc.Transition(context.Background(), TransitionRequest{OrderID: id, Status: core.StatusCancelled, Caller: driverCaller(freeDriverUser)}); err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	if !h.store.driverAvailable(freeDriver) {
		t.Error("driver should be released on cancellation")
	}
}

func TestAssignDriver(t *testing.T) {
	t.Run("admin assigns at ready_for_pickup", func(t *testing.T) {
		h := newHarness(t)
		id := h.store.seedOrder(customerID, restaurantID, core.StatusReadyForPickup, nil)

		view, err := h.svc.AssignDriver(context.Background(), AssignDriverRequest{OrderID: id, DriverID: freeDriver, Caller: admin})
		if err != nil {
			t.Fatalf("AssignDriver: %v", err)
		}
		if view.DriverID == nil || *view.DriverID != freeDriver {
			t.Errorf("driver_id = %v, want %d", view.DriverID, freeDriver)
		}
		if n := len(h.store.historyStatuses(id)); n != 3 {
			t.Errorf("history rows = %d, want 3 (no row for assignment)", n)
		}
		if events := h.hook.all(); len(events) != 1 || events[0].Type != EventDriverAssigned {
			t.Errorf("events = %+v, want one driver_assigned", events)
		}
	})

	t.Run("owner swaps drivers", func(t *testing.T) {
		h := newHarness(t)
		id := h.store.seedOrder(customerID, restaurantID, core.StatusReadyForPickup, ptr(freeDriver))

		if _, err := h.svc.AssignDriver(context.Background(), AssignDriverRequest{OrderID: id, DriverID: spareDriver, Caller: owner}); err != nil {
			t.Fatalf("AssignDriver: %v", err)
		}
		if !h.store.driverAvailable(freeDriver) || h.store.driverAvailable(spareDriver) {
			t.Error("previous driver should be released and new one claimed")
		}
	})

	t.Run("same driver is a no-op", func(t *testing.T) {
		h := newHarness(t)
		id := h.store.seedOrder(customerID, restaurantID, core.StatusReadyForPickup, ptr(freeDriver))

		if _, err := h.svc.AssignDriver(context.Background(), AssignDriverRequest{OrderID: id, DriverID: freeDriver, Caller: admin}); err != nil {
			t.Fatalf("AssignDriver: %v", err)
		}
		if len(h.hook.all()) != 0 {
			t.Error("no event expected for a no-op assignment")
		}
	})

	tests := []struct {
		name     string
		status   core.Status
		req      AssignDriverRequest
		wantCode string
	}{
		{"wrong status", core.StatusPreparing, AssignDriverRequest{DriverID: freeDriver, Caller: admin}, CodeInvalidTransition},
		{"customer", core.StatusReadyForPickup, AssignDriverRequest{DriverID: freeDriver, Caller: customer}, CodeNotAuthorized},
		{"other owner", core.StatusReadyForPickup, AssignDriverRequest{DriverID: freeDriver, Caller: otherOwner}, CodeNotAuthorized},
		{"busy driver", core.StatusReadyForPickup, AssignDriverRequest{DriverID: busyDriver, Caller: admin}, CodeDriverUnavailable},
		{"unknown driver", core.StatusReadyForPickup, AssignDriverRequest{DriverID: 4242, Caller: admin}, CodeDriverUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.req.OrderID = h.store.seedOrder(customerID, restaurantID, tt.status, nil)

			_, err := h.svc.AssignDriver(context.Background(), tt.req)
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestPlace_Validation(t *testing.T) {
	valid := PlaceRequest{
		Caller:          customer,
		RestaurantID:    restaurantID,
		Items:           []PlaceItem{{MenuItemID: pizzaID, Quantity: 1}},
		DeliveryAddress: "1 Main St",
	}

	tests := []struct {
		name     string
		mutate   func(r *PlaceRequest)
		wantCode string
	}{
		{"restaurant cannot place", func(r *PlaceRequest) { r.Caller = owner }, CodeNotAuthorized},
		{"no items", func(r *PlaceRequest) { r.Items = nil }, CodeInvalidOrder},
		{"blank address", func(r *PlaceRequest) { r.DeliveryAddress = "  " }, CodeInvalidOrder},
		{"zero quantity", func(r *PlaceRequest) { r.Items = []PlaceItem{{MenuItemID: pizzaID}} }, CodeInvalidOrder},
		{"unknown item", func(r *PlaceRequest) { r.Items = []PlaceItem{{MenuItemID: 999, Quantity: 1}} }, CodeInvalidOrder},
		{"sold out item", func(r *PlaceRequest) { r.Items = []PlaceItem{{MenuItemID: soldOutID, Quantity: 1}} }, CodeInvalidOrder},
		{"other restaurant", func(r *PlaceRequest) { r.RestaurantID = 2 }, CodeInvalidOrder},
		{"too many lines", func(r *PlaceRequest) {
			r.Items = make([]PlaceItem, 11)
			for i := range r.Items {
				r.Items[i] = PlaceItem{MenuItemID: pizzaID, Quantity: 1}
			}
		}, CodeInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := valid
			tt.mutate(&req)

			_, err := h.svc.Place(context.Background(), req)
			assertCode(t, err, tt.wantCode)
		})
	}
}

func TestPlace_EmitsEventAndSnapshotsPrices(t *testing.T) {
	h := newHarness(t)
	view, err := h.svc.Place(context.Background(), PlaceRequest{
		Caller:          customer,
		RestaurantID:    restaurantID,
		Items:           []PlaceItem{{MenuItemID: pizzaID, Quantity: 1}, {MenuItemID: pizzaID, Quantity: 2}},
		DeliveryAddress: "1 Main St",
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if len(view.Items) != 2 || !view.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.50")) {
		t.Errorf("items = %+v", view.Items)
	}
	if !view.TotalAmount.Equal(decimal.RequireFromString("31.49")) {
		t.Errorf("total = %s, want 31.49", view.TotalAmount)
	}
	events := h.hook.all()
	if len(events) != 1 || events[0].Type != EventOrderPlaced || events[0].NewStatus != "pending" {
		t.Errorf("events = %+v, want one order.placed", events)
	}
}

func TestGet_CacheAsideAndWriteThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	for i := 0; i < 2; i++ {
		view, err := h.svc.Get(ctx, id, customer)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if view.Restaurant == nil || view.Restaurant.Name != "Luigi's" {
			t.Errorf("restaurant not hydrated: %+v", view.Restaurant)
		}
	}
	if h.store.viewCalls != 1 {
		t.Errorf("LoadView calls = %d, want 1 (second read from cache)", h.store.viewCalls)
	}

	// Cached entries still enforce visibility.
	if _, err := h.svc.Get(ctx, id, otherOwner); !errorbank.HasCode(err, CodeNotAuthorized) {
		t.Errorf("other owner Get error = %v, want not_authorized", err)
	}

	if _, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner}); err != nil {
		t.Fatal(err)
	}
	view, err := h.svc.Get(ctx, id, owner)
	if err != nil {
		t.Fatalf("Get after transition: %v", err)
	}
	if view.Status != core.StatusPreparing.String() || len(view.History) != 2 {
		t.Errorf("status = %s history = %d, want preparing with 2 rows from the refreshed entry", view.Status, len(view.History))
	}
	if h.store.viewCalls != 1 {
		t.Errorf("LoadView calls = %d, want 1 (transition writes the view through)", h.store.viewCalls)
	}
}

// slowReadStore runs during once, after LoadView has read but before the caller caches the result.
type slowReadStore struct {
	*mockStore
	during func()
}

func (s *slowReadStore) LoadView(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.mockStore.LoadView(ctx, id)
	if s.during != nil {
		during := s.during
		s.during = nil
		during()
	}
	return order, err
}

func TestGet_FillDoesNotOverwriteConcurrentTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	reader := NewService(Params{
		Store: &slowReadStore{mockStore: h.store, during: func() {
			if _, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner}); err != nil {
				t.Errorf("Transition: %v", err)
			}
		}},
		Cache:  h.cache,
		Keys:   h.svc.keys,
		Config: config.Config{Cache: config.Cache{DefaultTTL: time.Minute}},
		Logger: zap.NewNop(),
	})

	view, err := reader.Get(ctx, id, customer)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Status != core.StatusPreparing.String() {
		t.Errorf("racing Get status = %s, want preparing", view.Status)
	}

	view, err = h.svc.Get(ctx, id, customer)
	if err != nil {
		t.Fatalf("Get after commit: %v", err)
	}
	if view.Status != core.StatusPreparing.String() || len(view.History) != 2 {
		t.Errorf("cached view status = %s history = %d, want preparing with 2 rows", view.Status, len(view.History))
	}
}

func TestRefresh_KeepsNewerEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)

	older, err := h.store.LoadView(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Transition(ctx, TransitionRequest{OrderID: id, Status: core.StatusPreparing, Caller: owner}); err != nil {
		t.Fatal(err)
	}

	// A late write-through of an earlier snapshot leaves the newer entry alone.
	older.UpdatedAt = older.UpdatedAt.Add(-time.Second)
	h.svc.refresh(ctx, older)

	view, err := h.svc.Get(ctx, id, customer)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != core.StatusPreparing.String() {
		t.Errorf("status = %s, want preparing", view.Status)
	}
}

func TestHistory_VisibleToAssignedDriverOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.store.seedOrder(customerID, restaurantID, core.StatusOutForDelivery, ptr(freeDriver))

	history, err := h.svc.History(ctx, id, driverCaller(freeDriverUser))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 || history[3].Status != "out_for_delivery" {
		t.Errorf("history = %+v", history)
	}

	_, err = h.svc.History(ctx, id, driverCaller(busyDriverUser))
	assertCode(t, err, CodeNotAuthorized)

	_, err = h.svc.History(ctx, 9999, admin)
	assertCode(t, err, CodeOrderNotFound)
}

func TestList_ScopesByRole(t *testing.T) {
	h := newHarness(t)
	h.store.seedOrder(customerID, restaurantID, core.StatusPending, nil)
	h.store.seedOrder(customerID, restaurantID, core.StatusOutForDelivery, ptr(freeDriver))
	h.store.seedOrder(11, restaurantID, core.StatusPending, nil)

	tests := []struct {
		name      string
		caller    core.Caller
		query     ListQuery
		wantTotal int
	}{
		{"admin sees all", admin, ListQuery{}, 3},
		{"customer sees own", customer, ListQuery{}, 2},
		{"owner sees restaurant", owner, ListQuery{}, 3},
		{"other owner sees none", otherOwner, ListQuery{}, 0},
		{"driver sees deliveries", driverCaller(freeDriverUser), ListQuery{}, 1},
		{"status filter", admin, ListQuery{Status: core.StatusPending}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.svc.List(context.Background(), tt.caller, tt.query)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", res.Total, tt.wantTotal)
			}
			if res.Limit != 20 {
				t.Errorf("limit = %d, want default 20", res.Limit)
			}
		})
	}

	res, err := h.svc.List(context.Background(), admin, ListQuery{Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != 50 {
		t.Errorf("limit = %d, want clamped to 50", res.Limit)
	}

	if _, err := h.svc.List(context.Background(), admin, ListQuery{Status: "lost"}); err == nil {
		t.Error("expected error for unknown status filter")
	}
	if _, err := h.svc.List(context.Background(), core.Caller{ID: 1, Role: "ghost"}, ListQuery{}); !errorbank.HasCode(err, CodeNotAuthorized) {
		t.Errorf("unknown role error = %v, want not_authorized", err)
	}
}
