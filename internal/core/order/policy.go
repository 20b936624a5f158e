package order

import (
	"fmt"
	"strings"
)

// Role tags the kind of actor issuing a request.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
)

// ParseRole converts a raw role claim into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case RoleCustomer, RoleRestaurant, RoleDriver, RoleAdmin:
		return r, nil
	case "restaurant_owner", "restaurant-owner", "owner":
		return RoleRestaurant, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Caller is the already-verified identity behind a request.
type Caller struct {
	ID   int64
	Role Role
}

// Subject is the narrow view of an order that authorization rules need.
type Subject struct {
	OrderID           int64
	Status            Status
	CustomerID        int64
	RestaurantOwnerID int64
	// DriverUserID is the user account behind the bound driver, nil when unassigned.
	DriverUserID *int64
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error wrapping ErrNotAuthorized.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, r.Reason)
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// CanTransition evaluates whether caller may move the order to target.
// Rules (any match permits):
//   - admins may perform every transition
//   - the owning restaurant drives preparing, ready_for_pickup and cancellation
//   - the assigned driver picks up, delivers, or cancels their own order
//   - the customer may cancel while the order is pending or preparing
//
// Structural validity is checked separately by ValidateTransition.
func CanTransition(caller Caller, subject Subject, target Status) GuardResult {
	switch caller.Role {
	case RoleAdmin:
		return allow()
	case RoleRestaurant:
		if caller.ID != subject.RestaurantOwnerID {
			return deny("restaurant %d does not own order %d", caller.ID, subject.OrderID)
		}
		switch target {
		case StatusPreparing, StatusReadyForPickup, StatusCancelled:
			return allow()
		}
		return deny("restaurants cannot move orders to %s", target)
	case RoleDriver:
		if !isAssignedDriver(caller, subject) {
			return deny("driver %d is not assigned to order %d", caller.ID, subject.OrderID)
		}
		if target == StatusCancelled {
			return allow()
		}
		if subject.Status == StatusReadyForPickup || subject.Status == StatusOutForDelivery {
			return allow()
		}
		return deny("drivers cannot move orders out of %s", subject.Status)
	case RoleCustomer:
		if caller.ID != subject.CustomerID {
			return deny("customer %d did not place order %d", caller.ID, subject.OrderID)
		}
		if target != StatusCancelled {
			return deny("customers can only cancel orders")
		}
		if subject.Status != StatusPending && subject.Status != StatusPreparing {
			return deny("order %d can no longer be cancelled by the customer (status: %s)", subject.OrderID, subject.Status)
		}
		return allow()
	default:
		return deny("role %q is not recognised", caller.Role)
	}
}

// CanAssignDriver evaluates whether caller may choose the driver for an order.
// Rules:
//   - admins may assign any order
//   - the owning restaurant may assign drivers to its own orders
func CanAssignDriver(caller Caller, subject Subject) GuardResult {
	switch {
	case caller.Role == RoleAdmin:
		return allow()
	case caller.Role == RoleRestaurant && caller.ID == subject.RestaurantOwnerID:
		return allow()
	default:
		return deny("%s %d cannot assign drivers to order %d", caller.Role, caller.ID, subject.OrderID)
	}
}

// CanView evaluates whether caller may read an order and its history.
func CanView(caller Caller, subject Subject) GuardResult {
	switch caller.Role {
	case RoleAdmin:
		return allow()
	case RoleCustomer:
		if caller.ID == subject.CustomerID {
			return allow()
		}
	case RoleRestaurant:
		if caller.ID == subject.RestaurantOwnerID {
			return allow()
		}
	case RoleDriver:
		if isAssignedDriver(caller, subject) {
			return allow()
		}
	}
	return deny("%s %d cannot view order %d", caller.Role, caller.ID, subject.OrderID)
}

// CanPlace evaluates whether caller may place a new order.
func CanPlace(caller Caller) GuardResult {
	if caller.Role != RoleCustomer {
		return deny("only customers can place orders")
	}
	if caller.ID <= 0 {
		return deny("customer id is required")
	}
	return allow()
}

func isAssignedDriver(caller Caller, subject Subject) bool {
	return subject.DriverUserID != nil && *subject.DriverUserID == caller.ID
}
