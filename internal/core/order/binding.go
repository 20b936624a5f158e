package order

import "fmt"

// DriverBinding describes the driver side effects of a single transition.
type DriverBinding struct {
	// Claim is the driver to mark unavailable and bind to the order.
	Claim *int64
	// Release is the driver to mark available again.
	Release *int64
}

// Empty reports whether the binding has no side effects.
func (b DriverBinding) Empty() bool {
	return b.Claim == nil && b.Release == nil
}

// PlanDriverBinding works out the driver side effects of moving from -> to.
// current is the driver bound now, requested the optional driver supplied by the caller.
// Rules:
//   - a driver may only be supplied when entering ready_for_pickup or out_for_delivery
//   - an order cannot go out for delivery without a driver
//   - delivering or cancelling frees the bound driver
//   - supplying a different driver swaps the binding
func PlanDriverBinding(from, to Status, current, requested *int64) (DriverBinding, error) {
	var plan DriverBinding

	if requested != nil {
		if to != StatusReadyForPickup && to != StatusOutForDelivery {
			return DriverBinding{}, fmt.Errorf("%w: %s", ErrDriverNotAssignable, to)
		}
		if *requested <= 0 {
			return DriverBinding{}, fmt.Errorf("%w: invalid driver id %d", ErrDriverUnavailable, *requested)
		}
		if current == nil || *current != *requested {
			plan.Claim = requested
			plan.Release = current
		}
	}

	if to == StatusOutForDelivery && current == nil && requested == nil {
		return DriverBinding{}, fmt.Errorf("%w: order cannot leave %s without a driver", ErrDriverRequired, from)
	}

	if (to == StatusDelivered || to == StatusCancelled) && current != nil {
		plan.Release = current
	}

	return plan, nil
}

// PlanReassignment works out the side effects of assigning a driver without a status change.
func PlanReassignment(status Status, current *int64, requested int64) (DriverBinding, error) {
	if status != StatusReadyForPickup {
		return DriverBinding{}, fmt.Errorf("%w: drivers are assigned at %s, order is %s", ErrInvalidTransition, StatusReadyForPickup, status)
	}
	if requested <= 0 {
		return DriverBinding{}, fmt.Errorf("%w: invalid driver id %d", ErrDriverUnavailable, requested)
	}
	if current != nil && *current == requested {
		return DriverBinding{}, nil
	}
	return DriverBinding{Claim: &requested, Release: current}, nil
}
