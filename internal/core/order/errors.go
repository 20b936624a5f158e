package order

import "errors"

var (
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when the target status is not reachable.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotAuthorized is returned when the caller may not perform the change.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrDriverUnavailable is returned when a driver is missing or already engaged.
	ErrDriverUnavailable = errors.New("driver unavailable")
	// ErrConflict is returned when the order changed between load and commit.
	ErrConflict = errors.New("order status changed concurrently")
	// ErrDriverRequired is returned when an order would go out for delivery without a driver.
	ErrDriverRequired = errors.New("driver required")
	// ErrDriverNotAssignable is returned when a driver is supplied for a status that cannot carry one.
	ErrDriverNotAssignable = errors.New("driver cannot be assigned at this status")
)
