// Package order contains the pure business rules of the order lifecycle.
// Nothing in here performs I/O; callers pass in everything a rule needs.
package order

import (
	"fmt"
	"strings"
)

// Status is the closed set of states an order can be in.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// transitions is the fixed lifecycle graph. Every status has an entry so
// lookups never fall through to a zero value by accident.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup: {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// All returns every status in lifecycle order.
func All() []Status {
	return []Status{
		StatusPending,
		StatusPreparing,
		StatusReadyForPickup,
		StatusOutForDelivery,
		StatusDelivered,
		StatusCancelled,
	}
}

// ParseStatus converts a raw value into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func (s Status) String() string {
	return string(s)
}

// Next returns the statuses reachable in one step from s.
func Next(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanMove reports whether to is directly reachable from from.
func CanMove(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when to is not reachable from from.
func ValidateTransition(from, to Status) error {
	if CanMove(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, from)
	}
	return fmt.Errorf("%w: %s -> %s (allowed: %s)", ErrInvalidTransition, from, to, describeNext(from))
}

// InitialStatus is the status every newly placed order starts in.
func InitialStatus() Status {
	return StatusPending
}

func describeNext(s Status) string {
	next := transitions[s]
	if len(next) == 0 {
		return "none"
	}
	parts := make([]string, len(next))
	for i, n := range next {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
