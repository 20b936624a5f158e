package order

import (
	"context"
	"errors"

	core "github.com/Additional-Code/fooddash/internal/core/order"
	"github.com/Additional-Code/fooddash/internal/observability"
	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

// Stable machine-readable error codes returned to clients.
const (
	CodeOrderNotFound       = "order_not_found"
	CodeInvalidTransition   = "invalid_transition"
	CodeNotAuthorized       = "not_authorized"
	CodeDriverUnavailable   = "driver_unavailable"
	CodeStatusConflict      = "status_conflict"
	CodeDriverRequired      = "driver_required"
	CodeDriverNotAssignable = "driver_not_assignable"
	CodeInvalidOrder        = "invalid_order"
	CodePersistenceFailure  = "persistence_failure"
)

// mapError translates domain sentinels into AppErrors. Anything unrecognised is a persistence failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	cause := errorbank.WithCause(err)
	switch {
	case errors.Is(err, core.ErrOrderNotFound):
		return errorbank.NotFound("order not found", errorbank.WithCode(CodeOrderNotFound), cause)
	case errors.Is(err, core.ErrInvalidTransition):
		return errorbank.Unprocessable(err.Error(), errorbank.WithCode(CodeInvalidTransition), cause)
	case errors.Is(err, core.ErrNotAuthorized):
		return errorbank.Forbidden("you are not allowed to perform this action", errorbank.WithCode(CodeNotAuthorized), cause)
	case errors.Is(err, core.ErrDriverUnavailable):
		return errorbank.Conflict("driver is not available", errorbank.WithCode(CodeDriverUnavailable), cause)
	case errors.Is(err, core.ErrConflict):
		return errorbank.Conflict("order already moved to a different status, please refresh", errorbank.WithCode(CodeStatusConflict), cause)
	case errors.Is(err, core.ErrDriverRequired):
		return errorbank.Unprocessable("a driver must be assigned before the order goes out for delivery", errorbank.WithCode(CodeDriverRequired), cause)
	case errors.Is(err, core.ErrDriverNotAssignable):
		return errorbank.Unprocessable("a driver can only be supplied when moving to ready_for_pickup or out_for_delivery", errorbank.WithCode(CodeDriverNotAssignable), cause)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorbank.Unavailable("request cancelled before the order was saved", errorbank.WithCode(CodePersistenceFailure), cause)
	default:
		return errorbank.Unavailable("orders are temporarily unavailable, please retry", errorbank.WithCode(CodePersistenceFailure), cause)
	}
}

// transitionResult labels a transition outcome for metrics.
func transitionResult(err error) string {
	switch {
	case err == nil:
		return observability.ResultOK
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrDriverUnavailable):
		return observability.ResultConflict
	case errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrNotAuthorized),
		errors.Is(err, core.ErrDriverRequired),
		errors.Is(err, core.ErrDriverNotAssignable):
		return observability.ResultRejected
	default:
		return observability.ResultUnavailable
	}
}
