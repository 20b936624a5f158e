package http

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/fooddash/internal/transport/http/auth"
	ordertransport "github.com/Additional-Code/fooddash/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	auth.Module,
	ordertransport.Module,
)
