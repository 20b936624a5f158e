package order

import "go.uber.org/fx"

// Module provides the order service and its default bus hook to Fx.
var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(
		fx.Annotate(
			NewPublishingHook,
			fx.ResultTags(`group:"order.status_hooks"`),
		),
	),
)
