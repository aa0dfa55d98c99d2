package config

import "go.uber.org/fx"

// Module wires application and analytics configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewAnalyticsConfigHolder,
	),
)
