package metricspush

import "go.uber.org/fx"

var Module = fx.Module("metricspush",
	fx.Provide(NewPusher),
)
