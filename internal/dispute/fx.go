package dispute

import "go.uber.org/fx"

var Module = fx.Module("dispute.service",
	fx.Provide(New),
)
