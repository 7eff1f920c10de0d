package regionalpricing

import (
	"github.com/overtimestaff/escrow/internal/cache"
	"github.com/overtimestaff/escrow/internal/regionalpricing/repository"
	"github.com/overtimestaff/escrow/internal/regionalpricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("regionalpricing.service",
	fx.Provide(cache.NewPricingCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
