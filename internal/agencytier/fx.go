package agencytier

import (
	"github.com/overtimestaff/escrow/internal/agencytier/repository"
	"github.com/overtimestaff/escrow/internal/agencytier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agencytier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
