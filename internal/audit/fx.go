package audit

import (
	"github.com/overtimestaff/escrow/internal/audit/repository"
	"github.com/overtimestaff/escrow/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
