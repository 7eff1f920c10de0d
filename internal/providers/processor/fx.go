package processor

import (
	"github.com/overtimestaff/escrow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("processor",
	fx.Provide(New),
)

// New selects Stripe when a secret key is configured and the sandbox otherwise.
func New(cfg config.Config, log *zap.Logger) Processor {
	if cfg.Stripe.SecretKey == "" {
		if cfg.IsProduction() {
			log.Warn("stripe secret key missing in production, using sandbox processor")
		}
		return NewSandbox()
	}
	return NewStripe(cfg.Stripe.SecretKey, log)
}
