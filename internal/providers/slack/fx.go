package slack

import (
	"github.com/overtimestaff/escrow/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.SlackAlertWebhook == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(cfg.SlackAlertWebhook, nil)
}
