package email

import (
	"github.com/overtimestaff/escrow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig prefers SendGrid, then SMTP, and drops mail when neither is set.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	log = log.Named("providers.email")
	switch {
	case cfg.SendGrid.APIKey != "":
		log.Info("using sendgrid", zap.Bool("sandbox", cfg.SendGrid.SandboxMode))
		return NewSendGrid(SendGridConfig{
			APIKey:      cfg.SendGrid.APIKey,
			FromEmail:   cfg.SendGrid.FromEmail,
			FromName:    cfg.SendGrid.FromName,
			SandboxMode: cfg.SendGrid.SandboxMode,
		})
	case cfg.SMTP.Host != "":
		log.Info("using smtp", zap.String("host", cfg.SMTP.Host))
		return NewSMTP(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	default:
		log.Warn("no mail transport configured; emails are dropped")
		return &NoOpProvider{}
	}
}
