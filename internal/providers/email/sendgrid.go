package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridConfig struct {
	APIKey      string
	FromEmail   string
	FromName    string
	SandboxMode bool
}

type SendGridProvider struct {
	cfg    SendGridConfig
	client *sendgrid.Client
}

func NewSendGrid(cfg SendGridConfig) *SendGridProvider {
	return &SendGridProvider{cfg: cfg, client: sendgrid.NewSendClient(cfg.APIKey)}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

func (p *SendGridProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	v3 := p.build(msg)
	resp, err := p.client.SendWithContext(ctx, v3)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (p *SendGridProvider) build(msg Message) *mail.SGMailV3 {
	v3 := mail.NewV3Mail()
	v3.SetFrom(mail.NewEmail(p.cfg.FromName, p.cfg.FromEmail))
	v3.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	for _, to := range msg.To {
		personalization.AddTos(mail.NewEmail("", to))
	}
	v3.AddPersonalizations(personalization)

	if msg.TextBody != "" {
		v3.AddContent(mail.NewContent("text/plain", msg.TextBody))
	}
	v3.AddContent(mail.NewContent("text/html", msg.HTMLBody))

	if p.cfg.SandboxMode {
		settings := mail.NewMailSettings()
		settings.SetSandboxMode(mail.NewSetting(true))
		v3.SetMailSettings(settings)
	}
	return v3
}
