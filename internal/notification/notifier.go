// Package notification tells workers, businesses and operators about payment
// events. Delivery is best effort: failures are logged and counted, never returned.
package notification

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/config"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	"github.com/overtimestaff/escrow/internal/providers/email"
	"github.com/overtimestaff/escrow/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Template string

const (
	TemplateDisputeFiled    Template = "dispute_filed"
	TemplateDisputeResolved Template = "dispute_resolved"
	TemplatePaymentRefunded Template = "payment_refunded"
	TemplatePayoutFailed    Template = "payout_failed"
)

var (
	ErrContactNotFound = errors.New("contact_not_found")
	ErrUnknownTemplate = errors.New("unknown_template")
)

//go:embed templates/*.html
var templateFS embed.FS

// Contact is where a user wants to hear from us.
type Contact struct {
	UserID               snowflake.ID `gorm:"primaryKey"`
	Name                 string
	Email                string
	NotificationsEnabled bool
	UpdatedAt            time.Time
}

func (Contact) TableName() string { return "user_contacts" }

type Notifier interface {
	Notify(ctx context.Context, userID string, tmpl Template, payload map[string]any)
	AdminAlert(ctx context.Context, subject string, fields map[string]string)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Email    email.Provider
	Slack    slack.Provider
	Settings *config.SettingsHolder
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	email     email.Provider
	slack     slack.Provider
	settings  *config.SettingsHolder
	metrics   *obsmetrics.Metrics
	templates *template.Template
}

func New(p Params) (*Service, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("notification"),
		email:     p.Email,
		slack:     p.Slack,
		settings:  p.Settings,
		metrics:   p.Metrics,
		templates: tmpl,
	}, nil
}

func (s *Service) Notify(ctx context.Context, userID string, tmpl Template, payload map[string]any) {
	outcome, err := s.notify(ctx, userID, tmpl, payload)
	s.metrics.RecordNotification(ctx, string(tmpl), outcome)
	if err != nil {
		s.log.Warn("notification not delivered",
			zap.String("user_id", userID),
			zap.String("template", string(tmpl)),
			zap.Error(err),
		)
	}
}

func (s *Service) notify(ctx context.Context, userID string, tmpl Template, payload map[string]any) (string, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(userID))
	if err != nil || id == 0 {
		return "failed", ErrContactNotFound
	}
	var contact Contact
	if err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, name, email, notifications_enabled, updated_at FROM user_contacts WHERE user_id = ?`,
		id,
	).Scan(&contact).Error; err != nil {
		return "failed", err
	}
	if contact.UserID == 0 || strings.TrimSpace(contact.Email) == "" {
		return "failed", ErrContactNotFound
	}
	if !contact.NotificationsEnabled {
		return "skipped", nil
	}

	data := map[string]any{}
	for k, v := range payload {
		data[k] = v
	}
	data["name"] = contact.Name
	data["currency_symbol"] = s.settings.Get().CurrencySymbol

	subject, body, err := s.render(tmpl, data)
	if err != nil {
		return "failed", err
	}
	if err := s.email.Send(ctx, email.Message{To: []string{contact.Email}, Subject: subject, HTMLBody: body}); err != nil {
		return "failed", err
	}
	return "sent", nil
}

// render executes "<tmpl>.subject" and "<tmpl>.body" from the embedded set.
func (s *Service) render(tmpl Template, data map[string]any) (string, string, error) {
	subjectTmpl := s.templates.Lookup(string(tmpl) + ".subject")
	bodyTmpl := s.templates.Lookup(string(tmpl) + ".body")
	if subjectTmpl == nil || bodyTmpl == nil {
		return "", "", ErrUnknownTemplate
	}
	var subject, body bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return "", "", err
	}
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return "", "", err
	}
	return html.UnescapeString(strings.TrimSpace(subject.String())), body.String(), nil
}

// AdminAlert posts to the operator channel and mails the configured admin user.
func (s *Service) AdminAlert(ctx context.Context, subject string, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(":rotating_light: ")
	b.WriteString(subject)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %s", k, fields[k])
	}

	outcome := "sent"
	if err := s.slack.PostMessage(ctx, b.String()); err != nil {
		outcome = "failed"
		s.log.Warn("admin alert not delivered", zap.String("subject", subject), zap.Error(err))
	}
	s.metrics.RecordNotification(ctx, "admin_alert", outcome)

	if adminID := s.settings.Get().AdminUserID; adminID != "" {
		payload := map[string]any{"subject": subject}
		for k, v := range fields {
			payload[k] = v
		}
		s.Notify(ctx, adminID, TemplatePayoutFailed, payload)
	}
}
