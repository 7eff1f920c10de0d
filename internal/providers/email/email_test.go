package email

import (
	"context"
	"encoding/json"
	"net/smtp"
	"strings"
	"testing"

	"github.com/overtimestaff/escrow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSMTPSendBuildsMessage(t *testing.T) {
	p := NewSMTP(SMTPConfig{Host: "mail.local", Port: 2525, From: "no-reply@overtimestaff.com"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	err := p.Send(context.Background(), Message{
		To:       []string{"a@example.com", "b@example.com"},
		Subject:  "Dispute resolved",
		HTMLBody: "<p>done</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, gotMsg, "Subject: Dispute resolved\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "<p>done</p>"))
}

func TestSendRequiresRecipients(t *testing.T) {
	assert.ErrorIs(t, NewSMTP(SMTPConfig{}).Send(context.Background(), Message{}), ErrNoRecipients)
	assert.ErrorIs(t, NewSendGrid(SendGridConfig{}).Send(context.Background(), Message{}), ErrNoRecipients)
}

func TestSendGridSandboxMode(t *testing.T) {
	p := NewSendGrid(SendGridConfig{APIKey: "SG.test", FromEmail: "no-reply@overtimestaff.com", FromName: "OvertimeStaff", SandboxMode: true})
	v3 := p.build(Message{To: []string{"w@example.com"}, Subject: "s", HTMLBody: "<b>x</b>"})

	raw, err := json.Marshal(v3)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sandbox_mode":{"enable":true}`)
	assert.Contains(t, string(raw), `"w@example.com"`)
}

func TestNewFromConfigSelectsTransport(t *testing.T) {
	log := zap.NewNop()
	assert.Equal(t, "noop", NewFromConfig(config.Config{}, log).Name())
	assert.Equal(t, "smtp", NewFromConfig(config.Config{SMTP: config.SMTPConfig{Host: "mail.local"}}, log).Name())
	assert.Equal(t, "sendgrid", NewFromConfig(config.Config{
		SendGrid: config.SendGridConfig{APIKey: "SG.x"},
		SMTP:     config.SMTPConfig{Host: "mail.local"},
	}, log).Name())
}
