package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/overtimestaff/escrow/internal/config"
	"github.com/overtimestaff/escrow/internal/dbtest"
	"github.com/overtimestaff/escrow/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockEmail struct{ mock.Mock }

func (m *mockEmail) Name() string { return "mock" }

func (m *mockEmail) Send(ctx context.Context, msg email.Message) error {
	return m.Called(msg).Error(0)
}

type mockSlack struct{ mock.Mock }

func (m *mockSlack) PostMessage(ctx context.Context, message string) error {
	return m.Called(message).Error(0)
}

func newNotifier(t *testing.T, settings config.AdminSettings) (*Service, *mockEmail, *mockSlack, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	mail := &mockEmail{}
	sl := &mockSlack{}
	svc, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Email:    mail,
		Slack:    sl,
		Settings: config.NewStaticSettingsHolder(settings),
	})
	require.NoError(t, err)
	return svc, mail, sl, db
}

func addContact(t *testing.T, db *gorm.DB, id int64, mailbox string, enabled bool) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO user_contacts (user_id, name, email, notifications_enabled, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, "Ada", mailbox, enabled, time.Now().UTC(),
	).Error)
}

func TestNotifyRendersTemplateForContact(t *testing.T) {
	svc, mail, _, db := newNotifier(t, config.DefaultAdminSettings())
	addContact(t, db, 42, "ada@example.com", true)

	mail.On("Send", mock.MatchedBy(func(msg email.Message) bool {
		return assert.Equal(t, []string{"ada@example.com"}, msg.To) &&
			assert.Equal(t, "Your dispute on shift payment 77 was resolved", msg.Subject) &&
			assert.Contains(t, msg.HTMLBody, "Hi Ada") &&
			assert.Contains(t, msg.HTMLBody, "$100.00 refunded") &&
			assert.Contains(t, msg.HTMLBody, "timesheet &lt;missing&gt;") &&
			assert.NotContains(t, msg.HTMLBody, "internal only")
	})).Return(nil).Once()

	svc.Notify(context.Background(), "42", TemplateDisputeResolved, map[string]any{
		"payment_id":       "77",
		"resolution":       "refund",
		"refund_amount":    "100.00",
		"resolution_notes": "timesheet <missing>",
	})
	mail.AssertExpectations(t)
}

func TestNotifySkipsDisabledAndUnknownContacts(t *testing.T) {
	svc, mail, _, db := newNotifier(t, config.DefaultAdminSettings())
	addContact(t, db, 42, "ada@example.com", false)

	svc.Notify(context.Background(), "42", TemplateDisputeResolved, nil)
	svc.Notify(context.Background(), "43", TemplateDisputeResolved, nil)
	svc.Notify(context.Background(), "not-an-id", TemplateDisputeResolved, nil)
	mail.AssertNotCalled(t, "Send", mock.Anything)
}

func TestNotifySwallowsDeliveryErrors(t *testing.T) {
	svc, mail, _, db := newNotifier(t, config.DefaultAdminSettings())
	addContact(t, db, 42, "ada@example.com", true)
	mail.On("Send", mock.Anything).Return(errors.New("smtp down")).Once()

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), "42", TemplatePaymentRefunded, map[string]any{"payment_id": "1", "refund_amount": "5.00"})
	})
	mail.AssertExpectations(t)
}

func TestRenderRejectsUnknownTemplate(t *testing.T) {
	svc, _, _, _ := newNotifier(t, config.DefaultAdminSettings())
	_, _, err := svc.render("weekly_digest", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestAdminAlertPostsSortedFieldsAndMailsAdmin(t *testing.T) {
	settings := config.DefaultAdminSettings()
	settings.AdminUserID = "1"
	svc, mail, sl, db := newNotifier(t, settings)
	addContact(t, db, 1, "ops@example.com", true)

	sl.On("PostMessage", ":rotating_light: Payout failed permanently\n• payment_id: 9\n• retry_count: 3").Return(nil).Once()
	mail.On("Send", mock.MatchedBy(func(msg email.Message) bool {
		return msg.Subject == "Payout failed permanently" && msg.To[0] == "ops@example.com"
	})).Return(nil).Once()

	svc.AdminAlert(context.Background(), "Payout failed permanently", map[string]string{
		"retry_count": "3",
		"payment_id":  "9",
	})
	sl.AssertExpectations(t)
	mail.AssertExpectations(t)
}
