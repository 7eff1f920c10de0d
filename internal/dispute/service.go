// Package dispute files and resolves payment disputes and tells both parties.
package dispute

import (
	"context"
	"strings"

	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/notification"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Escrow   escrowdomain.Service
	Notifier notification.Notifier
	Settings *config.SettingsHolder
}

type Service struct {
	log      *zap.Logger
	escrow   escrowdomain.Service
	notifier notification.Notifier
	settings *config.SettingsHolder
}

func New(p Params) *Service {
	return &Service{
		log:      p.Log.Named("dispute.service"),
		escrow:   p.Escrow,
		notifier: p.Notifier,
		settings: p.Settings,
	}
}

func (s *Service) File(ctx context.Context, paymentID string, req escrowdomain.FileDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	payment, err := s.escrow.FileDispute(ctx, paymentID, req)
	if err != nil {
		return nil, err
	}
	if s.settings.Get().NotifyDisputeFiled {
		s.notifyParties(ctx, payment, notification.TemplateDisputeFiled, map[string]any{
			"filed_by": string(*payment.DisputeFiledBy),
			"amount":   payment.TotalAmount.StringFixed(2),
		})
	}
	return payment, nil
}

// Resolve checks the request before any state is read, then lets the escrow
// service apply it. Parties only ever see resolution_notes.
func (s *Service) Resolve(ctx context.Context, paymentID string, req escrowdomain.ResolveDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	payment, err := s.escrow.ResolveDispute(ctx, paymentID, req)
	if err != nil {
		return nil, err
	}

	if s.settings.Get().NotifyDisputeResolved {
		payload := map[string]any{
			"resolution":       string(*payment.DisputeResolution),
			"resolution_notes": *payment.ResolutionNotes,
		}
		if payment.RefundAmount.Valid {
			payload["refund_amount"] = payment.RefundAmount.Decimal.StringFixed(2)
		}
		s.notifyParties(ctx, payment, notification.TemplateDisputeResolved, payload)
	}
	return payment, nil
}

func (s *Service) AddNotes(ctx context.Context, paymentID, notes string) (*escrowdomain.ShiftPayment, error) {
	return s.escrow.AddDisputeNotes(ctx, paymentID, notes)
}

func (s *Service) notifyParties(ctx context.Context, payment *escrowdomain.ShiftPayment, tmpl notification.Template, payload map[string]any) {
	payload["payment_id"] = payment.ID.String()
	for _, userID := range []string{payment.WorkerID.String(), payment.BusinessID.String()} {
		s.notifier.Notify(ctx, userID, tmpl, payload)
	}
}

// Validate reports the first input problem of a resolution request.
func Validate(req escrowdomain.ResolveDisputeRequest) error {
	resolution, ok := escrowdomain.ParseResolution(req.Resolution)
	if !ok {
		return escrowdomain.ErrInvalidResolution
	}
	if strings.TrimSpace(req.ResolutionNotes) == "" {
		return escrowdomain.ErrInvalidResolutionNotes
	}
	switch resolution {
	case escrowdomain.ResolutionRefund:
		if req.RefundAmount == nil || !req.RefundAmount.IsPositive() || !req.RefundAmount.Equal(req.RefundAmount.Round(2)) {
			return escrowdomain.ErrInvalidRefundAmount
		}
	case escrowdomain.ResolutionRelease:
		if req.RefundAmount != nil {
			return escrowdomain.ErrInvalidRefundAmount
		}
	}
	return nil
}
