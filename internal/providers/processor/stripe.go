package processor

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/transfer"
	"go.uber.org/zap"
)

// Stripe captures with off-session PaymentIntents against the business's
// saved customer, transfers to the worker's connected account, and refunds
// the PaymentIntent.
type Stripe struct {
	log *zap.Logger
}

func NewStripe(secretKey string, log *zap.Logger) *Stripe {
	stripe.Key = secretKey
	return &Stripe{log: log.Named("processor.stripe")}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Capture(ctx context.Context, req CaptureRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(req.AmountMinor),
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		Customer:   stripe.String(req.CustomerRef),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", classify(OpCapture, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", Permanent(OpCapture, string(pi.Status), errors.New("payment intent not settled"))
	}
	return pi.ID, nil
}

func (s *Stripe) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.DestinationRef),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := transfer.New(params)
	if err != nil {
		return "", classify(OpTransfer, err)
	}
	return t.ID, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeID),
		Amount:        stripe.Int64(req.AmountMinor),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return "", classify(OpRefund, err)
	}
	return r.ID, nil
}

// classify splits stripe failures: rate limits, 5xx and connection errors are
// transient; card declines, invalid requests and balance problems are permanent.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return Transient(op, err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI,
		se.Code == stripe.ErrorCodeLockTimeout:
		return &Error{Op: op, Code: string(se.Code), Transient: true, Err: err}
	default:
		return Permanent(op, string(se.Code), err)
	}
}
