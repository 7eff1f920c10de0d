package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestClassifyStripeErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway, Type: stripe.ErrorTypeAPI}, true},
		{"network", errors.New("connection reset"), true},
		{"card declined", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined}, false},
		{"invalid account", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest, Code: stripe.ErrorCodeResourceMissing}, false},
	}
	for _, tc := range cases {
		err := classify(OpTransfer, tc.err)
		assert.Equal(t, tc.transient, IsTransient(err), tc.name)
		var pe *Error
		require.True(t, errors.As(err, &pe), tc.name)
		assert.Equal(t, OpTransfer, pe.Op)
	}

	assert.ErrorIs(t, classify(OpCapture, context.Canceled), context.Canceled)
	assert.False(t, IsTransient(classify(OpCapture, context.Canceled)))
}

func TestIsTransientThroughWrapping(t *testing.T) {
	err := fmt.Errorf("payout 7: %w", Transient(OpTransfer, errors.New("timeout")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Contains(t, Permanent(OpRefund, "charge_already_refunded", errors.New("x")).Error(), "permanent")
}

func TestSandboxIdempotencyAndFailures(t *testing.T) {
	sb := NewSandbox()
	ctx := context.Background()

	first, err := sb.Transfer(ctx, TransferRequest{AmountMinor: 8500, Currency: "USD", DestinationRef: "acct_1", IdempotencyKey: "7-transfer-0"})
	require.NoError(t, err)
	again, err := sb.Transfer(ctx, TransferRequest{AmountMinor: 8500, Currency: "USD", DestinationRef: "acct_1", IdempotencyKey: "7-transfer-0"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	sb.FailNext(OpTransfer, Transient(OpTransfer, errors.New("503")))
	_, err = sb.Transfer(ctx, TransferRequest{AmountMinor: 1, DestinationRef: "acct_1", IdempotencyKey: "7-transfer-1"})
	assert.True(t, IsTransient(err))
	other, err := sb.Transfer(ctx, TransferRequest{AmountMinor: 1, DestinationRef: "acct_1", IdempotencyKey: "7-transfer-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
	assert.Equal(t, 4, sb.Calls(OpTransfer))

	_, err = sb.Capture(ctx, CaptureRequest{AmountMinor: 100})
	assert.False(t, IsTransient(err))
	assert.Error(t, err)
}
