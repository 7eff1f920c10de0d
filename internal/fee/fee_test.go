package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeStandardShift(t *testing.T) {
	b, err := Compute(d("20"), d("5"), d("15"), d("0"))
	require.NoError(t, err)

	assert.Equal(t, "100.00", b.TotalAmount.StringFixed(2))
	assert.Equal(t, "15.00", b.PlatformFee.StringFixed(2))
	assert.Equal(t, "85.00", b.WorkerAmount.StringFixed(2))
	assert.True(t, b.PlatformFeePercentage.Equal(d("15")))
}

func TestComputeIgnoresWorkerFeeRateInSplit(t *testing.T) {
	b, err := Compute(d("20"), d("5"), d("15"), d("5"))
	require.NoError(t, err)

	assert.Equal(t, "85.00", b.WorkerAmount.StringFixed(2))
	assert.True(t, b.WorkerFeeRate.Equal(d("5")))
}

func TestComputeSplitAlwaysSumsToTotal(t *testing.T) {
	cases := []struct{ rate, hours, fee string }{
		{"17.33", "7.25", "12.5"},
		{"9.99", "0.5", "33.333"},
		{"100", "12", "0"},
		{"0", "8", "15"},
		{"45.55", "3.75", "100"},
	}
	for _, tc := range cases {
		b, err := Compute(d(tc.rate), d(tc.hours), d(tc.fee), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, b.TotalAmount.Equal(b.PlatformFee.Add(b.WorkerAmount)), "%+v", tc)
	}
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	_, err := Compute(d("-1"), d("5"), d("15"), decimal.Zero)
	assert.ErrorIs(t, err, ErrNegativeRate)

	_, err = Compute(d("20"), d("-5"), d("15"), decimal.Zero)
	assert.ErrorIs(t, err, ErrNegativeHours)

	_, err = Compute(d("20"), d("5"), d("101"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	_, err = Compute(d("20"), d("5"), d("15"), d("-2"))
	assert.ErrorIs(t, err, ErrInvalidWorkerFeeRate)
}

func TestDiscrepancy(t *testing.T) {
	assert.True(t, Discrepancy(d("100"), d("20"), d("5")).IsZero())
	assert.Equal(t, "-0.50", Discrepancy(d("99.50"), d("20"), d("5")).StringFixed(2))
}
