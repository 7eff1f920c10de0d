package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdjustmentStatusAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		adj  PriceAdjustment
		want AdjustmentStatus
	}{
		{"open ended", PriceAdjustment{IsActive: true, ValidFrom: past}, StatusActive},
		{"inside window", PriceAdjustment{IsActive: true, ValidFrom: past, ValidUntil: &future}, StatusActive},
		{"ends now", PriceAdjustment{IsActive: true, ValidFrom: past, ValidUntil: &now}, StatusActive},
		{"starts now", PriceAdjustment{IsActive: true, ValidFrom: now}, StatusActive},
		{"scheduled", PriceAdjustment{IsActive: true, ValidFrom: future}, StatusScheduled},
		{"expired", PriceAdjustment{IsActive: true, ValidFrom: past.Add(-time.Hour), ValidUntil: &past}, StatusExpired},
		{"inactive wins", PriceAdjustment{IsActive: false, ValidFrom: past}, StatusInactive},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AdjustmentStatusAt(tc.adj, now), tc.name)
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" Platinum ")
	assert.True(t, ok)
	assert.Equal(t, TierPlatinum, tier)

	_, ok = ParseTier("copper")
	assert.False(t, ok)
}
