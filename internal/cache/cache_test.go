package cache

import (
	"testing"
	"time"

	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheDeleteAndPurge(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("a", "x", 0)
	c.Set("b", "y", time.Hour)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestPricingCacheNormalizesKeysAndInvalidates(t *testing.T) {
	c := NewPricingCache()
	c.Set("ng", " lagos", "gold", pricingdomain.EffectivePricing{RegionalPricingID: "1", CountryCode: "NG"}, 0)

	got, ok := c.Get("NG", "LAGOS", "GOLD")
	assert.True(t, ok)
	assert.Equal(t, "NG", got.CountryCode)

	c.Set("NG", "", "", pricingdomain.EffectivePricing{}, 0)
	_, ok = c.Get("NG", "", "")
	assert.False(t, ok)

	c.Invalidate()
	_, ok = c.Get("NG", "LAGOS", "GOLD")
	assert.False(t, ok)
}

func TestPricingCacheCapsLifetime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newPricingCache(newTTLCache[string, pricingdomain.EffectivePricing](func() time.Time { return now }))
	pricing := pricingdomain.EffectivePricing{RegionalPricingID: "1"}

	c.Set("NG", "", "", pricing, 10*time.Second)
	c.Set("GH", "", "", pricing, time.Hour)
	c.Set("KE", "", "", pricing, 0)

	now = now.Add(10 * time.Second)
	_, ok := c.Get("NG", "", "")
	assert.False(t, ok)
	_, ok = c.Get("GH", "", "")
	assert.True(t, ok)

	now = now.Add(defaultPricingTTL)
	_, ok = c.Get("GH", "", "")
	assert.False(t, ok)
	_, ok = c.Get("KE", "", "")
	assert.False(t, ok)
}
