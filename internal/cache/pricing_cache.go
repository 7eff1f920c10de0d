package cache

import (
	"strings"
	"time"

	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
)

const defaultPricingTTL = time.Minute

// PricingCache stores resolved regional pricing keyed by location and tier.
type PricingCache interface {
	Get(countryCode, regionCode, tier string) (pricingdomain.EffectivePricing, bool)
	// Set keeps pricing for at most maxTTL. Zero keeps the default lifetime.
	Set(countryCode, regionCode, tier string, pricing pricingdomain.EffectivePricing, maxTTL time.Duration)
	Invalidate()
}

type pricingCache struct {
	resolved Cache[string, pricingdomain.EffectivePricing]
	ttl      time.Duration
}

// NewPricingCache returns an in-memory cache for the pricing resolver.
func NewPricingCache() PricingCache {
	return newPricingCache(NewTTLCache[string, pricingdomain.EffectivePricing]())
}

func newPricingCache(resolved Cache[string, pricingdomain.EffectivePricing]) *pricingCache {
	return &pricingCache{resolved: resolved, ttl: defaultPricingTTL}
}

func (c *pricingCache) Get(countryCode, regionCode, tier string) (pricingdomain.EffectivePricing, bool) {
	return c.resolved.Get(cacheKey(countryCode, regionCode, tier))
}

func (c *pricingCache) Set(countryCode, regionCode, tier string, pricing pricingdomain.EffectivePricing, maxTTL time.Duration) {
	if pricing.RegionalPricingID == "" {
		return
	}
	ttl := c.ttl
	if maxTTL > 0 && maxTTL < ttl {
		ttl = maxTTL
	}
	c.resolved.Set(cacheKey(countryCode, regionCode, tier), pricing, ttl)
}

func (c *pricingCache) Invalidate() {
	c.resolved.Purge()
}

func cacheKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}
