// Package ratelimit throttles money-moving admin requests per actor across
// every instance of the service.
package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/overtimestaff/escrow/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyActor = "escrow:ratelimit:actor:%s"

// Allower decides whether one more request from a key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error)
}

type ActorLimiter struct {
	bucket Allower
	rate   float64
	burst  int
}

// NewActorLimiter returns nil when limiting is off or no redis client exists.
// A nil limiter lets everything through.
func NewActorLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *ActorLimiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if client == nil {
		log.Warn("rate limiting enabled without redis, requests are not throttled")
		return nil
	}
	if cfg.RateLimit.ActorRate <= 0 || cfg.RateLimit.ActorBurst <= 0 {
		log.Warn("rate limit settings must be positive, requests are not throttled",
			zap.Float64("rate", cfg.RateLimit.ActorRate),
			zap.Int("burst", cfg.RateLimit.ActorBurst),
		)
		return nil
	}
	return NewActorLimiterWithBucket(NewTokenBucket(client), cfg.RateLimit.ActorRate, cfg.RateLimit.ActorBurst)
}

// NewActorLimiterWithBucket builds a limiter on any Allower.
func NewActorLimiterWithBucket(bucket Allower, rate float64, burst int) *ActorLimiter {
	return &ActorLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *ActorLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ActorLimiter) Allow(ctx context.Context, actorID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyActor, strings.TrimSpace(actorID)), l.rate, l.burst)
}
