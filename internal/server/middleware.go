package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/overtimestaff/escrow/internal/observability/context"
	"go.uber.org/zap"
)

// The upstream gateway authenticates the caller and forwards who they are.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

type Actor struct {
	ID   string
	Role string
}

// ActorRequired reads the actor headers and stores the actor on the request
// context so audit rows and log lines carry it.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
			Role: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))),
		}
		if actor.ID == "" || actor.Role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorKey, actor)
		ctx := obscontext.WithActor(c.Request.Context(), actor.Role, actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}

// throttle caps how fast one actor can move money. Limiter failures let the
// request through so a redis outage does not stop payouts.
func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), actor.ID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("actor_id", actor.ID), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
