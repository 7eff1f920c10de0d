package server

import (
	"github.com/gin-gonic/gin"
)

// authorize lets the request through only when the actor's role may perform
// action on object.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.Role, actor.ID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
