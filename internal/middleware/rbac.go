package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

// RequireRoles lets the request through when the caller holds one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[actor.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(actor.Role)+" cannot access this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
