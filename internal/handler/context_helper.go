package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

// actorOrAbort resolves the caller; it writes 401 and returns false when the request is anonymous.
func actorOrAbort(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return actor, true
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func invalidPayload(err error, message string) error {
	return appErrors.Validation(err, message)
}
