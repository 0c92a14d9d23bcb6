package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type availabilityService interface {
	Slots(ctx context.Context, req dto.AvailabilityRequest) (*dto.AvailabilityResponse, bool, error)
}

// AvailabilityHandler serves bookable start times.
type AvailabilityHandler struct {
	service availabilityService
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(service availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

// Slots godoc
// @Summary Bookable slots of a teacher
// @Description Start times on the date where a lesson of the given duration fits the teacher's calendar
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param duration query int true "Lesson duration in minutes"
// @Param granularity query int false "Slot spacing in minutes"
// @Param dayStart query string false "Earliest start (HH:MM)"
// @Param dayEnd query string false "Latest end (HH:MM)"
// @Success 200 {object} response.Envelope{data=dto.AvailabilityResponse}
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/availability [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	var req dto.AvailabilityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid availability query"))
		return
	}
	req.TeacherID = c.Param("id")

	slots, cacheHit, err := h.service.Slots(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, slots, nil, middleware.ExtractMeta(c))
}
