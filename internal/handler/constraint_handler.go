package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type timeConstraintService interface {
	List(ctx context.Context, teacherID string, actor models.Actor) ([]models.TimeConstraint, error)
	Create(ctx context.Context, req dto.TimeConstraintRequest, actor models.Actor) (*models.TimeConstraint, error)
	Update(ctx context.Context, id string, req dto.TimeConstraintRequest, actor models.Actor) (*models.TimeConstraint, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
}

// TimeConstraintHandler manages a teacher's weekly unavailability.
type TimeConstraintHandler struct {
	service timeConstraintService
}

// NewTimeConstraintHandler constructs the handler.
func NewTimeConstraintHandler(service timeConstraintService) *TimeConstraintHandler {
	return &TimeConstraintHandler{service: service}
}

// ListForTeacher godoc
// @Summary List a teacher's constraints
// @Tags Constraints
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /teachers/{id}/constraints [get]
func (h *TimeConstraintHandler) ListForTeacher(c *gin.Context) {
	h.list(c, c.Param("id"))
}

// ListOwn godoc
// @Summary List the caller's constraints
// @Tags Constraints
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /constraints [get]
func (h *TimeConstraintHandler) ListOwn(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	h.list(c, actor.ID)
}

// Create godoc
// @Summary Add a weekly constraint
// @Tags Constraints
// @Accept json
// @Produce json
// @Param payload body dto.TimeConstraintRequest true "Constraint"
// @Success 201 {object} response.Envelope{data=models.TimeConstraint}
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /constraints [post]
func (h *TimeConstraintHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req dto.TimeConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid constraint payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Replace a weekly constraint
// @Tags Constraints
// @Accept json
// @Produce json
// @Param id path string true "Constraint ID"
// @Param payload body dto.TimeConstraintRequest true "Constraint"
// @Success 200 {object} response.Envelope{data=models.TimeConstraint}
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /constraints/{id} [put]
func (h *TimeConstraintHandler) Update(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req dto.TimeConstraintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid constraint payload"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete a weekly constraint
// @Tags Constraints
// @Param id path string true "Constraint ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /constraints/{id} [delete]
func (h *TimeConstraintHandler) Delete(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *TimeConstraintHandler) list(c *gin.Context, teacherID string) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), teacherID, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
