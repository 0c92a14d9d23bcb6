package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type lessonService interface {
	Book(ctx context.Context, req dto.BookLessonRequest, actor models.Actor) (*models.Lesson, error)
	ClockIn(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error)
	ClockOut(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error)
	CompleteManually(ctx context.Context, lessonID string, req dto.CompleteLessonRequest, actor models.Actor) (*models.Lesson, error)
	Cancel(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error)
	AdminDelete(ctx context.Context, lessonID string, req dto.DeleteLessonRequest, actor models.Actor, meta service.RequestMeta) error
	Get(ctx context.Context, lessonID string, actor models.Actor) (*models.Lesson, error)
	List(ctx context.Context, query dto.LessonListQuery, actor models.Actor) ([]models.Lesson, *models.Pagination, error)
}

// LessonHandler exposes the lesson lifecycle.
type LessonHandler struct {
	service lessonService
}

// NewLessonHandler constructs the handler.
func NewLessonHandler(service lessonService) *LessonHandler {
	return &LessonHandler{service: service}
}

// Book godoc
// @Summary Book a lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.BookLessonRequest true "Booking"
// @Success 201 {object} response.Envelope{data=models.Lesson}
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons [post]
func (h *LessonHandler) Book(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req dto.BookLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid booking payload"))
		return
	}
	lesson, err := h.service.Book(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lesson)
}

// List godoc
// @Summary List lessons visible to the caller
// @Tags Lessons
// @Produce json
// @Param teacherId query string false "Teacher ID (admins)"
// @Param status query []string false "Statuses" collectionFormat(multi)
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date inclusive (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons [get]
func (h *LessonHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var query dto.LessonListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid query parameters"))
		return
	}
	lessons, pagination, err := h.service.List(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, pagination)
}

// Get godoc
// @Summary Get a lesson
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope{data=models.Lesson}
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id} [get]
func (h *LessonHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	lesson, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// ClockIn godoc
// @Summary Start a booked lesson
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope{data=models.Lesson}
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/clock-in [post]
func (h *LessonHandler) ClockIn(c *gin.Context) {
	h.transition(c, h.service.ClockIn)
}

// ClockOut godoc
// @Summary Finish an in-progress lesson
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope{data=models.Lesson}
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/clock-out [post]
func (h *LessonHandler) ClockOut(c *gin.Context) {
	h.transition(c, h.service.ClockOut)
}

// Cancel godoc
// @Summary Cancel a future lesson
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope{data=models.Lesson}
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/cancel [post]
func (h *LessonHandler) Cancel(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

// Complete godoc
// @Summary Complete a past lesson without clock stamps
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.CompleteLessonRequest true "Worked minutes"
// @Success 200 {object} response.Envelope{data=models.Lesson}
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /lessons/{id}/complete [post]
func (h *LessonHandler) Complete(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req dto.CompleteLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid completion payload"))
		return
	}
	lesson, err := h.service.CompleteManually(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// AdminDelete godoc
// @Summary Remove a lesson
// @Description Deletes a lesson in any status; the reason is written to the audit log
// @Tags Admin
// @Accept json
// @Param id path string true "Lesson ID"
// @Param payload body dto.DeleteLessonRequest true "Reason"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /admin/lessons/{id} [delete]
func (h *LessonHandler) AdminDelete(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req dto.DeleteLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "a reason is required"))
		return
	}
	if err := h.service.AdminDelete(c.Request.Context(), c.Param("id"), req, actor, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *LessonHandler) transition(c *gin.Context, op func(context.Context, string, models.Actor) (*models.Lesson, error)) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	lesson, err := op(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}
