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

type timesheetService interface {
	Get(ctx context.Context, query dto.TimesheetQuery, actor models.Actor) (*models.Timesheet, error)
	Export(ctx context.Context, query dto.TimesheetQuery, actor models.Actor) (*service.TimesheetFile, error)
}

// TimesheetHandler reports worked lesson minutes.
type TimesheetHandler struct {
	service timesheetService
}

// NewTimesheetHandler constructs the handler.
func NewTimesheetHandler(service timesheetService) *TimesheetHandler {
	return &TimesheetHandler{service: service}
}

// Get godoc
// @Summary Timesheet of completed lessons
// @Tags Timesheets
// @Produce json
// @Param teacherId query string false "Teacher ID (admins)"
// @Param from query string true "From date (YYYY-MM-DD)"
// @Param to query string true "To date inclusive (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope{data=models.Timesheet}
// @Security BearerAuth
// @Router /timesheets [get]
func (h *TimesheetHandler) Get(c *gin.Context) {
	actor, query, ok := h.bind(c)
	if !ok {
		return
	}
	sheet, err := h.service.Get(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet, nil)
}

// Export godoc
// @Summary Download a timesheet
// @Tags Timesheets
// @Produce text/csv
// @Produce application/pdf
// @Param teacherId query string false "Teacher ID (admins)"
// @Param from query string true "From date (YYYY-MM-DD)"
// @Param to query string true "To date inclusive (YYYY-MM-DD)"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /timesheets/export [get]
func (h *TimesheetHandler) Export(c *gin.Context) {
	actor, query, ok := h.bind(c)
	if !ok {
		return
	}
	file, err := h.service.Export(c.Request.Context(), query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func (h *TimesheetHandler) bind(c *gin.Context) (models.Actor, dto.TimesheetQuery, bool) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return models.Actor{}, dto.TimesheetQuery{}, false
	}
	var query dto.TimesheetQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid query parameters"))
		return models.Actor{}, dto.TimesheetQuery{}, false
	}
	return actor, query, true
}
