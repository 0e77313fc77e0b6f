package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-match-api/internal/middleware"
	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/internal/service"
	"github.com/noah-isme/tutor-match-api/pkg/response"
)

type engagementService interface {
	Load(ctx context.Context, viewer models.Viewer, teacherID string) (*models.EngagementView, error)
}

type rosterExporter interface {
	Export(ctx context.Context, viewer models.Viewer, teacherID string, format service.ExportFormat) (*service.RosterExport, error)
}

// EngagementHandler exposes a teacher's aggregated students.
type EngagementHandler struct {
	engagements engagementService
	exporter    rosterExporter
}

// NewEngagementHandler builds the handler.
func NewEngagementHandler(engagements engagementService, exporter rosterExporter) *EngagementHandler {
	return &EngagementHandler{engagements: engagements, exporter: exporter}
}

// Load godoc
// @Summary Students, parents and request students of a teacher
// @Tags Engagements
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /teachers/{id}/engagements [get]
func (h *EngagementHandler) Load(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.engagements.Load(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "students", len(view.Students))
	middleware.SetMeta(c, "request_students", len(view.RequestStudents))
	response.JSON(c, http.StatusOK, view, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download the roster as CSV or PDF
// @Tags Engagements
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Teacher ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} binary
// @Router /teachers/{id}/engagements/export [get]
func (h *EngagementHandler) Export(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.exporter.Export(c.Request.Context(), viewer, c.Param("id"), service.ExportFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, out.ContentType, out.Body)
}
