package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/internal/service"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
	"github.com/noah-isme/tutor-match-api/pkg/response"
)

type applicationService interface {
	HasApplied(ctx context.Context, requestID int64, teacherID string) (bool, error)
	Apply(ctx context.Context, viewer models.Viewer, requestID int64, req service.ApplyRequest) (*models.Application, error)
	ListByRequest(ctx context.Context, viewer models.Viewer, requestID int64) ([]models.Application, error)
}

// ApplicationHandler exposes the teacher application workflow.
type ApplicationHandler struct {
	service applicationService
}

// NewApplicationHandler builds the handler.
func NewApplicationHandler(service applicationService) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// List godoc
// @Summary Applications for a request
// @Tags Applications
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := requestIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.service.ListByRequest(c.Request.Context(), viewer, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// Mine godoc
// @Summary Whether the calling teacher already applied
// @Tags Applications
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/applications/me [get]
func (h *ApplicationHandler) Mine(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := requestIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	applied, err := h.service.HasApplied(c.Request.Context(), id, viewer.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"request_id": id, "applied": applied})
}

// Apply godoc
// @Summary Apply to a request
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body service.ApplyRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/applications [post]
func (h *ApplicationHandler) Apply(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := requestIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}
	app, err := h.service.Apply(c.Request.Context(), viewer, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}
