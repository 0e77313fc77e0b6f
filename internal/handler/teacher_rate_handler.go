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

type teacherRateService interface {
	List(ctx context.Context, teacherID string) ([]models.TeacherRate, error)
	Upsert(ctx context.Context, viewer models.Viewer, teacherID string, req service.UpsertTeacherRateRequest) (*models.TeacherRate, error)
}

// TeacherRateHandler exposes advertised teacher rates.
type TeacherRateHandler struct {
	service teacherRateService
}

// NewTeacherRateHandler builds the handler.
func NewTeacherRateHandler(service teacherRateService) *TeacherRateHandler {
	return &TeacherRateHandler{service: service}
}

// List godoc
// @Summary Monthly rates advertised by a teacher
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/rates [get]
func (h *TeacherRateHandler) List(c *gin.Context) {
	rates, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rates)
}

// Upsert godoc
// @Summary Set the monthly rate for a subject and level
// @Tags Teachers
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body service.UpsertTeacherRateRequest true "Rate payload"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/rates [put]
func (h *TeacherRateHandler) Upsert(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpsertTeacherRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rate payload"))
		return
	}
	rate, err := h.service.Upsert(c.Request.Context(), viewer, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rate)
}
