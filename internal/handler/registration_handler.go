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

type registrationService interface {
	CanRegister(ctx context.Context, viewer models.Viewer, req service.RegistrationRequest) (*models.RegistrationDecision, error)
	Register(ctx context.Context, viewer models.Viewer, req service.RegistrationRequest) (*models.TeacherStudent, error)
	RegisterChild(ctx context.Context, viewer models.Viewer, req service.ChildRegistrationRequest) (*models.ParentChildTeacher, error)
}

// RegistrationHandler exposes the registration gate.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler builds the handler.
func NewRegistrationHandler(service registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// Check godoc
// @Summary Whether a student may register with a teacher for a subject and level
// @Tags Registrations
// @Produce json
// @Param teacher_id query string true "Teacher ID"
// @Param subject query string true "Subject"
// @Param level query string true "Level"
// @Param student_id query string false "Student ID (admin only)"
// @Success 200 {object} response.Envelope
// @Router /registrations/check [get]
func (h *RegistrationHandler) Check(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RegistrationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration query"))
		return
	}
	decision, err := h.service.CanRegister(c.Request.Context(), viewer, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision)
}

// Register godoc
// @Summary Register a student with a teacher for one month
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.RegistrationRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	row, err := h.service.Register(c.Request.Context(), viewer, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// RegisterChild godoc
// @Summary Link one of the caller's children to a teacher for one month
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.ChildRegistrationRequest true "Child registration payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/children [post]
func (h *RegistrationHandler) RegisterChild(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.ChildRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	row, err := h.service.RegisterChild(c.Request.Context(), viewer, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}
