package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-match-api/internal/middleware"
	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/internal/service"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
	"github.com/noah-isme/tutor-match-api/pkg/response"
)

type requestBoard interface {
	Snapshot(ctx context.Context, viewer models.Viewer) ([]models.Request, error)
}

type requestService interface {
	Create(ctx context.Context, viewer models.Viewer, req service.CreateRequestRequest) (*models.Request, error)
	UpdateText(ctx context.Context, viewer models.Viewer, id int64, req service.UpdateRequestRequest) (*models.Request, error)
	Fulfill(ctx context.Context, viewer models.Viewer, id int64) (*models.Request, error)
	Delete(ctx context.Context, viewer models.Viewer, id int64) error
}

// RequestHandler exposes the request board and request management.
type RequestHandler struct {
	board    requestBoard
	requests requestService
}

// NewRequestHandler builds the handler.
func NewRequestHandler(board requestBoard, requests requestService) *RequestHandler {
	return &RequestHandler{board: board, requests: requests}
}

// List godoc
// @Summary Open tutoring requests, newest first
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.board.Snapshot(c.Request.Context(), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "count", len(items))
	response.JSON(c, http.StatusOK, items, middleware.ExtractMeta(c))
}

// Create godoc
// @Summary Post a tutoring request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	created, err := h.requests.Create(c.Request.Context(), viewer, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Update godoc
// @Summary Edit the text of an open request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body service.UpdateRequestRequest true "Request payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [patch]
func (h *RequestHandler) Update(c *gin.Context) {
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
	var req service.UpdateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	updated, err := h.requests.UpdateText(c.Request.Context(), viewer, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// Fulfill godoc
// @Summary Mark a request fulfilled
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/fulfill [post]
func (h *RequestHandler) Fulfill(c *gin.Context) {
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
	fulfilled, err := h.requests.Fulfill(c.Request.Context(), viewer, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fulfilled)
}

// Delete godoc
// @Summary Delete a request
// @Tags Requests
// @Param id path int true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
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
	if err := h.requests.Delete(c.Request.Context(), viewer, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
