package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type requestRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Request, error)
	Create(ctx context.Context, req *models.Request) error
	UpdateText(ctx context.Context, id int64, text string) (*models.Request, error)
	MarkFulfilled(ctx context.Context, id int64) (*models.Request, error)
	Delete(ctx context.Context, id int64) error
}

// CreateRequestRequest is the payload for posting a request.
type CreateRequestRequest struct {
	Text string  `json:"text" validate:"required,max=2000"`
	City *string `json:"city" validate:"omitempty,max=120"`
}

// UpdateRequestRequest edits the request text.
type UpdateRequestRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// RequestService manages the request lifecycle: created, edited while open, fulfilled once or deleted.
// Every write surfaces on the change feed.
type RequestService struct {
	repo      requestRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService builds the service.
func NewRequestService(repo requestRepository, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{repo: repo, validator: validate, logger: logger}
}

// Create posts a new open request on behalf of a student or parent.
func (s *RequestService) Create(ctx context.Context, viewer models.Viewer, req CreateRequestRequest) (*models.Request, error) {
	if viewer.Role != models.RoleStudent && viewer.Role != models.RoleParent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students and parents can post requests")
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	item := &models.Request{
		RequesterID: viewer.ID,
		Text:        req.Text,
		City:        req.City,
		Status:      models.RequestStatusOpen,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, appErrors.Transport(err, "failed to create request")
	}
	s.logger.Info("request created", zap.Int64("request_id", item.ID), zap.String("requester_id", viewer.ID))
	return item, nil
}

// UpdateText edits an open request owned by the viewer.
func (s *RequestService) UpdateText(ctx context.Context, viewer models.Viewer, id int64, req UpdateRequestRequest) (*models.Request, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	current, err := s.owned(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if current.Fulfilled() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fulfilled requests cannot be edited")
	}

	updated, err := s.repo.UpdateText(ctx, id, req.Text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "fulfilled requests cannot be edited")
		}
		return nil, appErrors.Transport(err, "failed to update request")
	}
	return updated, nil
}

// Fulfill closes an open request. A request is fulfilled exactly once.
func (s *RequestService) Fulfill(ctx context.Context, viewer models.Viewer, id int64) (*models.Request, error) {
	current, err := s.owned(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if current.Fulfilled() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request already fulfilled")
	}

	updated, err := s.repo.MarkFulfilled(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request already fulfilled")
		}
		return nil, appErrors.Transport(err, "failed to fulfill request")
	}
	s.logger.Info("request fulfilled", zap.Int64("request_id", id))
	return updated, nil
}

// Delete removes a request owned by the viewer.
func (s *RequestService) Delete(ctx context.Context, viewer models.Viewer, id int64) error {
	if _, err := s.owned(ctx, viewer, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Transport(err, "failed to delete request")
	}
	return nil
}

func (s *RequestService) owned(ctx context.Context, viewer models.Viewer, id int64) (*models.Request, error) {
	if id <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Transport(err, "failed to load request")
	}
	if current.RequesterID != viewer.ID && !viewer.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request belongs to another user")
	}
	return current, nil
}
