package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type applicationRepository interface {
	FindByPair(ctx context.Context, requestID int64, teacherID string) (*models.Application, error)
	Create(ctx context.Context, app *models.Application) error
	ListByRequest(ctx context.Context, requestID int64) ([]models.Application, error)
}

type requestFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Request, error)
}

// ApplyRequest captures an application payload.
type ApplyRequest struct {
	MonthlyRate *float64 `json:"monthly_rate" validate:"required,min=0"`
}

// ApplicationService implements the one-time application workflow.
type ApplicationService struct {
	applications applicationRepository
	requests     requestFinder
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewApplicationService builds the service.
func NewApplicationService(applications applicationRepository, requests requestFinder, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		applications: applications,
		requests:     requests,
		validator:    validate,
		logger:       logger,
		now:          time.Now,
	}
}

// HasApplied reports whether teacherID already applied to requestID.
func (s *ApplicationService) HasApplied(ctx context.Context, requestID int64, teacherID string) (bool, error) {
	if requestID <= 0 || teacherID == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "request id and teacher id are required")
	}
	if _, err := s.applications.FindByPair(ctx, requestID, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Transport(err, "failed to check application")
	}
	return true, nil
}

// Apply records a pending application from the viewer. Callers check HasApplied first;
// uniqueness is not re-checked here.
func (s *ApplicationService) Apply(ctx context.Context, viewer models.Viewer, requestID int64, req ApplyRequest) (*models.Application, error) {
	if viewer.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can apply to requests")
	}
	if requestID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	if req.MonthlyRate != nil && (math.IsNaN(*req.MonthlyRate) || math.IsInf(*req.MonthlyRate, 0)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "monthly rate must be a finite number")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Transport(err, "failed to load request")
	}
	if request.Fulfilled() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "request already fulfilled")
	}

	app := &models.Application{
		RequestID:   requestID,
		TeacherID:   viewer.ID,
		MonthlyRate: *req.MonthlyRate,
		Status:      models.ApplicationStatusPending,
		DateApplied: s.now().UTC(),
	}
	if err := s.applications.Create(ctx, app); err != nil {
		return nil, appErrors.Transport(err, "failed to create application")
	}
	s.logger.Info("application submitted",
		zap.Int64("request_id", requestID),
		zap.String("teacher_id", viewer.ID))
	return app, nil
}

// ListByRequest returns applications to a request. Only its owner or an admin may list them.
func (s *ApplicationService) ListByRequest(ctx context.Context, viewer models.Viewer, requestID int64) ([]models.Application, error) {
	if requestID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Transport(err, "failed to load request")
	}
	if request.RequesterID != viewer.ID && !viewer.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requester can view applications")
	}
	apps, err := s.applications.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Transport(err, "failed to list applications")
	}
	if apps == nil {
		apps = []models.Application{}
	}
	return apps, nil
}
