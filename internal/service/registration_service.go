package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type engagementStore interface {
	FindLatestDirect(ctx context.Context, studentID, teacherID, subject, level string) (*models.TeacherStudent, error)
	CreateDirect(ctx context.Context, row *models.TeacherStudent) error
	FindLatestParentLink(ctx context.Context, childID, teacherID string) (*models.ParentChildTeacher, error)
	CreateParentLink(ctx context.Context, row *models.ParentChildTeacher) error
}

type childFinder interface {
	FindChild(ctx context.Context, id string) (*models.Child, error)
}

type engagementCache interface {
	Invalidate(ctx context.Context, keys ...string)
}

// RegistrationRequest identifies a (student, teacher, subject, level) engagement.
type RegistrationRequest struct {
	StudentID string `json:"student_id" form:"student_id"`
	TeacherID string `json:"teacher_id" form:"teacher_id" validate:"required"`
	Subject   string `json:"subject" form:"subject" validate:"required,max=120"`
	Level     string `json:"level" form:"level" validate:"required,max=60"`
}

// ChildRegistrationRequest links a parent's child to a teacher.
type ChildRegistrationRequest struct {
	ChildID   string `json:"child_id" validate:"required"`
	TeacherID string `json:"teacher_id" validate:"required"`
}

// RegistrationService gates engagement creation so a tuple is never active twice.
// The check and the insert are separate statements; concurrent registrations of the
// same tuple can both pass.
type RegistrationService struct {
	store     engagementStore
	children  childFinder
	cache     engagementCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationService builds the service. cache may be nil.
func NewRegistrationService(store engagementStore, children childFinder, cache engagementCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		store:     store,
		children:  children,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// CanRegister reports whether the tuple may be registered today.
func (s *RegistrationService) CanRegister(ctx context.Context, viewer models.Viewer, req RegistrationRequest) (*models.RegistrationDecision, error) {
	req, err := s.prepare(viewer, req)
	if err != nil {
		return nil, err
	}
	return s.checkDirect(ctx, req)
}

// Register re-validates the tuple and appends a one-month engagement.
func (s *RegistrationService) Register(ctx context.Context, viewer models.Viewer, req RegistrationRequest) (*models.TeacherStudent, error) {
	req, err := s.prepare(viewer, req)
	if err != nil {
		return nil, err
	}
	decision, err := s.checkDirect(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.metrics.RecordRegistration(string(models.SourceDirect), "blocked")
		return nil, appErrors.EngagementActive(*decision.ActiveUntil)
	}

	today := s.today()
	row := &models.TeacherStudent{
		TeacherID:  req.TeacherID,
		StudentID:  req.StudentID,
		Subject:    req.Subject,
		Level:      req.Level,
		DateAdded:  today,
		ExpiryDate: ExpiryFor(today),
	}
	if err := s.store.CreateDirect(ctx, row); err != nil {
		return nil, appErrors.Transport(err, "failed to register engagement")
	}
	s.afterRegister(ctx, models.SourceDirect, req.TeacherID)
	s.logger.Info("engagement registered",
		zap.String("student_id", req.StudentID),
		zap.String("teacher_id", req.TeacherID),
		zap.Time("expiry_date", row.ExpiryDate))
	return row, nil
}

// RegisterChild links one of the viewer's children to a teacher for one month.
func (s *RegistrationService) RegisterChild(ctx context.Context, viewer models.Viewer, req ChildRegistrationRequest) (*models.ParentChildTeacher, error) {
	if viewer.Role != models.RoleParent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only parents can register children")
	}
	req.ChildID = strings.TrimSpace(req.ChildID)
	req.TeacherID = strings.TrimSpace(req.TeacherID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	child, err := s.children.FindChild(ctx, req.ChildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "child not found")
		}
		return nil, appErrors.Transport(err, "failed to load child")
	}
	if child.ParentID != viewer.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "child not found")
	}

	today := s.today()
	latest, err := s.store.FindLatestParentLink(ctx, req.ChildID, req.TeacherID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Transport(err, "failed to check registration")
	}
	if latest != nil && IsActive(latest.ExpiryDate, today) {
		s.metrics.RecordRegistration(string(models.SourceParentLinked), "blocked")
		return nil, appErrors.EngagementActive(latest.ExpiryDate)
	}

	row := &models.ParentChildTeacher{
		TeacherID:  req.TeacherID,
		ParentID:   viewer.ID,
		ChildID:    req.ChildID,
		DateAdded:  today,
		ExpiryDate: ExpiryFor(today),
	}
	if err := s.store.CreateParentLink(ctx, row); err != nil {
		return nil, appErrors.Transport(err, "failed to register child")
	}
	s.afterRegister(ctx, models.SourceParentLinked, req.TeacherID)
	return row, nil
}

func (s *RegistrationService) prepare(viewer models.Viewer, req RegistrationRequest) (RegistrationRequest, error) {
	switch viewer.Role {
	case models.RoleStudent:
		if req.StudentID != "" && req.StudentID != viewer.ID {
			return req, appErrors.Clone(appErrors.ErrForbidden, "students can only register themselves")
		}
		req.StudentID = viewer.ID
	case models.RoleAdmin:
	default:
		return req, appErrors.Clone(appErrors.ErrForbidden, "only students can register with a teacher")
	}

	req.StudentID = strings.TrimSpace(req.StudentID)
	req.TeacherID = strings.TrimSpace(req.TeacherID)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Level = strings.TrimSpace(req.Level)
	if req.StudentID == "" {
		return req, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return req, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	return req, nil
}

func (s *RegistrationService) checkDirect(ctx context.Context, req RegistrationRequest) (*models.RegistrationDecision, error) {
	latest, err := s.store.FindLatestDirect(ctx, req.StudentID, req.TeacherID, req.Subject, req.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.RegistrationDecision{Allowed: true}, nil
		}
		return nil, appErrors.Transport(err, "failed to check registration")
	}
	if IsActive(latest.ExpiryDate, s.today()) {
		until := latest.ExpiryDate
		return &models.RegistrationDecision{
			Allowed:     false,
			Reason:      appErrors.EngagementActive(until).Message,
			ActiveUntil: &until,
		}, nil
	}
	return &models.RegistrationDecision{Allowed: true}, nil
}

func (s *RegistrationService) afterRegister(ctx context.Context, source models.EngagementSource, teacherID string) {
	s.metrics.RecordRegistration(string(source), "created")
	if s.cache != nil {
		s.cache.Invalidate(ctx, engagementCacheKey(teacherID))
	}
}

func (s *RegistrationService) today() time.Time {
	return DateOf(s.now())
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpiryFor returns the expiry of an engagement added on dateAdded: one calendar month later.
func ExpiryFor(dateAdded time.Time) time.Time {
	return DateOf(dateAdded).AddDate(0, 1, 0)
}

// IsActive reports whether an engagement expiring on expiry is still active on today.
// The expiry date itself is the last active day.
func IsActive(expiry, today time.Time) bool {
	return !DateOf(today).After(DateOf(expiry))
}
