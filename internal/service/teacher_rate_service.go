package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/models"
	appErrors "github.com/noah-isme/tutor-match-api/pkg/errors"
)

type teacherRateRepo interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.TeacherRate, error)
	Upsert(ctx context.Context, rate *models.TeacherRate) error
}

type userFinder interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
}

// UpsertTeacherRateRequest captures the payload to advertise a monthly rate.
type UpsertTeacherRateRequest struct {
	Subject     string   `json:"subject" validate:"required,max=120"`
	Level       string   `json:"level" validate:"required,max=60"`
	MonthlyRate *float64 `json:"monthly_rate" validate:"required,min=0"`
}

// TeacherRateService manages advertised teacher rates.
type TeacherRateService struct {
	users     userFinder
	repo      teacherRateRepo
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherRateService builds the service.
func NewTeacherRateService(users userFinder, repo teacherRateRepo, validate *validator.Validate, logger *zap.Logger) *TeacherRateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherRateService{users: users, repo: repo, validator: validate, logger: logger}
}

// List returns the rates a teacher advertises. Any authenticated viewer may read them.
func (s *TeacherRateService) List(ctx context.Context, teacherID string) ([]models.TeacherRate, error) {
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return nil, err
	}
	rates, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Transport(err, "failed to load teacher rates")
	}
	if rates == nil {
		rates = []models.TeacherRate{}
	}
	return rates, nil
}

// Upsert stores the rate for (subject, level). Only the teacher or an admin may write.
func (s *TeacherRateService) Upsert(ctx context.Context, viewer models.Viewer, teacherID string, req UpsertTeacherRateRequest) (*models.TeacherRate, error) {
	if viewer.ID != teacherID && !viewer.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "rates belong to another teacher")
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Level = strings.TrimSpace(req.Level)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rate payload")
	}
	if math.IsNaN(*req.MonthlyRate) || math.IsInf(*req.MonthlyRate, 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "monthly rate must be a finite number")
	}
	if err := s.ensureTeacher(ctx, teacherID); err != nil {
		return nil, err
	}

	rate := &models.TeacherRate{
		TeacherID:   teacherID,
		Subject:     req.Subject,
		Level:       req.Level,
		MonthlyRate: *req.MonthlyRate,
	}
	if err := s.repo.Upsert(ctx, rate); err != nil {
		return nil, appErrors.Transport(err, "failed to store teacher rate")
	}
	s.logger.Info("teacher rate stored",
		zap.String("teacher_id", teacherID),
		zap.String("subject", rate.Subject),
		zap.String("level", rate.Level))
	return rate, nil
}

func (s *TeacherRateService) ensureTeacher(ctx context.Context, teacherID string) error {
	user, err := s.users.FindUser(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Transport(err, "failed to load teacher")
	}
	if user.Role != models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
	}
	return nil
}
