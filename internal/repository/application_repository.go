package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

// ApplicationRepository persists teacher applications to requests.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// FindByID returns an application or sql.ErrNoRows.
func (r *ApplicationRepository) FindByID(ctx context.Context, id int64) (*models.Application, error) {
	const query = `SELECT id, request_id, teacher_id, monthly_rate, status, date_applied
		FROM request_applications
		WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// FindByPair returns the latest application of teacherID to requestID or sql.ErrNoRows.
func (r *ApplicationRepository) FindByPair(ctx context.Context, requestID int64, teacherID string) (*models.Application, error) {
	const query = `SELECT id, request_id, teacher_id, monthly_rate, status, date_applied
		FROM request_applications
		WHERE request_id = $1 AND teacher_id = $2
		ORDER BY date_applied DESC
		LIMIT 1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, requestID, teacherID); err != nil {
		return nil, err
	}
	return &app, nil
}

// Create inserts an application and fills its id.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	const query = `INSERT INTO request_applications (request_id, teacher_id, monthly_rate, status, date_applied)
		VALUES (:request_id, :teacher_id, :monthly_rate, :status, :date_applied)
		RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, app)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&app.ID); err != nil {
			return fmt.Errorf("scan application id: %w", err)
		}
	}
	return rows.Err()
}

// ListByRequest returns applications for a request, newest first.
func (r *ApplicationRepository) ListByRequest(ctx context.Context, requestID int64) ([]models.Application, error) {
	const query = `SELECT id, request_id, teacher_id, monthly_rate, status, date_applied
		FROM request_applications
		WHERE request_id = $1
		ORDER BY date_applied DESC, id DESC`
	var items []models.Application
	if err := r.db.SelectContext(ctx, &items, query, requestID); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return items, nil
}
