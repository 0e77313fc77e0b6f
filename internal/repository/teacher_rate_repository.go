package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

// TeacherRateRepository persists advertised teacher rates.
type TeacherRateRepository struct {
	db *sqlx.DB
}

// NewTeacherRateRepository constructs the repository.
func NewTeacherRateRepository(db *sqlx.DB) *TeacherRateRepository {
	return &TeacherRateRepository{db: db}
}

// ListByTeacher returns stored rates for a teacher.
func (r *TeacherRateRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.TeacherRate, error) {
	const query = `SELECT id, teacher_id, subject, level, monthly_rate, updated_at FROM teacher_rates WHERE teacher_id = $1 ORDER BY subject, level`
	var rates []models.TeacherRate
	if err := r.db.SelectContext(ctx, &rates, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher rates: %w", err)
	}
	return rates, nil
}

// Upsert creates or updates the rate for (teacher, subject, level).
func (r *TeacherRateRepository) Upsert(ctx context.Context, rate *models.TeacherRate) error {
	rate.UpdatedAt = time.Now().UTC()

	const query = `INSERT INTO teacher_rates (teacher_id, subject, level, monthly_rate, updated_at)
		VALUES (:teacher_id, :subject, :level, :monthly_rate, :updated_at)
		ON CONFLICT (teacher_id, subject, level) DO UPDATE
		SET monthly_rate = EXCLUDED.monthly_rate,
		    updated_at = EXCLUDED.updated_at
		RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, rate)
	if err != nil {
		return fmt.Errorf("upsert teacher rate: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&rate.ID); err != nil {
			return fmt.Errorf("scan teacher rate id: %w", err)
		}
	}
	return rows.Err()
}
