package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

// EngagementRepository reads and appends engagement rows across the three source tables.
// Rows are never updated; expiry is derived from expiry_date at read time.
type EngagementRepository struct {
	db *sqlx.DB
}

// NewEngagementRepository constructs the repository.
func NewEngagementRepository(db *sqlx.DB) *EngagementRepository {
	return &EngagementRepository{db: db}
}

// ListDirectByTeacher returns direct registrations with the student roster entry embedded.
func (r *EngagementRepository) ListDirectByTeacher(ctx context.Context, teacherID string) ([]models.DirectEngagementRow, error) {
	const query = `SELECT ts.id, ts.teacher_id, ts.student_id, ts.subject, ts.level, ts.date_added, ts.expiry_date,
		u.full_name AS student_name, u.email AS student_email, u.phone AS student_phone, u.image_ref AS student_image
		FROM teacher_students ts
		LEFT JOIN users u ON u.id = ts.student_id
		WHERE ts.teacher_id = $1
		ORDER BY ts.date_added DESC, ts.id DESC`
	var rows []models.DirectEngagementRow
	if err := r.db.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, fmt.Errorf("list direct engagements: %w", err)
	}
	return rows, nil
}

// ListParentLinksByTeacher returns parent-linked registrations.
func (r *EngagementRepository) ListParentLinksByTeacher(ctx context.Context, teacherID string) ([]models.ParentChildTeacher, error) {
	const query = `SELECT id, teacher_id, parent_id, child_id, date_added, expiry_date
		FROM parent_child_teachers
		WHERE teacher_id = $1
		ORDER BY date_added DESC, id DESC`
	var rows []models.ParentChildTeacher
	if err := r.db.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, fmt.Errorf("list parent-linked engagements: %w", err)
	}
	return rows, nil
}

// ListAcceptedRequestsByTeacher returns accepted request engagements only.
func (r *EngagementRepository) ListAcceptedRequestsByTeacher(ctx context.Context, teacherID string) ([]models.AcceptedRequestRow, error) {
	const query = `SELECT id, teacher_id, parent_id, child_id, request_id, date_added, expiry_date
		FROM parent_request_teacher_child
		WHERE teacher_id = $1 AND status = 'accepted'
		ORDER BY date_added DESC, id DESC`
	var rows []models.AcceptedRequestRow
	if err := r.db.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, fmt.Errorf("list accepted request engagements: %w", err)
	}
	return rows, nil
}

// FindLatestDirect returns the direct row with the furthest expiry for the tuple or sql.ErrNoRows.
func (r *EngagementRepository) FindLatestDirect(ctx context.Context, studentID, teacherID, subject, level string) (*models.TeacherStudent, error) {
	const query = `SELECT id, teacher_id, student_id, subject, level, date_added, expiry_date
		FROM teacher_students
		WHERE student_id = $1 AND teacher_id = $2 AND subject = $3 AND level = $4
		ORDER BY expiry_date DESC
		LIMIT 1`
	var row models.TeacherStudent
	if err := r.db.GetContext(ctx, &row, query, studentID, teacherID, subject, level); err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateDirect appends a direct registration.
func (r *EngagementRepository) CreateDirect(ctx context.Context, row *models.TeacherStudent) error {
	const query = `INSERT INTO teacher_students (teacher_id, student_id, subject, level, date_added, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, row.TeacherID, row.StudentID, row.Subject, row.Level, row.DateAdded, row.ExpiryDate).Scan(&row.ID); err != nil {
		return fmt.Errorf("create direct engagement: %w", err)
	}
	return nil
}

// FindLatestParentLink returns the parent-linked row with the furthest expiry for (child, teacher) or sql.ErrNoRows.
func (r *EngagementRepository) FindLatestParentLink(ctx context.Context, childID, teacherID string) (*models.ParentChildTeacher, error) {
	const query = `SELECT id, teacher_id, parent_id, child_id, date_added, expiry_date
		FROM parent_child_teachers
		WHERE child_id = $1 AND teacher_id = $2
		ORDER BY expiry_date DESC
		LIMIT 1`
	var row models.ParentChildTeacher
	if err := r.db.GetContext(ctx, &row, query, childID, teacherID); err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateParentLink appends a parent-linked registration.
func (r *EngagementRepository) CreateParentLink(ctx context.Context, row *models.ParentChildTeacher) error {
	const query = `INSERT INTO parent_child_teachers (teacher_id, parent_id, child_id, date_added, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, row.TeacherID, row.ParentID, row.ChildID, row.DateAdded, row.ExpiryDate).Scan(&row.ID); err != nil {
		return fmt.Errorf("create parent-linked engagement: %w", err)
	}
	return nil
}
