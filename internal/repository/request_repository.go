package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

const requestColumns = `id, requester_id, text, city, created_at, status`

// RequestRepository persists tutoring requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// ListRecent returns the newest requests regardless of status.
func (r *RequestRepository) ListRecent(ctx context.Context, limit int) ([]models.Request, error) {
	const query = `SELECT ` + requestColumns + ` FROM requests ORDER BY created_at DESC, id DESC LIMIT $1`
	var items []models.Request
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list recent requests: %w", err)
	}
	return items, nil
}

// FindByID returns a request or sql.ErrNoRows.
func (r *RequestRepository) FindByID(ctx context.Context, id int64) (*models.Request, error) {
	const query = `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	var item models.Request
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// FindTextsByIDs maps request ids to their text in one query.
func (r *RequestRepository) FindTextsByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	result := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT id, text FROM requests WHERE id = ANY($1)`
	var rows []struct {
		ID   int64  `db:"id"`
		Text string `db:"text"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find request texts: %w", err)
	}
	for _, row := range rows {
		result[row.ID] = row.Text
	}
	return result, nil
}

// Create inserts an open request and fills generated columns.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	const query = `INSERT INTO requests (requester_id, text, city, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	if req.Status == "" {
		req.Status = models.RequestStatusOpen
	}
	row := r.db.QueryRowxContext(ctx, query, req.RequesterID, req.Text, req.City, req.Status)
	if err := row.Scan(&req.ID, &req.CreatedAt); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// UpdateText edits the text of an open request. Returns sql.ErrNoRows when nothing matched.
func (r *RequestRepository) UpdateText(ctx context.Context, id int64, text string) (*models.Request, error) {
	const query = `UPDATE requests SET text = $2 WHERE id = $1 AND status = 'open' RETURNING ` + requestColumns
	var item models.Request
	if err := r.db.GetContext(ctx, &item, query, id, text); err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkFulfilled transitions an open request to fulfilled. Returns sql.ErrNoRows when it was not open.
func (r *RequestRepository) MarkFulfilled(ctx context.Context, id int64) (*models.Request, error) {
	const query = `UPDATE requests SET status = 'fulfilled' WHERE id = $1 AND status = 'open' RETURNING ` + requestColumns
	var item models.Request
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete removes a request and its applications.
func (r *RequestRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return nil
}
