package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

// RosterRepository reads the user and child rosters.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// FindUser returns a user or sql.ErrNoRows.
func (r *RosterRepository) FindUser(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, full_name, email, phone, image_ref, role, created_at FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUsersByIDs batch-loads users keyed by id.
func (r *RosterRepository) FindUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT id, full_name, email, phone, image_ref, role, created_at FROM users WHERE id = ANY($1)`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// FindChild returns a child or sql.ErrNoRows.
func (r *RosterRepository) FindChild(ctx context.Context, id string) (*models.Child, error) {
	const query = `SELECT id, parent_id, full_name, email, phone, image_ref, created_at FROM children WHERE id = $1`
	var child models.Child
	if err := r.db.GetContext(ctx, &child, query, id); err != nil {
		return nil, err
	}
	return &child, nil
}

// FindChildrenByIDs batch-loads children keyed by id.
func (r *RosterRepository) FindChildrenByIDs(ctx context.Context, ids []string) (map[string]models.Child, error) {
	result := make(map[string]models.Child, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT id, parent_id, full_name, email, phone, image_ref, created_at FROM children WHERE id = ANY($1)`
	var children []models.Child
	if err := r.db.SelectContext(ctx, &children, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find children: %w", err)
	}
	for _, c := range children {
		result[c.ID] = c
	}
	return result, nil
}
