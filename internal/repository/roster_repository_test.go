package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterRepositoryBatchLookups(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = ANY($1)")).
		WithArgs(pq.Array([]string{"p1", "p2"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "phone", "image_ref", "role", "created_at"}).
			AddRow("p1", "Kwame", "kwame@example.com", nil, nil, "PARENT", now).
			AddRow("p2", "Efua", nil, "+233200000000", "avatars/efua.png", "PARENT", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM children WHERE id = ANY($1)")).
		WithArgs(pq.Array([]string{"c1"})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent_id", "full_name", "email", "phone", "image_ref", "created_at"}).
			AddRow("c1", "p1", "Kofi", nil, nil, nil, now))

	users, err := repo.FindUsersByIDs(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.NotNil(t, users["p2"].ImageRef)
	assert.Equal(t, "avatars/efua.png", *users["p2"].ImageRef)

	children, err := repo.FindChildrenByIDs(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, "p1", children["c1"].ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryEmptyBatchSkipsQuery(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	users, err := repo.FindUsersByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
	children, err := repo.FindChildrenByIDs(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.NoError(t, mock.ExpectationsWereMet())
}
