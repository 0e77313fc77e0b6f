package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-match-api/internal/models"
)

var applicationCols = []string{"id", "request_id", "teacher_id", "monthly_rate", "status", "date_applied"}

func TestApplicationRepositoryFindByPair(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = $1 AND teacher_id = $2")).
		WithArgs(int64(1), "teacher-a").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE request_id = $1 AND teacher_id = $2")).
		WithArgs(int64(1), "teacher-a").
		WillReturnRows(sqlmock.NewRows(applicationCols).AddRow(5, 1, "teacher-a", "150.00", "pending", time.Now()))

	_, err := repo.FindByPair(context.Background(), 1, "teacher-a")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	app, err := repo.FindByPair(context.Background(), 1, "teacher-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), app.ID)
	assert.Equal(t, 150.0, app.MonthlyRate)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(applicationCols).AddRow(5, 1, "teacher-a", "150.00", "pending", time.Now()))

	app, err := repo.FindByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), app.RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	applied := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO request_applications").
		WithArgs(int64(1), "teacher-a", 150.0, models.ApplicationStatusPending, applied).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	app := &models.Application{RequestID: 1, TeacherID: "teacher-a", MonthlyRate: 150, Status: models.ApplicationStatusPending, DateApplied: applied}
	require.NoError(t, repo.Create(context.Background(), app))
	assert.Equal(t, int64(11), app.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListByRequestPropagatesError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery("FROM request_applications").
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.ListByRequest(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list applications")
}
