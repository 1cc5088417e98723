package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/civictrack/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestApplicationRepositoryFindByID(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewApplicationRepository(gdb)

	submitted := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_type", "status", "priority", "email", "submitted_at"}).
			AddRow("LB-2024-000001", "passport", "under_review", "normal", "anna@example.org", submitted))

	app, err := repo.FindByID(context.Background(), "LB-2024-000001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, app.Status)
	assert.Equal(t, models.TypePassport, app.ApplicationType)
	assert.Equal(t, submitted, app.SubmittedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryFindByIDNotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewApplicationRepository(gdb)

	mock.ExpectQuery(`SELECT \* FROM "applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), "LB-2024-999999")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryUpdateStatusConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewApplicationRepository(gdb)

	mock.ExpectExec(`UPDATE "applications" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	app := &models.Application{ID: "LB-2024-000001", Status: models.StatusVerification, UpdatedAt: time.Now()}
	err := repo.UpdateStatus(context.Background(), app, models.StatusUnderReview)
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryList(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewApplicationRepository(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "applications" WHERE status = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE status = \$1 ORDER BY is_urgent desc,submitted_at desc`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow("LB-2024-000002", "received").
			AddRow("LB-2024-000001", "received"))

	apps, total, err := repo.List(context.Background(), ApplicationFilter{Status: models.StatusReceived})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, apps, 2)
	assert.Equal(t, "LB-2024-000002", apps[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListSearchIsLiteral(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewApplicationRepository(gdb)

	like := `%50\%\_off%`
	mock.ExpectQuery(`SELECT count\(\*\) FROM "applications" WHERE .*LOWER\(id\) LIKE \$1 ESCAPE`).
		WithArgs(like, like, like, like).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE .*LIKE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	apps, total, err := repo.List(context.Background(), ApplicationFilter{Search: " 50%_OFF "})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, apps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePattern(t *testing.T) {
	cases := map[string]string{
		"Anna":       "%anna%",
		"100%":       `%100\%%`,
		"a_b":        `%a\_b%`,
		`back\slash`: `%back\\slash%`,
	}
	for in, want := range cases {
		assert.Equal(t, want, likePattern(in), in)
	}
}

func TestAverageDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := start.Add(72 * time.Hour)
	b := start.Add(30 * time.Hour)
	got := averageDays([]models.Application{
		{SubmittedAt: start, ActualCompletion: &a},
		{SubmittedAt: start, ActualCompletion: &b},
		{SubmittedAt: start},
	})
	assert.InDelta(t, 2.0, got, 0.001)
}
