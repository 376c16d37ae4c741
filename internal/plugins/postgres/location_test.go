package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearcast/internal/core/domain"
)

func newRepo(t *testing.T) (*LocationRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLocationRepository(db, 0.01), mock
}

func TestSaveUpserts(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("INSERT INTO locations").
		WithArgs("alice", 12.5, 77.6).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), "alice", 12.5, 77.6))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatest(t *testing.T) {
	repo, mock := newRepo(t)
	observed := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT latitude, longitude, updated_at FROM locations").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"latitude", "longitude", "updated_at"}).
				AddRow(12.5, 77.6, observed))

		reading, err := repo.GetLatest(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 12.5, reading.Latitude)
		assert.Equal(t, 77.6, reading.Longitude)
		assert.Equal(t, observed, reading.ObservedAt)
	})

	t.Run("absent", func(t *testing.T) {
		mock.ExpectQuery("SELECT latitude, longitude, updated_at FROM locations").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"latitude", "longitude", "updated_at"}))

		_, err := repo.GetLatest(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrNoLocation)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestPairAbsorbsMissing(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("SELECT latitude, longitude, updated_at FROM locations").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"latitude", "longitude", "updated_at"}).
			AddRow(1.0, 2.0, time.Now()))
	mock.ExpectQuery("SELECT latitude, longitude, updated_at FROM locations").
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"latitude", "longitude", "updated_at"}))

	a, b, err := repo.GetLatestPair(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNearby(t *testing.T) {
	repo, mock := newRepo(t)

	rows := sqlmock.NewRows([]string{"identity", "latitude", "longitude", "name", "category", "distance_km"}).
		AddRow("bob", 0.0, 0.001, "Bob", "driver", 0.111356).
		AddRow("carol", 0.0, 0.002, nil, nil, 0.222712)

	// The radius argument carries the boundary epsilon.
	mock.ExpectQuery("SELECT identity, latitude, longitude, name, category, distance_km FROM \\(SELECT").
		WithArgs(0.0, 0.0, 0.0, "alice", 5.01).
		WillReturnRows(rows)

	users, err := repo.FindNearby(context.Background(), domain.NearbyQuery{
		RadiusKm: 5,
		Exclude:  "alice",
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Identity)
	assert.Equal(t, "Bob", users[0].Name)
	assert.Equal(t, 0.11, users[0].DistanceKm)
	assert.Empty(t, users[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNearbyCategoryFilter(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery("FROM \\(SELECT").
		WithArgs(1.0, 2.0, 1.0, "driver", 2.01).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "latitude", "longitude", "name", "category", "distance_km"}))

	users, err := repo.FindNearby(context.Background(), domain.NearbyQuery{
		Latitude: 1, Longitude: 2, RadiusKm: 2, Category: "driver",
	})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}
