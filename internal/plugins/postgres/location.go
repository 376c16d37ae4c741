package postgres

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"nearcast/internal/core/domain"
	"nearcast/pkg/geo"
)

// LocationRepo is the Postgres-backed location store.
//
// Expected schema:
//
//	locations(identity text primary key, latitude double precision,
//	          longitude double precision, updated_at timestamptz)
//	profiles(identity text primary key, name text, category text)
type LocationRepo struct {
	db        *sql.DB
	epsilonKm float64
}

func NewLocationRepository(db *sql.DB, epsilonKm float64) *LocationRepo {
	return &LocationRepo{db: db, epsilonKm: epsilonKm}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (r *LocationRepo) Save(ctx context.Context, identity string, lat, lng float64) error {
	query, args, err := psql.
		Insert("locations").
		Columns("identity", "latitude", "longitude", "updated_at").
		Values(identity, lat, lng, sq.Expr("now()")).
		Suffix("ON CONFLICT (identity) DO UPDATE SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()").
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *LocationRepo) GetLatest(ctx context.Context, identity string) (*domain.LocationReading, error) {
	query, args, err := psql.
		Select("latitude", "longitude", "updated_at").
		From("locations").
		Where(sq.Eq{"identity": identity}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var reading domain.LocationReading
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&reading.Latitude, &reading.Longitude, &reading.ObservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoLocation
		}
		return nil, err
	}
	return &reading, nil
}

func (r *LocationRepo) GetLatestPair(ctx context.Context, a, b string) (*domain.LocationReading, *domain.LocationReading, error) {
	readingA, err := r.GetLatest(ctx, a)
	if err != nil && !errors.Is(err, domain.ErrNoLocation) {
		return nil, nil, err
	}
	readingB, err := r.GetLatest(ctx, b)
	if err != nil && !errors.Is(err, domain.ErrNoLocation) {
		return nil, nil, err
	}
	return readingA, readingB, nil
}

// FindNearby computes great-circle distances in SQL and keeps rows within
// the radius plus a small epsilon, so a user sitting exactly on the boundary
// is never lost to floating-point noise.
func (r *LocationRepo) FindNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error) {
	// least() clamps the cosine argument: rounding can push it just past 1
	// for near-identical points, and acos would return NaN.
	distance := sq.Alias(sq.Expr(
		"(6371 * acos(least(1.0, "+
			"cos(radians(?)) * cos(radians(l.latitude)) * cos(radians(l.longitude) - radians(?)) + "+
			"sin(radians(?)) * sin(radians(l.latitude)))))",
		q.Latitude, q.Longitude, q.Latitude,
	), "distance_km")

	inner := psql.
		Select("l.identity", "l.latitude", "l.longitude", "p.name", "p.category").
		Column(distance).
		From("locations l").
		LeftJoin("profiles p ON p.identity = l.identity")
	if q.Exclude != "" {
		inner = inner.Where(sq.NotEq{"l.identity": q.Exclude})
	}
	if q.Category != "" {
		inner = inner.Where(sq.Eq{"p.category": q.Category})
	}

	query, args, err := psql.
		Select("identity", "latitude", "longitude", "name", "category", "distance_km").
		FromSelect(inner, "nearby").
		Where(sq.LtOrEq{"distance_km": q.RadiusKm + r.epsilonKm}).
		OrderBy("distance_km ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.NearbyUser, 0)
	for rows.Next() {
		var u domain.NearbyUser
		var name, category sql.NullString
		if err := rows.Scan(&u.Identity, &u.Latitude, &u.Longitude, &name, &category, &u.DistanceKm); err != nil {
			return nil, err
		}
		u.Name = name.String
		u.Category = category.String
		u.DistanceKm = geo.RoundKm(u.DistanceKm)
		users = append(users, u)
	}
	return users, rows.Err()
}
