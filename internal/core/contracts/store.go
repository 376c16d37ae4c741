package contracts

import (
	"context"

	"nearcast/internal/core/domain"
)

// LocationStore is the durable latest-position storage and geospatial query
// boundary. Failures never propagate to a remote peer: callers log and drop
// the dependent push.
type LocationStore interface {
	// Save upserts the latest position for identity.
	Save(ctx context.Context, identity string, lat, lng float64) error
	// GetLatest returns the most recent reading, or domain.ErrNoLocation
	// when none has been stored yet.
	GetLatest(ctx context.Context, identity string) (*domain.LocationReading, error)
	// GetLatestPair fetches both members of a pair in one call. A missing
	// reading comes back nil rather than as an error.
	GetLatestPair(ctx context.Context, a, b string) (*domain.LocationReading, *domain.LocationReading, error)
	// FindNearby returns identities within q.RadiusKm of the query point,
	// ascending by distance, boundary-inclusive within a small epsilon.
	FindNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error)
}
