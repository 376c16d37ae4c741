package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nearcast/internal/core/domain"
	"nearcast/pkg/geo"
)

const geoKey = "geo:identities"

// RedisLocationStore keeps latest positions in a Redis GEO set plus one
// metadata hash per identity. It trades durability for a dependency-light
// deployment; the Postgres store is the durable option.
type RedisLocationStore struct {
	rdb       *redis.Client
	epsilonKm float64
}

func NewRedisLocationStore(rdb *redis.Client, epsilonKm float64) *RedisLocationStore {
	return &RedisLocationStore{rdb: rdb, epsilonKm: epsilonKm}
}

func metaKey(identity string) string {
	return "loc:" + identity
}

func (s *RedisLocationStore) Save(ctx context.Context, identity string, lat, lng float64) error {
	pipe := s.rdb.TxPipeline()
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      identity,
		Latitude:  lat,
		Longitude: lng,
	})
	// The hash keeps full-precision coordinates; GEO storage quantizes them.
	pipe.HSet(ctx, metaKey(identity), map[string]any{
		"latitude":    strconv.FormatFloat(lat, 'f', -1, 64),
		"longitude":   strconv.FormatFloat(lng, 'f', -1, 64),
		"observed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisLocationStore) GetLatest(ctx context.Context, identity string) (*domain.LocationReading, error) {
	fields, err := s.rdb.HGetAll(ctx, metaKey(identity)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrNoLocation
	}
	lat, err := strconv.ParseFloat(fields["latitude"], 64)
	if err != nil {
		return nil, err
	}
	lng, err := strconv.ParseFloat(fields["longitude"], 64)
	if err != nil {
		return nil, err
	}
	reading := &domain.LocationReading{Latitude: lat, Longitude: lng}
	if observed, err := time.Parse(time.RFC3339Nano, fields["observed_at"]); err == nil {
		reading.ObservedAt = observed
	}
	return reading, nil
}

func (s *RedisLocationStore) GetLatestPair(ctx context.Context, a, b string) (*domain.LocationReading, *domain.LocationReading, error) {
	readingA, err := s.GetLatest(ctx, a)
	if err != nil && err != domain.ErrNoLocation {
		return nil, nil, err
	}
	readingB, err := s.GetLatest(ctx, b)
	if err != nil && err != domain.ErrNoLocation {
		return nil, nil, err
	}
	return readingA, readingB, nil
}

func (s *RedisLocationStore) FindNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error) {
	found, err := s.rdb.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  q.Longitude,
			Latitude:   q.Latitude,
			Radius:     q.RadiusKm + s.epsilonKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	users := make([]domain.NearbyUser, 0, len(found))
	for _, loc := range found {
		if loc.Name == q.Exclude {
			continue
		}
		u := domain.NearbyUser{
			Identity:   loc.Name,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			DistanceKm: geo.RoundKm(loc.Dist),
		}
		// Category and display name live in the metadata hash when set.
		fields, err := s.rdb.HMGet(ctx, metaKey(loc.Name), "category", "name").Result()
		if err == nil && len(fields) == 2 {
			if v, ok := fields[0].(string); ok {
				u.Category = v
			}
			if v, ok := fields[1].(string); ok {
				u.Name = v
			}
		}
		if q.Category != "" && u.Category != q.Category {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
