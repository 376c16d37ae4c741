package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"nearcast/internal/core/domain"
	"nearcast/pkg/geo"
)

type fakeClient struct {
	id   string
	mu   sync.Mutex
	sent [][]byte
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id}
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// eventsOfType decodes every captured frame whose discriminator matches.
func eventsOfType[T any](f *fakeClient, typ string) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, raw := range f.sent {
		var env domain.Envelope
		if json.Unmarshal(raw, &env) != nil || env.Type != typ {
			continue
		}
		var event T
		if json.Unmarshal(raw, &event) == nil {
			out = append(out, event)
		}
	}
	return out
}

// fakeStore is an in-memory LocationStore with the same boundary semantics
// as the real ones: haversine distances and an inclusive radius epsilon.
type fakeStore struct {
	mu         sync.Mutex
	readings   map[string]domain.LocationReading
	categories map[string]string
	failWith   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		readings:   make(map[string]domain.LocationReading),
		categories: make(map[string]string),
	}
}

func (s *fakeStore) set(identity string, lat, lng float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[identity] = domain.LocationReading{Latitude: lat, Longitude: lng, ObservedAt: time.Now()}
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *fakeStore) Save(_ context.Context, identity string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.readings[identity] = domain.LocationReading{Latitude: lat, Longitude: lng, ObservedAt: time.Now()}
	return nil
}

func (s *fakeStore) GetLatest(_ context.Context, identity string) (*domain.LocationReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	r, ok := s.readings[identity]
	if !ok {
		return nil, domain.ErrNoLocation
	}
	return &r, nil
}

func (s *fakeStore) GetLatestPair(ctx context.Context, a, b string) (*domain.LocationReading, *domain.LocationReading, error) {
	ra, err := s.GetLatest(ctx, a)
	if err != nil && !errors.Is(err, domain.ErrNoLocation) {
		return nil, nil, err
	}
	rb, err := s.GetLatest(ctx, b)
	if err != nil && !errors.Is(err, domain.ErrNoLocation) {
		return nil, nil, err
	}
	return ra, rb, nil
}

func (s *fakeStore) FindNearby(_ context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var users []domain.NearbyUser
	for identity, r := range s.readings {
		if identity == q.Exclude {
			continue
		}
		if q.Category != "" && s.categories[identity] != q.Category {
			continue
		}
		d := geo.HaversineKm(q.Latitude, q.Longitude, r.Latitude, r.Longitude)
		if d > q.RadiusKm+0.01 {
			continue
		}
		users = append(users, domain.NearbyUser{
			Identity:   identity,
			Category:   s.categories[identity],
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			DistanceKm: geo.RoundKm(d),
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DistanceKm < users[j].DistanceKm })
	return users, nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}
