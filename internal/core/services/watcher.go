package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nearcast/internal/core/contracts"
	"nearcast/internal/core/domain"
)

var watcherTracer = otel.Tracer("watcher-service")

// WatcherService keeps the last nearby request of each identity and replays
// it whenever presence or location state changes anywhere. A single movement
// can change any watcher's result set, so refreshes always cover all of them.
type WatcherService struct {
	mu       sync.RWMutex
	log      *slog.Logger
	registry contracts.Registry
	store    contracts.LocationStore
	watchers map[string]domain.WatcherConfig
}

func NewWatcherService(
	log *slog.Logger,
	registry contracts.Registry,
	store contracts.LocationStore,
) *WatcherService {
	return &WatcherService{
		log:      log,
		registry: registry,
		store:    store,
		watchers: make(map[string]domain.WatcherConfig),
	}
}

// Set installs or overwrites the standing config for identity. Last write
// wins.
func (s *WatcherService) Set(identity string, cfg domain.WatcherConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[identity] = cfg
}

// Clear drops the standing config for identity, if any.
func (s *WatcherService) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, identity)
}

// Query runs one nearest-neighbor lookup for cfg and filters the result down
// to identities that are currently online. Offline identities never appear
// in a nearby list even when their stored position qualifies.
func (s *WatcherService) Query(ctx context.Context, identity string, cfg domain.WatcherConfig) ([]domain.NearbyUser, error) {
	found, err := s.store.FindNearby(ctx, domain.NearbyQuery{
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		RadiusKm:  cfg.RadiusKm,
		Category:  cfg.Category,
		Exclude:   identity,
	})
	if err != nil {
		return nil, err
	}
	users := make([]domain.NearbyUser, 0, len(found))
	for _, u := range found {
		if s.registry.IsOnline(u.Identity) {
			users = append(users, u)
		}
	}
	return users, nil
}

// RefreshAll re-evaluates every standing watcher and pushes a fresh nearby
// update to each one still connected. Each watcher is evaluated on its own
// goroutine so one slow store call never stalls the rest.
func (s *WatcherService) RefreshAll(ctx context.Context) {
	s.mu.RLock()
	snapshot := make(map[string]domain.WatcherConfig, len(s.watchers))
	for identity, cfg := range s.watchers {
		snapshot[identity] = cfg
	}
	s.mu.RUnlock()

	for identity, cfg := range snapshot {
		go s.refreshOne(ctx, identity, cfg)
	}
}

func (s *WatcherService) refreshOne(ctx context.Context, identity string, cfg domain.WatcherConfig) {
	ctx, span := watcherTracer.Start(ctx, "WatcherService.refreshOne", trace.WithAttributes(
		attribute.String("watcher.identity", identity),
		attribute.Float64("watcher.radius_km", cfg.RadiusKm),
	))
	defer span.End()

	users, err := s.Query(ctx, identity, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrNoLocation) {
			return // nothing to report yet
		}
		span.RecordError(err)
		s.log.ErrorContext(ctx, "watcher - refresh - nearby query failed", "identity", identity, "err", err)
		return
	}

	// The store call suspended us; the watcher may be gone by now.
	target := s.registry.Resolve(identity)
	if target == nil {
		return
	}
	data, _ := json.Marshal(domain.NearbyEvent{Type: domain.TypeNearby, Users: users})
	_ = target.Send(ctx, data)
	span.SetAttributes(attribute.Int("watcher.result_count", len(users)))
}
