package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nearcast/internal/core/contracts"
	"nearcast/internal/core/domain"
	"nearcast/pkg/geo"
)

var traceTracer = otel.Tracer("trace-service")

// proximityTrace is one standing pair comparison. The requester connection is
// remembered only for the optional drop-on-close policy; pushes always go
// through whatever connection the registry currently binds.
type proximityTrace struct {
	pair        domain.TracePair
	thresholdKm float64
	requester   string // connection ID that created the trace
}

// TraceService monitors the distance between identity pairs. A trace stays
// alive while at least one member is online and ends for good once the pair
// comes within its threshold.
type TraceService struct {
	mu                   sync.Mutex
	log                  *slog.Logger
	registry             contracts.Registry
	store                contracts.LocationStore
	dropOnRequesterClose bool
	traces               map[string]*proximityTrace
}

func NewTraceService(
	log *slog.Logger,
	registry contracts.Registry,
	store contracts.LocationStore,
	dropOnRequesterClose bool,
) *TraceService {
	return &TraceService{
		log:                  log,
		registry:             registry,
		store:                store,
		dropOnRequesterClose: dropOnRequesterClose,
		traces:               make(map[string]*proximityTrace),
	}
}

// Create starts (or replaces) the trace for the unordered pair {a, b} and
// evaluates it immediately. It refuses with ErrPairOffline when neither
// member is registered.
func (s *TraceService) Create(ctx context.Context, requester contracts.Client, a, b string, thresholdKm float64) error {
	if !s.registry.IsOnline(a) && !s.registry.IsOnline(b) {
		return domain.ErrPairOffline
	}
	pair := domain.NewTracePair(a, b)
	t := &proximityTrace{pair: pair, thresholdKm: thresholdKm, requester: requester.ID()}

	s.mu.Lock()
	s.traces[pair.Key()] = t
	s.mu.Unlock()

	s.log.InfoContext(ctx, "trace - create - trace armed",
		"pair", pair.Key(), "threshold_km", thresholdKm, "conn_id", requester.ID())
	go s.evaluate(ctx, t)
	return nil
}

// RefreshFor re-evaluates every trace that involves identity. Called when the
// identity moves, registers, or goes away.
func (s *TraceService) RefreshFor(ctx context.Context, identity string) {
	s.mu.Lock()
	affected := make([]*proximityTrace, 0)
	for _, t := range s.traces {
		if t.pair.Contains(identity) {
			affected = append(affected, t)
		}
	}
	s.mu.Unlock()

	for _, t := range affected {
		go s.evaluate(ctx, t)
	}
}

// OnConnectionClosed applies the requester lifecycle policy: when enabled,
// traces created over a now-closed connection are discarded with it.
func (s *TraceService) OnConnectionClosed(c contracts.Client) {
	if !s.dropOnRequesterClose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.traces {
		if t.requester == c.ID() {
			delete(s.traces, key)
			s.log.Info("trace - connection closed - trace dropped with requester",
				"pair", key, "conn_id", c.ID())
		}
	}
}

// Count reports the number of live traces.
func (s *TraceService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

// evaluate runs one pass of the pair state machine: fetch both stored
// locations, re-check presence after the fetch, then either discard, emit a
// single_user update, or emit a both_online update and terminate on
// threshold.
func (s *TraceService) evaluate(ctx context.Context, t *proximityTrace) {
	ctx, span := traceTracer.Start(ctx, "TraceService.evaluate", trace.WithAttributes(
		attribute.String("trace.pair", t.pair.Key()),
		attribute.Float64("trace.threshold_km", t.thresholdKm),
	))
	defer span.End()

	s.mu.Lock()
	if s.traces[t.pair.Key()] != t {
		s.mu.Unlock()
		return // replaced or discarded while queued
	}
	s.mu.Unlock()

	first, second := t.pair.First, t.pair.Second
	locFirst, locSecond, err := s.store.GetLatestPair(ctx, first, second)
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "trace - evaluate - location fetch failed", "pair", t.pair.Key(), "err", err)
		return
	}

	// Presence may have changed while the fetch was in flight.
	firstOnline := s.registry.IsOnline(first)
	secondOnline := s.registry.IsOnline(second)

	switch {
	case !firstOnline && !secondOnline:
		s.discard(t, "both members offline")

	case firstOnline && secondOnline:
		if locFirst == nil || locSecond == nil {
			return // transient, a position will arrive
		}
		distance := geo.RoundKm(geo.HaversineKm(
			locFirst.Latitude, locFirst.Longitude,
			locSecond.Latitude, locSecond.Longitude,
		))
		event := domain.TraceEvent{
			Type: domain.TypeTrace,
			Users: []domain.TraceUser{
				{Identity: first, Latitude: locFirst.Latitude, Longitude: locFirst.Longitude, IsItYou: true},
				{Identity: second, Latitude: locSecond.Latitude, Longitude: locSecond.Longitude},
			},
			Distance: distance,
			Status:   domain.TraceBothOnline,
		}
		s.push(ctx, t, event)
		span.SetAttributes(attribute.Float64("trace.distance_km", distance))
		if distance <= t.thresholdKm {
			s.discard(t, "threshold reached")
		}

	default:
		online, loc := first, locFirst
		if secondOnline {
			online, loc = second, locSecond
		}
		if loc == nil {
			return // online but never reported a position
		}
		event := domain.TraceEvent{
			Type: domain.TypeTrace,
			Users: []domain.TraceUser{
				{Identity: online, Latitude: loc.Latitude, Longitude: loc.Longitude, IsItYou: online == first},
			},
			Status: domain.TraceSingleUser,
		}
		s.push(ctx, t, event)
	}
}

// push delivers a trace update to each online pair member, resolving their
// connections at send time.
func (s *TraceService) push(ctx context.Context, t *proximityTrace, event domain.TraceEvent) {
	data, _ := json.Marshal(event)
	delivered := make(map[string]struct{}, 2)
	for _, identity := range []string{t.pair.First, t.pair.Second} {
		c := s.registry.Resolve(identity)
		if c == nil {
			continue
		}
		if _, done := delivered[c.ID()]; done {
			continue
		}
		delivered[c.ID()] = struct{}{}
		_ = c.Send(ctx, data)
	}
}

func (s *TraceService) discard(t *proximityTrace, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traces[t.pair.Key()] == t {
		delete(s.traces, t.pair.Key())
		s.log.Info("trace - discard - trace removed", "pair", t.pair.Key(), "reason", reason)
	}
}
