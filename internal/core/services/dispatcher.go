package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nearcast/internal/app/hub"
	"nearcast/internal/core/contracts"
	"nearcast/internal/core/domain"
)

var dispatcherTracer = otel.Tracer("dispatcher-service")

// DispatcherService decodes inbound envelopes and routes them to the hub,
// the watcher engine, and the trace engine. Registry and topic mutations run
// synchronously; store reads and writes run on goroutines with liveness
// re-checked after every suspension.
type DispatcherService struct {
	log                *slog.Logger
	hub                *hub.Hub
	store              contracts.LocationStore
	watchers           *WatcherService
	traces             *TraceService
	validate           *validator.Validate
	defaultRadiusKm    float64
	defaultThresholdKm float64
}

func NewDispatcherService(
	log *slog.Logger,
	h *hub.Hub,
	store contracts.LocationStore,
	watchers *WatcherService,
	traces *TraceService,
	defaultRadiusKm float64,
	defaultThresholdKm float64,
) *DispatcherService {
	return &DispatcherService{
		log:                log,
		hub:                h,
		store:              store,
		watchers:           watchers,
		traces:             traces,
		validate:           validator.New(),
		defaultRadiusKm:    defaultRadiusKm,
		defaultThresholdKm: defaultThresholdKm,
	}
}

// HandleMessage processes one inbound frame. Malformed frames, unknown types
// and messages missing required fields are dropped without a reply.
func (d *DispatcherService) HandleMessage(ctx context.Context, c contracts.Client, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.log.DebugContext(ctx, "dispatcher - handle message - undecodable frame", "conn_id", c.ID(), "err", err)
		return
	}

	ctx, span := dispatcherTracer.Start(ctx, "DispatcherService.HandleMessage", trace.WithAttributes(
		attribute.String("message.type", env.Type),
		attribute.String("conn.id", c.ID()),
	))
	defer span.End()

	switch env.Type {
	case domain.TypeRegister:
		var msg domain.RegisterMessage
		if d.decode(ctx, raw, &msg) {
			d.handleRegister(ctx, c, msg)
		}
	case domain.TypeSubscribe:
		var msg domain.SubscribeMessage
		if d.decode(ctx, raw, &msg) {
			d.handleSubscribe(ctx, c, msg)
		}
	case domain.TypeUnsubscribe:
		var msg domain.UnsubscribeMessage
		if d.decode(ctx, raw, &msg) {
			d.handleUnsubscribe(ctx, c, msg)
		}
	case domain.TypeLocation:
		var msg domain.LocationMessage
		if d.decode(ctx, raw, &msg) {
			d.handleLocation(ctx, c, msg)
		}
	case domain.TypeNearby:
		var msg domain.NearbyMessage
		if d.decode(ctx, raw, &msg) {
			d.handleNearby(ctx, c, msg)
		}
	case domain.TypeTrace:
		var msg domain.TraceMessage
		if d.decode(ctx, raw, &msg) {
			d.handleTrace(ctx, c, msg)
		}
	case domain.TypeUnregister:
		var msg domain.UnregisterMessage
		if d.decode(ctx, raw, &msg) {
			d.handleUnregister(ctx, c, msg)
		}
	default:
		span.SetStatus(codes.Ok, "ignored")
		d.log.DebugContext(ctx, "dispatcher - handle message - unknown type ignored", "type", env.Type, "conn_id", c.ID())
	}
}

// OnDisconnect is the transport-driven cleanup path: release the binding,
// drop the watcher config, apply the trace requester policy, and let every
// remaining watcher and trace see the departure.
func (d *DispatcherService) OnDisconnect(ctx context.Context, c contracts.Client) {
	identity, bound := d.hub.Disconnect(c)
	d.traces.OnConnectionClosed(c)
	if !bound {
		return
	}
	d.watchers.Clear(identity)
	d.log.InfoContext(ctx, "dispatcher - on disconnect - identity offline", "identity", identity, "conn_id", c.ID())

	bg := context.WithoutCancel(ctx)
	d.watchers.RefreshAll(bg)
	d.traces.RefreshFor(bg, identity)
}

// decode unmarshals and validates one concrete message. A failure means the
// frame is silently ignored.
func (d *DispatcherService) decode(ctx context.Context, raw []byte, msg any) bool {
	if err := json.Unmarshal(raw, msg); err != nil {
		d.log.DebugContext(ctx, "dispatcher - decode - malformed message", "err", err)
		return false
	}
	if err := d.validate.Struct(msg); err != nil {
		d.log.DebugContext(ctx, "dispatcher - decode - missing required fields", "err", err)
		return false
	}
	return true
}

func (d *DispatcherService) handleRegister(ctx context.Context, c contracts.Client, msg domain.RegisterMessage) {
	evicted, released := d.hub.Register(msg.Identity, c)
	if evicted != nil {
		// The displaced connection gets the same treatment as an explicit
		// unregister, notice included, if it is still reachable.
		d.send(ctx, evicted, domain.UnregisteredEvent{Type: domain.TypeUnregistered, Identity: msg.Identity})
		d.watchers.Clear(msg.Identity)
		d.traces.OnConnectionClosed(evicted)
	}
	if released != "" {
		d.watchers.Clear(released)
	}
	d.send(ctx, c, domain.RegisteredEvent{Type: domain.TypeRegistered, Identity: msg.Identity})
	d.log.InfoContext(ctx, "dispatcher - handle register - identity online", "identity", msg.Identity, "conn_id", c.ID())

	bg := context.WithoutCancel(ctx)
	d.watchers.RefreshAll(bg)
	d.traces.RefreshFor(bg, msg.Identity)
	if released != "" {
		d.traces.RefreshFor(bg, released)
	}
}

func (d *DispatcherService) handleUnregister(ctx context.Context, c contracts.Client, msg domain.UnregisterMessage) {
	if err := d.hub.Unregister(msg.Identity, c); err != nil {
		if errors.Is(err, domain.ErrInvalidSession) {
			d.send(ctx, c, domain.ErrorEvent{Type: domain.TypeError, Message: "invalid session for " + msg.Identity})
		}
		return
	}
	d.watchers.Clear(msg.Identity)
	d.traces.OnConnectionClosed(c)
	d.send(ctx, c, domain.UnregisteredEvent{Type: domain.TypeUnregistered, Identity: msg.Identity})
	d.log.InfoContext(ctx, "dispatcher - handle unregister - identity offline", "identity", msg.Identity, "conn_id", c.ID())

	bg := context.WithoutCancel(ctx)
	d.watchers.RefreshAll(bg)
	d.traces.RefreshFor(bg, msg.Identity)
}

func (d *DispatcherService) handleSubscribe(ctx context.Context, c contracts.Client, msg domain.SubscribeMessage) {
	d.hub.Subscribe(c, msg.Topic)
	d.send(ctx, c, domain.SubscribedEvent{Type: domain.TypeSubscribed, Topic: msg.Topic})
}

func (d *DispatcherService) handleUnsubscribe(ctx context.Context, c contracts.Client, msg domain.UnsubscribeMessage) {
	d.hub.Unsubscribe(c, msg.Topic)
	d.send(ctx, c, domain.UnsubscribedEvent{Type: domain.TypeUnsubscribed, Topic: msg.Topic})
}

// handleLocation persists the position, announces it on the identity's own
// topic, and lets the engines react, all off the read loop. Store failures
// are absorbed: the movement simply produces no downstream update.
func (d *DispatcherService) handleLocation(ctx context.Context, c contracts.Client, msg domain.LocationMessage) {
	lat, lng := *msg.Lat, *msg.Lng
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := d.store.Save(bg, msg.Identity, lat, lng); err != nil {
			d.log.ErrorContext(bg, "dispatcher - handle location - save failed", "identity", msg.Identity, "err", err)
			return
		}
		event, _ := json.Marshal(domain.LocationEvent{
			Type:      domain.TypeLocation,
			Identity:  msg.Identity,
			Latitude:  lat,
			Longitude: lng,
		})
		d.hub.Publish(bg, "user-"+msg.Identity, event)
		d.watchers.RefreshAll(bg)
		d.traces.RefreshFor(bg, msg.Identity)
	}()
}

// handleNearby answers immediately and, when the request names an identity,
// installs it as that identity's standing watcher config.
func (d *DispatcherService) handleNearby(ctx context.Context, c contracts.Client, msg domain.NearbyMessage) {
	cfg := domain.WatcherConfig{
		Latitude:  *msg.Lat,
		Longitude: *msg.Lng,
		RadiusKm:  d.defaultRadiusKm,
		Category:  msg.Category,
	}
	if msg.Radius != nil {
		cfg.RadiusKm = *msg.Radius
	}
	if msg.Identity != "" {
		d.watchers.Set(msg.Identity, cfg)
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		users, err := d.watchers.Query(bg, msg.Identity, cfg)
		if err != nil {
			d.log.ErrorContext(bg, "dispatcher - handle nearby - query failed", "identity", msg.Identity, "err", err)
			return
		}
		d.send(bg, c, domain.NearbyEvent{Type: domain.TypeNearby, Users: users})
	}()
}

func (d *DispatcherService) handleTrace(ctx context.Context, c contracts.Client, msg domain.TraceMessage) {
	threshold := d.defaultThresholdKm
	if msg.Threshold != nil {
		threshold = *msg.Threshold
	}
	if err := d.traces.Create(context.WithoutCancel(ctx), c, msg.Identity, msg.OtherIdentity, threshold); err != nil {
		if errors.Is(err, domain.ErrPairOffline) {
			d.send(ctx, c, domain.ErrorEvent{Type: domain.TypeError, Message: "neither user is online"})
		}
		return
	}
}

func (d *DispatcherService) send(ctx context.Context, c contracts.Client, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = c.Send(ctx, data)
}
