package hub

import (
	"context"
	"log/slog"
	"sync"

	"nearcast/internal/core/contracts"
	"nearcast/internal/core/domain"
)

// Hub owns the identity registry and the topic subscription sets. All four
// maps mutate under one mutex so a binding and its bookkeeping can never be
// observed half-updated.
type Hub struct {
	mu sync.RWMutex

	log *slog.Logger

	clients    map[string]contracts.Client // identity → client
	identities map[string]string           // client ID → identity

	topics       map[string]map[string]contracts.Client // topic → client ID → client
	clientTopics map[string]map[string]struct{}         // client ID → topic names
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:          log,
		clients:      make(map[string]contracts.Client),
		identities:   make(map[string]string),
		topics:       make(map[string]map[string]contracts.Client),
		clientTopics: make(map[string]map[string]struct{}),
	}
}

// Register binds c to identity, evicting whatever connection held it before.
// Last register wins. It returns the evicted client (nil if none, or if c
// re-registered its own identity) and the identity c itself previously held
// under a different name, so the caller can run cleanup for both.
func (h *Hub) Register(identity string, c contracts.Client) (evicted contracts.Client, released string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[identity]; ok && old.ID() != c.ID() {
		evicted = old
		delete(h.identities, old.ID())
		h.dropSubscriptionsLocked(old.ID())
	}
	if prev, ok := h.identities[c.ID()]; ok && prev != identity {
		released = prev
		delete(h.clients, prev)
	}

	h.clients[identity] = c
	h.identities[c.ID()] = identity
	h.log.Info("hub - register - identity bound", "identity", identity, "conn_id", c.ID())
	return evicted, released
}

// Unregister releases identity, but only for the connection that owns it.
// Stale or duplicate unregisters fail with ErrInvalidSession and leave state
// untouched.
func (h *Hub) Unregister(identity string, c contracts.Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bound, ok := h.clients[identity]
	if !ok || bound.ID() != c.ID() {
		return domain.ErrInvalidSession
	}
	delete(h.clients, identity)
	delete(h.identities, c.ID())
	h.dropSubscriptionsLocked(c.ID())
	h.log.Info("hub - unregister - identity released", "identity", identity, "conn_id", c.ID())
	return nil
}

// Disconnect is the transport-driven cleanup path. It removes whatever
// identity binding c holds (at most one) plus all of its subscriptions, and
// reports the identity that was bound.
func (h *Hub) Disconnect(c contracts.Client) (identity string, bound bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	identity, bound = h.identities[c.ID()]
	if bound {
		delete(h.clients, identity)
		delete(h.identities, c.ID())
	}
	h.dropSubscriptionsLocked(c.ID())
	if bound {
		h.log.Info("hub - disconnect - identity released", "identity", identity, "conn_id", c.ID())
	}
	return identity, bound
}

// Resolve returns the connection currently bound to identity, or nil. Callers
// must re-resolve immediately before every send.
func (h *Hub) Resolve(identity string) contracts.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[identity]
}

func (h *Hub) IsOnline(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[identity]
	return ok
}

// Identity returns the identity bound to a connection, if any.
func (h *Hub) Identity(c contracts.Client) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	identity, ok := h.identities[c.ID()]
	return identity, ok
}

// Subscribe adds c to a topic, creating the topic on first subscription.
// Idempotent.
func (h *Hub) Subscribe(c contracts.Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]contracts.Client)
	}
	h.topics[topic][c.ID()] = c

	if h.clientTopics[c.ID()] == nil {
		h.clientTopics[c.ID()] = make(map[string]struct{})
	}
	h.clientTopics[c.ID()][topic] = struct{}{}
}

// Unsubscribe removes c from a topic, deleting the topic once its subscriber
// set is empty. Idempotent.
func (h *Hub) Unsubscribe(c contracts.Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs := h.topics[topic]; subs != nil {
		delete(subs, c.ID())
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if owned := h.clientTopics[c.ID()]; owned != nil {
		delete(owned, topic)
		if len(owned) == 0 {
			delete(h.clientTopics, c.ID())
		}
	}
}

// UnsubscribeAll removes c from every topic it subscribed to. It walks only
// c's own subscription set, not the whole topic table.
func (h *Hub) UnsubscribeAll(c contracts.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubscriptionsLocked(c.ID())
}

// Publish hands payload to every current subscriber of topic. Sends are
// fire-and-forget; a closed or slow subscriber is skipped, never an error.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) int {
	h.mu.RLock()
	subs := make([]contracts.Client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		_ = c.Send(ctx, payload)
	}
	return len(subs)
}

// TopicCount reports the number of live topics.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// Shutdown closes every connection and clears all collections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]contracts.Client, 0, len(h.identities))
	seen := make(map[string]struct{})
	for _, c := range h.clients {
		clients = append(clients, c)
		seen[c.ID()] = struct{}{}
	}
	for _, subs := range h.topics {
		for id, c := range subs {
			if _, ok := seen[id]; !ok {
				clients = append(clients, c)
				seen[id] = struct{}{}
			}
		}
	}
	h.clients = make(map[string]contracts.Client)
	h.identities = make(map[string]string)
	h.topics = make(map[string]map[string]contracts.Client)
	h.clientTopics = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.log.Info("hub - shutdown - all connections closed", "count", len(clients))
}

func (h *Hub) dropSubscriptionsLocked(connID string) {
	for topic := range h.clientTopics[connID] {
		if subs := h.topics[topic]; subs != nil {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.clientTopics, connID)
}
