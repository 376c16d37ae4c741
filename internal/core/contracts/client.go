package contracts

import "context"

// Client is the minimal surface the coordination layer needs to talk to one
// live WebSocket connection. The transport owns the connection; the core only
// holds references handed out by the hub.
type Client interface {
	// ID is a process-unique connection identifier, stable for the
	// connection's lifetime and unrelated to any identity bound to it.
	ID() string
	// Send queues data for delivery. It never blocks: a full buffer or a
	// closed peer drops the frame silently.
	Send(ctx context.Context, data []byte) error
	Close()
}

// Registry is the hub surface the watcher and trace engines depend on.
// Every push re-resolves its target here immediately before sending, because
// bindings may have changed while a store call was in flight.
type Registry interface {
	// Resolve returns the connection currently bound to identity, or nil.
	Resolve(identity string) Client
	IsOnline(identity string) bool
	// Publish fans payload out to every open subscriber of topic and
	// returns the number of connections it was handed to.
	Publish(ctx context.Context, topic string, payload []byte) int
}
