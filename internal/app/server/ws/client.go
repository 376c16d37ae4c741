package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Client pairs a WebSocket with a buffered outbound queue drained by a single
// write loop. It satisfies contracts.Client.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	id     string
	out    chan []byte
	once   sync.Once
}

func NewClient(parent context.Context, ws *WebSocket) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		id:     uuid.NewString(),
		out:    make(chan []byte, 256),
	}
	go c.writeLoop()
	return c
}

func (c *Client) ID() string { return c.id }

// Send queues data without ever blocking the caller. A closed client errors;
// a full buffer drops the frame silently, since a slow consumer must not
// stall the event flow.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return errors.New("client closed")
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return nil
	}
}

// Close is idempotent. The out channel is never closed; the write loop exits
// on context cancellation, which keeps concurrent Sends panic-free.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *Client) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			_ = c.ws.WriteMessage(data)
		}
	}
}
