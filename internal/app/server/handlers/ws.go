package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nearcast/internal/app/server/ws"
	"nearcast/internal/core/services"
	"nearcast/internal/platform/logger"
)

type WSHandler struct {
	dispatcher *services.DispatcherService
}

func NewWSHandler(dispatcher *services.DispatcherService) *WSHandler {
	return &WSHandler{dispatcher: dispatcher}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	// The session outlives the upgrade request.
	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // tighten later
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetCloseHandler(func(code int, text string) error {
		cancel()
		return nil
	})

	websocket := ws.NewWebSocket(ctx, conn, log)
	client := ws.NewClient(ctx, websocket)
	span.SetAttributes(attribute.String("conn.id", client.ID()))
	log.InfoContext(r.Context(), "ws handler - connect - ws connection established", "conn_id", client.ID())

	defer s.dispatcher.OnDisconnect(sessionCtx, client)
	defer client.Close()

	// Frames are handled in arrival order; the dispatcher pushes store I/O
	// off this loop itself.
	websocket.ReadLoop(func(data []byte) {
		s.dispatcher.HandleMessage(ctx, client, data)
	})
	log.Info("ws handler - disconnect - ws connection closed", "conn_id", client.ID())
}
