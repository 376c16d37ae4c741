package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nearcast/internal/app/server/handlers"
	"nearcast/internal/core/services"
	"nearcast/pkg/middleware"
)

type Server struct {
	mux       *http.ServeMux
	addr      string
	log       *slog.Logger
	wsHandler *handlers.WSHandler
	httpSrv   *http.Server
}

func NewServer(
	addr string,
	log *slog.Logger,
	dispatcher *services.DispatcherService,
) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		addr:      addr,
		log:       log,
		wsHandler: handlers.NewWSHandler(dispatcher),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	logging := middleware.RequestLogger(s.log)
	tracing := middleware.TracerMiddleware("nearcast")

	s.mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("WebSocket server with topic-based updates is running!"))
	})
	s.mux.Handle("/ws", logging(tracing(http.HandlerFunc(s.wsHandler.Handler))))
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.addr,
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would sever long-lived WebSocket sessions.
	}
	s.log.Info("server - start - listening", "addr", s.addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
