// Package httpapi is the outward HTTP surface: the session API, the snapshot
// websocket stream and the board image endpoint. It only reads projections and
// posts events; game state lives behind the session registry.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/huahua9185/dofbot-chess/internal/archive"
	"github.com/huahua9185/dofbot-chess/internal/msgcat"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/huahua9185/dofbot-chess/internal/projection"
	"github.com/huahua9185/dofbot-chess/internal/session"
	"go.uber.org/zap"
)

type Server struct {
	srv *http.Server
}

func New(addr string, registry *session.Registry, hub *projection.Hub, repo archive.Repository, catalog *msgcat.Catalog, defaultDifficulty int) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger())
	r.Use(middleware.Recoverer)

	h := &handlers{registry: registry, hub: hub, repo: repo, catalog: catalog, defaultDifficulty: defaultDifficulty}

	r.Get("/healthz", h.health)
	r.Route("/games", func(r chi.Router) {
		r.Post("/", h.createGame)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", h.getGame)
			r.Post("/actions", h.operatorAction)
			r.Post("/signal", h.signalChange)
			r.Get("/board.png", h.boardPNG)
			r.Get("/ws", h.streamSnapshots)
		})
	})
	r.Get("/boards/{boardID}/games", h.recentGames)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	obslog.L().Info("http_listening", zap.String("addr", s.srv.Addr))
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func requestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				obslog.L().Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int64("duration_ms", time.Since(start).Milliseconds()),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
