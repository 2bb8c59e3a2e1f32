package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/nodetunnel/internal/transport"
	"github.com/1ureka/nodetunnel/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves health, room listing, metrics and the WebSocket transport.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/rooms", s.handleRooms)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.Rooms()
	if app := r.URL.Query().Get("app"); app != "" {
		filtered := rooms[:0]
		for _, info := range rooms {
			if info.AppID == app {
				filtered = append(filtered, info)
			}
		}
		rooms = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rooms); err != nil {
		util.LogDebug("encode /rooms: %v", err)
	}
}

// handleWS upgrades the request and registers the connection as a client.
// The link's own read loop keeps the connection alive after we return.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.addLinkClient(transport.NewWSLink(conn, s.cfg.Transport), r.RemoteAddr)
}

// Run binds every configured listener and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	var srv *http.Server
	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = s.conn.Close()
			return &transport.Error{Op: "listen http", Err: err}
		}
		srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.LogError("http server stopped: %v", err)
			}
		}()
		util.LogInfo("relay listening on http %s", ln.Addr())
	}

	err := s.Serve(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return err
}
