// Package httpapi implements the driver's HTTP surface from spec §4.H/§6:
// liveness/readiness probes, a read-only config introspection endpoint, a
// Prometheus metrics endpoint, and the `/ws` WebSocket upgrade that hands
// new connections to the session/binder layer. Routing is grounded on
// go-chi/chi, the HTTP stack the Tutu-Engine example uses for the same
// purpose.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/app"
	"github.com/mudforge/driver/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the full HTTP surface for a running App.
func NewRouter(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.Log))

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(a))
	r.Get("/api/config", handleConfig(a))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", handleWebSocket(a))

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			if log != nil {
				log.Debug("http request",
					zap.String("method", req.Method),
					zap.String("path", req.URL.Path),
					zap.Duration("elapsed", time.Since(start)),
				)
			}
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleReady(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Store == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready","reason":"persistence not initialized"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// configView is the subset of Config safe to expose: it excludes secrets
// (session secret, AI API key, remote store credentials).
type configView struct {
	ServerName        string `json:"server_name"`
	NetworkHost       string `json:"network_host"`
	NetworkPort       int    `json:"network_port"`
	PersistenceMode   string `json:"persistence_adapter"`
	IsolatePoolSize   int    `json:"isolate_pool_size"`
	TickPeriodMS      int64  `json:"tick_period_ms"`
	SessionMaxActive  int    `json:"session_max_active"`
}

func handleConfig(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := a.Config
		view := configView{
			ServerName:       cfg.Server.Name,
			NetworkHost:      cfg.Network.Host,
			NetworkPort:      cfg.Network.Port,
			PersistenceMode:  cfg.Persistence.Adapter,
			IsolatePoolSize:  cfg.Isolate.PoolSize,
			TickPeriodMS:     cfg.Network.TickPeriod.Milliseconds(),
			SessionMaxActive: cfg.Session.MaxActive,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func handleWebSocket(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if a.Log != nil {
				a.Log.Warn("websocket upgrade failed", zap.Error(err))
			}
			return
		}
		id := app.NewConnectionID()
		sess := newBoundSession(id, conn, a)

		go sess.WriteLoop()
		go sess.ReadLoop(r.Context(), inboundHandler(a))
		go func() {
			<-sess.Done()
			cleanupSession(a, sess)
		}()
	}
}

// cleanupSession unwinds whatever a session accumulated once it closes:
// the connection manager's active-session entry, the binder's
// session<->entity link, and — if this session still owned that link
// (a resumed_elsewhere session's old binding was already replaced) — the
// player's play-time accumulator and a final save (spec §3 unbind
// contract).
func cleanupSession(a *app.App, sess *session.Session) {
	bind, hadBinding := a.Binder.BySession(sess.ID)
	a.Sessions.Unregister(sess)
	a.Binder.UnbindSession(sess.ID)
	if !hadBinding {
		return
	}
	ident, ok := a.Graph.Identity(bind.EntityID)
	if !ok {
		return
	}
	name := strings.TrimPrefix(ident.ObjectID, playerObjectPrefix)
	if err := a.Auth.Unbind(context.Background(), name); err != nil && a.Log != nil {
		a.Log.Warn("unbind save failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}
