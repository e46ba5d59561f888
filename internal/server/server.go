// Package server exposes the daemon's HTTP and websocket surface: tool
// records, module routes, docker registries and the terminal viewer
// transport.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/term"
)

// DefaultContextTTL bounds how long per-module context data may be served
// from cache before being recomputed.
const DefaultContextTTL = 15 * time.Second

// Options configures the daemon server.
type Options struct {
	Addr       string
	Store      *store.Store
	Registry   *plugin.Registry
	Sessions   *term.Manager
	Runner     *cmdrun.Runner
	ContextTTL time.Duration
}

// Server serves the dashboard API.
type Server struct {
	addr     string
	store    *store.Store
	registry *plugin.Registry
	sessions *term.Manager
	runner   *cmdrun.Runner
	cache    *contextCache

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New creates a server from opts. Addr defaults to 127.0.0.1:8645.
func New(opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:8645"
	}
	ttl := opts.ContextTTL
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}

	s := &Server{
		addr:     addr,
		store:    opts.Store,
		registry: opts.Registry,
		sessions: opts.Sessions,
		runner:   opts.Runner,
		cache:    newContextCache(ttl),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-host tool; the daemon binds loopback by default.
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/tools", s.handleToolsList)
	mux.HandleFunc("/api/tools/", s.handleToolSubroutes)
	mux.HandleFunc("/api/sessions", s.handleSessionsList)
	mux.HandleFunc("/api/registries", s.handleRegistries)
	mux.HandleFunc("/api/registries/", s.handleRegistrySubroutes)
	mux.HandleFunc("/api/modules/", s.handleModuleRoutes)
	mux.HandleFunc("/ws/terminal", s.handleTerminal)
	return mux
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	log.Printf("[Server] Listening on %s", ln.Addr())

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
