package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrove-labs/orkestra/assemble"
	"github.com/ashgrove-labs/orkestra/dispatch"
	"github.com/ashgrove-labs/orkestra/engine"
)

// StreamingEngine is the subset of *engine.Engine the gateway depends on.
// Kept narrow so a fake can stand in for engine.Engine in tests without
// dragging in the whole execution stack.
type StreamingEngine interface {
	Run(ctx context.Context, req engine.Request, events chan<- engine.Event) (engine.Result, error)
}

// Config wires a Server to its execution backend and connection policy.
type Config struct {
	Engine StreamingEngine
	// Agents resolves orchestrate's named targets. Typically the same
	// dispatch.AgentResolver passed to engine.Config.Agents.
	Agents dispatch.AgentResolver

	// Credential is attached to every engine.Request built from an execute
	// event; the client protocol carries no per-connection API key.
	Credential assemble.Credential

	// AllowedOrigins restricts the WebSocket upgrade's Origin header. Empty
	// allows every origin (dev-mode default, matching the teacher's
	// backward-compatible behavior).
	AllowedOrigins []string

	Addr   string
	Logger *slog.Logger
}

// Server is the gateway's HTTP/WebSocket listener.
type Server struct {
	cfg Config

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows every origin when AllowedOrigins is empty (dev mode)
// and always allows a missing Origin header (non-browser clients), matching
// the teacher's checkOrigin policy.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed || allowed == "*" {
			return true
		}
	}
	s.cfg.Logger.Warn("gateway: origin rejected", "origin", origin)
	return false
}

// BuildMux constructs (and caches) the server's route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	s.cfg.Logger.Info("gateway starting", "addr", s.cfg.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.close()
	}()

	client.run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok"}`)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	s.cfg.Logger.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.cfg.Logger.Info("gateway: client disconnected", "id", c.id)
}

// ClientCount reports the number of currently connected clients, for
// health/status reporting.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
