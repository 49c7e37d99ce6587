package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"scripthub/internal/registry"
	"scripthub/internal/sandbox"
	"scripthub/internal/token"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithHub supplies an externally created hub, so the engine can be
// built against it before the server exists.
func WithHub(h *Hub) ServerOption {
	return func(s *Server) {
		s.wsHub = h
	}
}

// Server is the HTTP command surface plus the realtime log channel.
type Server struct {
	registry *registry.Registry
	engine   *sandbox.Engine
	tokens   *token.Registry
	logger   *slog.Logger
	mux      *http.ServeMux
	wsHub    *Hub

	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
}

// NewServer creates the web server. The returned server's Hub satisfies
// sandbox.Publisher; wire it into the engine for realtime log streaming.
func NewServer(reg *registry.Registry, engine *sandbox.Engine, tokens *token.Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry: reg,
		engine:   engine,
		tokens:   tokens,
		logger:   logger.With("component", "web"),
		mux:      http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.wsHub == nil {
		s.wsHub = NewHub(s.logger)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.routes()
	return s
}

// Hub returns the realtime log hub.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleCreateScript)
	s.mux.HandleFunc("GET /api/scripts/search", s.handleSearchScripts)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleGetScript)
	s.mux.HandleFunc("PATCH /api/scripts/{id}", s.handleUpdateScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/run", s.handleRunScript)
	s.mux.HandleFunc("POST /api/run", s.handleRunCode)

	s.mux.HandleFunc("GET /api/tokens", s.handleListTokens)
	s.mux.HandleFunc("PUT /api/tokens/{id}", s.handleSetToken)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP dispatches requests through the optional API key check.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && !s.authorized(r) {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		// WebSocket clients cannot set headers from browsers; accept the
		// key as a query parameter there.
		key = r.URL.Query().Get("api_key")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}
