package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheInvalidator is the subset of the config cache the telemetry
// server exposes over HTTP.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, agentID string) error
	InvalidateAll(ctx context.Context) (int, error)
}

// Server exposes /metrics plus health, readiness, and cache-invalidation
// endpoints, grounded on the teacher's internal/controlplane/api.Server
// (ServeMux wiring, writeJSON helper, Start/Stop lifecycle).
type Server struct {
	addr  string
	reg   *Registry
	cache CacheInvalidator
	log   *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	running   bool
	boundAddr string
}

// Addr returns the address the server is actually listening on, useful
// when addr was ":0" and the OS picked an ephemeral port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// NewServer builds a Server bound to addr (e.g. ":9090"). cache may be
// nil, in which case cache-invalidation requests fail with 503.
func NewServer(addr string, reg *Registry, cache CacheInvalidator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, reg: reg, cache: cache, log: log}
}

// Start begins serving in a background goroutine. It returns once the
// listener is bound, or an error if binding fails.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("telemetry server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/v1/cache/invalidate", s.handleCacheInvalidate)

	s.server = &http.Server{Handler: mux}
	s.running = true
	s.boundAddr = listener.Addr().String()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("telemetry_server_failed", "error", err)
		}
	}()

	s.log.Info("telemetry_server_started", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": "cache not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	agentID := r.URL.Query().Get("agent")
	if agentID == "" {
		if _, err := s.cache.InvalidateAll(ctx); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "invalidated": "all"})
		return
	}

	if err := s.cache.Invalidate(ctx, agentID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "invalidated": agentID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
