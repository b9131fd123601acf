// Package httpserver serves the read-only admin surface of the daemon: health,
// state, inventory, the audit journal, an event stream and metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/gfxpower/internal/config"
	"github.com/skobkin/gfxpower/internal/daemon"
	"github.com/skobkin/gfxpower/internal/events"
	"github.com/skobkin/gfxpower/internal/gpu"
	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/journal"
	"github.com/skobkin/gfxpower/internal/version"
)

const (
	readHeaderTimeout   = 5 * time.Second
	readinessTimeout    = 2 * time.Second
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// StateSource provides the daemon state.
type StateSource interface {
	Snapshot() daemon.Snapshot
}

// JournalReader reads the audit journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Ping(ctx context.Context) error
}

// EventSource streams daemon events.
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
	Dropped() uint64
}

// Deps are the daemon parts the server reads from. Journal and Events may be
// nil.
type Deps struct {
	State      StateSource
	Inventory  gpu.Inventory
	Capability graphics.Capability
	Journal    JournalReader
	Events     EventSource
	// Registry receives the server's collectors and is served on /metrics.
	Registry *prometheus.Registry
}

// Server wraps the HTTP surface area of the daemon.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	deps       Deps

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its routes.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
	}
	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	r := chi.NewRouter()
	r.Use(s.withRequestLogging)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/version", s.handleVersion)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/gpus", s.handleGPUs)
		r.Get("/journal", s.handleJournal)
	})
	r.Get("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(r)
	}
	if cfg.EnablePprof {
		registerPprof(r)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	info := s.readiness(r.Context())

	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.deps.State == nil {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.State.Snapshot())
}

type gpusResponse struct {
	gpu.Inventory
	Capability graphics.Capability `json:"capability"`
}

func (s *Server) handleGPUs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, gpusResponse{
		Inventory:  s.deps.Inventory,
		Capability: s.deps.Capability,
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.loggerFromContext(r.Context()).Error("failed to read journal", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	s.writeJSON(w, r, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (s *Server) readiness(ctx context.Context) readyResponse {
	resp := readyResponse{
		Status:     "ok",
		GPUs:       len(s.deps.Inventory.Devices),
		Switchable: s.deps.Capability.Switchable,
		Journal:    "disabled",
	}

	if s.deps.State == nil {
		resp.Status = "initializing"
		resp.Reason = "state_not_configured"
		return resp
	}

	if s.deps.Journal != nil {
		pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		defer cancel()
		if err := s.deps.Journal.Ping(pingCtx); err != nil {
			s.loggerFromContext(ctx).Warn("journal ping failed", "err", err)
			resp.Journal = "error"
			resp.Status = "degraded"
			resp.Reason = "journal_unavailable"
			return resp
		}
		resp.Journal = "ok"
	}
	return resp
}

type readyResponse struct {
	Status     string `json:"status"`
	GPUs       int    `json:"gpus"`
	Switchable bool   `json:"switchable"`
	Journal    string `json:"journal"`
	Reason     string `json:"reason,omitempty"`
}

func registerPprof(r chi.Router) {
	r.HandleFunc("/debug/pprof/*", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
