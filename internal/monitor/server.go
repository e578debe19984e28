// Package monitor serves the optional HTTP endpoint that exposes a
// running batch's progress: a health check, a JSON summary snapshot, a
// WebSocket event stream, and Prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopysense/gnssvod/internal/ws"
)

// Server is the monitor HTTP server. It lives for the duration of one
// vodpipe run.
type Server struct {
	log    *log.Logger
	bind   string
	hub    *ws.Hub
	server *http.Server

	startedAt time.Time
	phase     atomic.Value // current phase string
	summary   atomic.Value // latest summary snapshot, any JSON-able value
}

// New creates a monitor server broadcasting through the given hub.
func New(bind string, hub *ws.Hub, logger *log.Logger) *Server {
	s := &Server{
		log:       logger,
		bind:      bind,
		hub:       hub,
		startedAt: time.Now(),
	}
	s.phase.Store("starting")
	return s
}

// SetPhase records the run's current phase for /api/summary.
func (s *Server) SetPhase(phase string) {
	s.phase.Store(phase)
}

// SetSummary stores the latest run summary served at /api/summary.
func (s *Server) SetSummary(v any) {
	s.summary.Store(v)
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server fails. The WebSocket hub is closed on the way out.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.Handle("/ws", s.hub.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              s.bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.log.Printf("monitor listening on http://%s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "gnssvod",
		"phase":          s.phase.Load(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if v := s.summary.Load(); v != nil {
		resp["summary"] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
