package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Monitor over HTTP: /health, /metrics, /ready, /live.
type Server struct {
	monitor *Monitor
	server  *http.Server
	logger  *slog.Logger
}

// NewServer builds the health HTTP server bound to port.
func NewServer(port int, monitor *Monitor, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{monitor: monitor, logger: logger.With("component", "health-server")}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server until Stop is called or it fails.
func (s *Server) Start() error {
	s.logger.Info("health server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping health server")
	return s.server.Shutdown(ctx)
}

type healthBody struct {
	Status               string                `json:"status"`
	UptimeSeconds        float64               `json:"uptime_seconds"`
	TotalEventsReceived  int64                 `json:"total_events_received"`
	TotalEventsPerSecond float64               `json:"total_events_per_second"`
	Streams              map[string]streamBody `json:"streams"`
}

type streamBody struct {
	Status           string  `json:"status"`
	TotalEvents      int64   `json:"total_events"`
	ThroughputPerSec float64 `json:"throughput_per_second"`
}

// handleHealth returns 200 on HEALTHY, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.monitor.Report()

	streams := make(map[string]streamBody, len(snapshot.Streams))
	for _, st := range snapshot.Streams {
		streams[st.Name] = streamBody{
			Status: st.State.String(), TotalEvents: st.TotalEvents, ThroughputPerSec: st.ThroughputPerSec,
		}
	}

	body := healthBody{
		Status:               snapshot.GlobalStatus.String(),
		UptimeSeconds:        snapshot.UptimeSeconds,
		TotalEventsReceived:  snapshot.TotalEvents,
		TotalEventsPerSecond: snapshot.EventsPerSecond,
		Streams:              streams,
	}

	status := http.StatusOK
	if snapshot.GlobalStatus != Healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode health body", "error", err)
	}
}

// handleReady mirrors /health's status code without the body.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	snapshot := s.monitor.Report()
	if snapshot.GlobalStatus != Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleLive always returns 200 while the process is up.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
