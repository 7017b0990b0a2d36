// Package health implements the minimal readiness endpoint and the
// shutdown coordination signal from spec §4.9, grounded on
// monitoring_node's health-check shape and on the teacher's use of a
// single shared context for cooperative shutdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// BrokerStatus reports broker connectivity for the health check.
type BrokerStatus interface {
	IsReady() bool
}

// ActiveConnectionsCounter reports the listener's current connection
// count for the health check.
type ActiveConnectionsCounter interface {
	ActiveConnections() int
}

// Status is the minimal health payload from spec §4.9.
type Status struct {
	Status            string `json:"status"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	ActiveConnections int    `json:"active_connections"`
	BrokerConnected   bool   `json:"broker_connected"`
}

// Server serves GET /health. It tracks how long the broker has been
// disconnected and returns 503 once that exceeds the configured grace
// period (spec §4.9: "503 when broker disconnected past grace").
type Server struct {
	started      time.Time
	broker       BrokerStatus
	listener     ActiveConnectionsCounter
	grace        time.Duration

	disconnectedSince atomic.Int64 // unix nano; 0 means currently connected
}

// New creates a Server. broker may be nil when data_transfer_mode is
// LOGS, in which case the broker is always reported connected.
func New(broker BrokerStatus, listener ActiveConnectionsCounter, grace time.Duration) *Server {
	return &Server{started: time.Now(), broker: broker, listener: listener, grace: grace}
}

func (s *Server) brokerConnected() bool {
	if s.broker == nil {
		return true
	}
	return s.broker.IsReady()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	connected := s.brokerConnected()
	now := time.Now()

	var pastGrace bool
	if connected {
		s.disconnectedSince.Store(0)
	} else {
		since := s.disconnectedSince.Load()
		if since == 0 {
			s.disconnectedSince.Store(now.UnixNano())
		} else if now.Sub(time.Unix(0, since)) > s.grace {
			pastGrace = true
		}
	}

	active := 0
	if s.listener != nil {
		active = s.listener.ActiveConnections()
	}

	status := Status{
		Status:            "ok",
		UptimeSeconds:      int64(now.Sub(s.started).Seconds()),
		ActiveConnections: active,
		BrokerConnected:   connected,
	}

	w.Header().Set("Content-Type", "application/json")
	if pastGrace {
		status.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// ListenAndServe starts the health HTTP server on addr, shutting down
// cleanly when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handle)

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
