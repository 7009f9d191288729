// Package api serves the daemon's read-only HTTP surface: a live
// Server-Sent Events stream of bus events and a JSON status snapshot,
// grounded on the teacher's api server but built on net/http directly
// since this daemon's CLI/HTTP stack doesn't carry huma.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/version"
)

// StatusProvider supplies the fields the /status endpoint reports; the
// manager implements it without this package importing manager (which
// would create a cycle).
type StatusProvider interface {
	ClientCount() int
}

// Server exposes /events (SSE) and /status (JSON) over HTTP.
type Server struct {
	bus    *events.Bus
	status StatusProvider
	log    *slog.Logger
}

// New creates an api.Server. status may be nil before the manager has
// finished constructing the RFB server; the /status handler reports zero
// values in that case.
func New(bus *events.Bus, status StatusProvider) *Server {
	return &Server{bus: bus, status: status, log: logging.GetLogger("api")}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/logs", s.handleLogs)
	return mux
}

// Serve runs the API HTTP server on addr until ctx is canceled, mirroring
// internal/metrics.Serve's shutdown handshake.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", "error", err)
			return err
		}
		return nil
	}
}

type statusResponse struct {
	Version     string `json:"version"`
	ClientCount int    `json:"client_count"`
	ServerTime  string `json:"server_time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.status != nil {
		clients = s.status.ClientCount()
	}
	resp := statusResponse{
		Version:     version.String(),
		ClientCount: clients,
		ServerTime:  time.Now().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	buf := logging.GetBuffer()
	w.Header().Set("Content-Type", "application/json")
	if buf == nil {
		json.NewEncoder(w).Encode([]logging.LogEntry{})
		return
	}
	json.NewEncoder(w).Encode(buf.ReadAll())
}
