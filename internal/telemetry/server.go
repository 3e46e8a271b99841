// Package telemetry exposes the controller over HTTP: a JSON API for the
// CLI and a prometheus scrape endpoint
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotplugd/internal/hotplug"
	"hotplugd/internal/logging"
)

// DefaultListenAddr binds the API to loopback only
const DefaultListenAddr = "127.0.0.1:9470"

const maxBodyBytes = 64 << 10

// Controller is the controller surface the API drives
type Controller interface {
	SnapshotSource
	Counters() map[int]uint64
	Knobs() map[string]string
	Knob(name string) (string, error)
	SetKnob(name, value string) error
	SetKnobs(values map[string]string) error
	SetEnabled(enabled bool) error
	OnDisplayOff()
	OnDisplayOn()
}

// Server serves the API and metrics
type Server struct {
	addr     string
	ctrl     Controller
	logger   *logging.Logger
	registry *prom.Registry
}

// NewServer constructs a server instance with its own metrics registry
func NewServer(addr string, ctrl Controller, logger *logging.Logger) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	registry := prom.NewRegistry()
	registry.MustRegister(
		NewCollector(ctrl),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		addr:     addr,
		ctrl:     ctrl,
		logger:   logger,
		registry: registry,
	}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("GET /api/tunables", s.handleGetTunables)
	mux.HandleFunc("PUT /api/tunables", s.handlePutTunables)
	mux.HandleFunc("GET /api/tunables/{knob}", s.handleGetKnob)
	mux.HandleFunc("PUT /api/tunables/{knob}", s.handlePutKnob)
	mux.HandleFunc("POST /api/enabled", s.handleEnabled)
	mux.HandleFunc("POST /api/display/{state}", s.handleDisplay)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve runs the HTTP server until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("telemetry.started", "Starting telemetry API", map[string]interface{}{
			"listen": s.addr,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("telemetry.stopped", "Telemetry API stopped", nil)
		return nil
	}
}

type countersResponse struct {
	Counters map[int]uint64 `json:"counters"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, countersResponse{Counters: s.ctrl.Counters()})
}

func (s *Server) handleGetTunables(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Knobs())
}

func (s *Server) handlePutTunables(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&values); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := s.ctrl.SetKnobs(values); err != nil {
		s.writeControllerError(w, err, "tunables")
		return
	}
	s.logger.Info("telemetry.tunables.updated", "Tunables updated", map[string]interface{}{
		"count": len(values),
	})
	s.writeJSON(w, http.StatusOK, s.ctrl.Knobs())
}

func (s *Server) handleGetKnob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("knob")
	value, err := s.ctrl.Knob(name)
	if err != nil {
		s.writeControllerError(w, err, name)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{name: value})
}

func (s *Server) handlePutKnob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("knob")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	value := strings.TrimSpace(string(body))
	if err := s.ctrl.SetKnob(name, value); err != nil {
		s.writeControllerError(w, err, name)
		return
	}
	s.logger.Info("telemetry.knob.updated", "Knob updated", map[string]interface{}{
		"knob":  name,
		"value": value,
	})
	current, _ := s.ctrl.Knob(name)
	s.writeJSON(w, http.StatusOK, map[string]string{name: current})
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "expected {\"enabled\": true|false}")
		return
	}
	if err := s.ctrl.SetEnabled(*req.Enabled); err != nil {
		s.writeControllerError(w, err, "enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("state") {
	case "off":
		s.ctrl.OnDisplayOff()
	case "on":
		s.ctrl.OnDisplayOn()
	default:
		s.writeError(w, http.StatusNotFound, "display state must be on or off")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error, subject string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hotplug.ErrUnknownKnob):
		status = http.StatusNotFound
	case errors.Is(err, hotplug.ErrInvalidTunable):
		status = http.StatusBadRequest
	case errors.Is(err, hotplug.ErrAlreadyInState):
		status = http.StatusConflict
	}
	s.logger.Debug("telemetry.request.rejected", "Controller rejected request", map[string]interface{}{
		"subject": subject,
		"status":  status,
		"error":   err.Error(),
	})
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
