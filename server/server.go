// Package server exposes the session coordinator over HTTP: start and stop
// playback sessions, inspect coordinator state, and a liveness probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ARIS2333/LLM-TTS/session"
)

// Server is the HTTP control surface in front of a Coordinator.
type Server struct {
	co  *session.Coordinator
	log *slog.Logger
	srv *http.Server
}

// New builds the server on the given port.
func New(port string, co *session.Coordinator, log *slog.Logger) *Server {
	s := &Server{co: co, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then stops the live session and shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down")
		s.co.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

type startRequest struct {
	TextSegments []string `json:"text_segments"`
}

type startResponse struct {
	Status    string `json:"status"`
	SessionID int64  `json:"session_id"`
	State     string `json:"state"`
}

type stopResponse struct {
	Status        string `json:"status"`
	PreviousState string `json:"previous_state"`
	Stopped       bool   `json:"stopped"`
}

type statusResponse struct {
	State         string `json:"state"`
	SessionID     int64  `json:"session_id,omitempty"`
	StopRequested bool   `json:"stop_requested"`
	HasPlayer     bool   `json:"has_player"`
	HasWorker     bool   `json:"has_worker"`
	Error         string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	res, err := s.co.Start(req.TextSegments)
	switch {
	case errors.Is(err, session.ErrNoSegments):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, session.ErrSessionConflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "conflict",
			"error":  err.Error(),
		})
		return
	case err != nil:
		s.log.Error("start failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Status:    "started",
		SessionID: res.SessionID,
		State:     res.State.String(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.co.Stop()
	writeJSON(w, http.StatusOK, stopResponse{
		Status:        "stopped",
		PreviousState: res.PreviousState.String(),
		Stopped:       res.Stopped,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.co.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:         snap.State.String(),
		SessionID:     snap.SessionID,
		StopRequested: snap.StopRequested,
		HasPlayer:     snap.HasPlayer,
		HasWorker:     snap.HasWorker,
		Error:         snap.Cause,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
