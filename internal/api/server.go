// Package api serves the HTTP status surface: a healthcheck, the live event
// registry and the recent occurrence history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/internal/history"
	"github.com/dragonrift/encounter/internal/orchestrator"
)

const defaultHistoryLimit = 20

// Dependencies holds all dependencies needed by the API server.
type Dependencies struct {
	Cfg      config.APIConfig
	Orc      *orchestrator.Orchestrator
	Recorder *history.Recorder // optional
	Logger   *slog.Logger
}

// Server is the read-only HTTP status endpoint.
type Server struct {
	deps    Dependencies
	httpSrv *http.Server
}

// EventStatus is one row of the status response.
type EventStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Running      bool       `json:"running"`
	Joinable     bool       `json:"joinable"`
	Stage        string     `json:"stage"`
	Participants int        `json:"participants"`
	Spectators   int        `json:"spectators"`
	NextStart    *time.Time `json:"nextStart,omitempty"`
}

// NewServer creates the API server for the configured listen address.
func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)
	mux.HandleFunc("/api/v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("/api/v1/history", s.auth(s.handleHistory))

	s.httpSrv = &http.Server{
		Addr:         deps.Cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.deps.Logger.Info("api server listening", "addr", s.deps.Cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// auth gates a handler behind the configured API key. An empty key disables
// the check.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Cfg.APIKey != "" && r.Header.Get("X-Api-Key") != s.deps.Cfg.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := s.deps.Orc.Events()
	out := make([]EventStatus, 0, len(events))
	for _, ev := range events {
		def := ev.Def()
		row := EventStatus{
			ID:           string(def.ID),
			Name:         def.Name,
			Enabled:      def.Enabled,
			Running:      ev.State().Running(),
			Joinable:     ev.State().Joinable(),
			Stage:        ev.State().Stage().String(),
			Participants: ev.State().Participants.Len(),
			Spectators:   ev.State().Spectators.Len(),
		}
		if run := ev.Run(); run != nil {
			start := run.StartAt
			row.NextStart = &start
		}
		out = append(out, row)
	}

	s.writeJSON(w, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.deps.Recorder.Recent(limit)
	if err != nil {
		s.deps.Logger.Error("history query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error("response encode failed", "error", err)
	}
}
