// Package web hosts the trigger endpoint: a thin synchronous wrapper around
// one full availability run.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/example/courtwatch/internal/auth"
	"github.com/example/courtwatch/internal/metrics"
	"github.com/example/courtwatch/internal/watcher"
)

// Runner runs one availability check. Satisfied by *watcher.Watcher.
type Runner interface {
	RunOnce(ctx context.Context) watcher.RunResult
}

type Server struct {
	Auth    *auth.Store
	Runner  Runner
	Metrics *metrics.Collector

	running atomic.Bool
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	run := s.Auth.RequireAuth(http.HandlerFunc(s.handleRun))
	mux.Handle("/run", run)
	// Path kept for existing cron configurations.
	mux.Handle("/run-scraper", run)

	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.Auth.Authenticate(req.Username, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := s.Auth.SetSession(w, r); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleRun executes one run synchronously and reports the invocation's
// outcome. Runs are single-flight: a trigger while one is active gets a 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "error",
			"error":  "a run is already in progress",
		})
		return
	}
	defer s.running.Store(false)

	slog.Info("received trigger request", "remote", r.RemoteAddr)
	res := s.Runner.RunOnce(r.Context())
	if !res.Success {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  res.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"output": res.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
