// Copyright 2025 James Ross
// Package adminapi is a read-only HTTP surface over Queue/Batch stats for
// operators: no new queue mutation endpoints, since diagnostics and
// control are distinct concerns.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/jamesross/durable-jobqueue/internal/batch"
	"github.com/jamesross/durable-jobqueue/internal/queue"
	"github.com/jamesross/durable-jobqueue/internal/registry"
	"github.com/jamesross/durable-jobqueue/internal/store"
)

// Server exposes GET /health, /api/v1/stats, /api/v1/jobs/active,
// /api/v1/batches/active, /api/v1/types.
type Server struct {
	q    *queue.Service
	b    *batch.Manager
	reg  *registry.Registry
	log  *zap.Logger
	http *http.Server
}

func New(addr string, q *queue.Service, b *batch.Manager, reg *registry.Registry, log *zap.Logger) *Server {
	s := &Server{q: q, b: b, reg: reg, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/jobs/active", s.handleActiveJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/batches/active", s.handleActiveBatches).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/types", s.handleTypes).Methods(http.MethodGet)
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin api server error", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.q.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	var types []string
	if q := r.URL.Query().Get("types"); q != "" {
		types = strings.Split(q, ",")
	}
	jobs, err := s.q.GetActiveJobs(r.Context(), types)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toJobViews(jobs))
}

func (s *Server) handleActiveBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.b.GetActiveBatches(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleTypes lists registered handler types, optionally fuzzy-filtered
// by the "q" query param, for an operator narrowing a large registry.
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	types := s.reg.ListTypes()
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, types)
		return
	}
	matches := fuzzy.RankFindFold(q, types)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Target)
	}
	writeJSON(w, http.StatusOK, out)
}

// jobView is a JSON-friendly projection of store.Job for the admin API.
// It carries the scheduling and status fields only; the job's data,
// metadata and result are not included.
type jobView struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Status       store.Status    `json:"status"`
	Priority     int             `json:"priority"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	Source       string          `json:"source,omitempty"`
	CreatedAt    int64           `json:"createdAt"`
	ScheduledFor int64           `json:"scheduledFor"`
}

func toJobViews(jobs []store.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView{
			ID: j.ID, Type: j.Type, Status: j.Status, Priority: j.Priority,
			RetryCount: j.RetryCount, MaxRetries: j.MaxRetries, Source: j.Source,
			CreatedAt: j.CreatedAt, ScheduledFor: j.ScheduledFor,
		})
	}
	return out
}
