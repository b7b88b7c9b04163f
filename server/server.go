// Package server exposes the workflow over HTTP: the chat turn endpoint,
// the approval decision endpoints, and read-only introspection of
// sessions, checkpoints, and pending approvals.
//
// The server is single-threaded per session: a per-session mutex is held
// for the whole duration of a turn or a resume. Different sessions run in
// parallel on their request goroutines.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/bankflow/approval"
	"github.com/dshills/bankflow/banking"
	"github.com/dshills/bankflow/session"
)

// Version is reported by the health endpoint.
const Version = "2.0"

// defaultUser owns sessions created without a user_id.
const defaultUser = "default_user"

// Server holds the handler dependencies.
type Server struct {
	workflow  *banking.Workflow
	sessions  session.Store
	approvals approval.Store

	// dedup is the window within which a repeated identical user message
	// replays the stored response instead of executing the graph.
	dedup time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Server. dedupWindow <= 0 takes the 60s default.
func New(wf *banking.Workflow, sessions session.Store, approvals approval.Store, dedupWindow time.Duration) *Server {
	if dedupWindow <= 0 {
		dedupWindow = time.Minute
	}
	return &Server{
		workflow:  wf,
		sessions:  sessions,
		approvals: approvals,
		dedup:     dedupWindow,
		locks:     map[string]*sync.Mutex{},
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/chat", s.handleChat)
	r.Post("/workflow/{sessionID}/approve", s.handleApprove)
	r.Get("/workflow/{sessionID}/status", s.handleStatus)
	r.Get("/workflow/{sessionID}/checkpoints", s.handleCheckpoints)
	r.Delete("/workflow/{sessionID}", s.handleDelete)
	r.Get("/approvals/pending", s.handlePendingApprovals)
	r.Get("/sessions", s.handleSessions)

	return r
}

// lock returns the session's mutex, creating it on first use. Lock
// entries are never removed; a session's lock outlives its record.
func (s *Server) lock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "bankflow",
		"version": Version,
		"features": []string{
			"checkpointing",
			"human-in-the-loop",
			"session-management",
			"workflow-resume",
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw replays a stored envelope verbatim.
func writeRaw(w http.ResponseWriter, code int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
