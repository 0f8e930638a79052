// Package gateway serves the HTTP and WebSocket status API of a deployment.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/events"
	"github.com/dohr-michael/karton/internal/gateway/ws"
	"github.com/dohr-michael/karton/internal/heartbeat"
	"github.com/dohr-michael/karton/internal/karton"
)

// Options configures a Server.
type Options struct {
	Bus    *events.Bus
	Broker broker.Broker
	// Tasks enables task submission and lookup; may be nil.
	Tasks           *TaskService
	HeartbeatMaxAge time.Duration
	Host            string
	Port            int
}

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	broker     broker.Broker
	tasks      *TaskService
	maxAge     time.Duration
}

// NewServer creates a new gateway server.
func NewServer(opts Options) *Server {
	var handler ws.TaskHandler
	if opts.Tasks != nil {
		handler = opts.Tasks
	}
	hub := ws.NewHub(opts.Bus, handler)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:    hub,
		bus:    opts.Bus,
		broker: opts.Broker,
		tasks:  opts.Tasks,
		maxAge: opts.HeartbeatMaxAge,
	}
	if s.maxAge <= 0 {
		s.maxAge = 2 * time.Minute
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/binds", s.handleBinds)
	r.Get("/api/metrics", s.handleMetrics)
	r.Get("/api/deadletters", s.handleDeadLetters)

	// API: tasks
	r.Post("/api/tasks", s.handleSendTask)
	r.Get("/api/tasks/{uid}", s.handleGetTask)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("karton gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history := s.bus.History(limit)

	// Format timestamps nicely
	type eventJSON struct {
		ID        string             `json:"id"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

type bindJSON struct {
	Identity     string              `json:"identity"`
	Registration karton.Registration `json:"registration"`
	Status       heartbeat.Status    `json:"status"`
}

func (s *Server) handleBinds(w http.ResponseWriter, r *http.Request) {
	regs, err := karton.Registrations(r.Context(), s.broker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := make([]bindJSON, 0, len(regs))
	for identity, reg := range regs {
		status, _, err := heartbeat.Check(r.Context(), s.broker, identity, s.maxAge)
		if err != nil {
			slog.Warn("heartbeat check", "identity", identity, "error", err)
		}
		result = append(result, bindJSON{Identity: identity, Registration: reg, Status: status})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identity < result[j].Identity })

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := karton.ReadMetrics(r.Context(), s.broker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := make(map[string]map[string]int64, len(metrics))
	for m, counts := range metrics {
		result[string(m)] = counts
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := karton.DeadLetters(r.Context(), s.broker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) handleSendTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task submission not available", http.StatusServiceUnavailable)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	uid, err := s.tasks.Send(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": uid})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task lookup not available", http.StatusServiceUnavailable)
		return
	}

	view, err := s.tasks.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		if errors.Is(err, karton.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
