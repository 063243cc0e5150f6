// Package server exposes the task queue over HTTP for external planners and
// review UIs. The API is intentionally thin; all lifecycle rules live in the
// queue layer.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/joss/converge/internal/logging"
	"github.com/joss/converge/internal/metrics"
	"github.com/joss/converge/internal/queue"
	"github.com/joss/converge/internal/task"
)

// Server provides the HTTP API over a task queue.
type Server struct {
	queue *queue.Queue
	mux   *http.ServeMux
	addr  string
	log   *logging.Logger
}

func New(q *queue.Queue, addr string) *Server {
	s := &Server{
		queue: q,
		mux:   http.NewServeMux(),
		addr:  addr,
		log:   logging.New("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Global().Handler())

	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/resolve", s.handleResolveTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancelTask)

	s.mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/projects", s.handleListProjects)
	s.mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("PUT /api/projects/{id}/preferences", s.handleUpdatePreferences)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CreateTaskRequest is the body for POST /api/tasks. Source and
// IdempotencyKey make ingestion from external systems idempotent: replays
// with the same pair return the existing task.
type CreateTaskRequest struct {
	Goal               string            `json:"goal"`
	Repos              []string          `json:"repos"`
	ProjectID          string            `json:"project_id,omitempty"`
	MaxRounds          int               `json:"max_rounds,omitempty"`
	AgentProvider      string            `json:"agent_provider,omitempty"`
	CustomInstructions string            `json:"custom_instructions,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Source             string            `json:"source,omitempty"`
	IdempotencyKey     string            `json:"idempotency_key,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	t := task.New(req.Goal, req.Repos)
	t.ProjectID = req.ProjectID
	t.AgentProvider = req.AgentProvider
	t.CustomInstructions = req.CustomInstructions
	t.Metadata = req.Metadata
	if req.MaxRounds > 0 {
		t.MaxRounds = req.MaxRounds
	}
	if req.ProjectID != "" {
		project, err := s.queue.GetProject(r.Context(), req.ProjectID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		project.ApplyDefaults(t)
	}

	if req.Source != "" && req.IdempotencyKey != "" {
		existing, created, err := s.queue.EnqueueWithDedupe(r.Context(), t, req.Source, req.IdempotencyKey)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if created {
			metrics.Global().TasksEnqueued.Add(1)
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(existing)
		return
	}

	id, err := s.queue.Enqueue(r.Context(), t)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	metrics.Global().TasksEnqueued.Add(1)
	created, err := s.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := task.Status(r.URL.Query().Get("status"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := s.queue.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	json.NewEncoder(w).Encode(tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	json.NewEncoder(w).Encode(t)
}

// ResolveRequest carries answers keyed by question ID.
type ResolveRequest struct {
	Resolution map[string]any `json:"resolution"`
}

func (s *Server) handleResolveTask(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Resolution) == 0 {
		writeError(w, http.StatusBadRequest, task.NewValidationError("resolution", "must not be empty"))
		return
	}

	t, err := s.queue.Resolve(r.Context(), r.PathValue("id"), req.Resolution)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	json.NewEncoder(w).Encode(t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	t, err := s.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(t)
}

// CreateProjectRequest is the body for POST /api/projects.
type CreateProjectRequest struct {
	Name        string            `json:"name"`
	Preferences *task.Preferences `json:"preferences,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, task.NewValidationError("name", "must not be empty"))
		return
	}

	project := task.NewProject(req.Name)
	if req.Preferences != nil {
		if err := req.Preferences.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		project.Preferences = *req.Preferences
	}
	if err := s.queue.CreateProject(r.Context(), project); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.queue.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if projects == nil {
		projects = []*task.Project{}
	}
	json.NewEncoder(w).Encode(projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.queue.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	json.NewEncoder(w).Encode(project)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs task.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := prefs.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := r.PathValue("id")
	if err := s.queue.UpdateProjectPreferences(r.Context(), id, prefs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	project, err := s.queue.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(project)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusFor maps queue errors to HTTP codes. Invalid transitions are
// conflicts, not client mistakes: the task moved on.
func statusFor(err error) int {
	switch {
	case task.IsNotFound(err):
		return http.StatusNotFound
	case task.IsValidation(err):
		return http.StatusBadRequest
	case task.IsInvalidTransition(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// JSON sets the response content type.
func JSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// RequestID attaches a request ID to the context and response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// Handler returns the mux wrapped in the standard middleware.
func (s *Server) Handler() http.Handler {
	return RequestID(JSON(s.mux))
}

// Serve runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server_started", map[string]any{"addr": s.addr})
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
