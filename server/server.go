package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/task"
)

// DefaultHeartbeatInterval is how often an idle SSE stream sends a comment
// so intermediaries keep the connection open.
const DefaultHeartbeatInterval = 5 * time.Second

// Options configure the HTTP surface.
type Options struct {
	HeartbeatInterval time.Duration
	Logger            logging.Logger
}

// Server routes HTTP requests to the task registry.
type Server struct {
	registry  *task.Registry
	heartbeat time.Duration
	logger    logging.Logger
	mux       *http.ServeMux
}

// New builds the HTTP handler around the registry.
func New(registry *task.Registry, optFns ...func(o *Options)) *Server {
	opts := Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		Logger:            logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		registry:  registry,
		heartbeat: opts.HeartbeatInterval,
		logger:    opts.Logger,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /api/tasks/{id}/events", s.handleTaskEvents)
	s.mux.HandleFunc("POST /api/tasks/{id}/terminate", s.handleTerminateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}/terminal", s.handleTerminal)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	taskID, err := s.registry.Create(r.Context(), req)
	if err != nil {
		s.logger.Error("server.task.create_failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// handleTaskEvents streams the task history, then live events, as SSE data
// lines. The stream ends once the task status is terminal; idle periods are
// bridged with comment heartbeats.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	events, err := s.registry.Subscribe(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sse := newSSEWriter(w)
	if sse == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.SendData(ev); err != nil {
				s.logger.Warn("server.sse.send_failed", "task", taskID, "error", err.Error())
				return
			}
		case <-heartbeat.C:
			sse.SendComment("heartbeat")
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleTerminateTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	if err := s.registry.Terminate(taskID); err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "terminating"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
