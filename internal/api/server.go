package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"taskmaster/internal/domain"
	"taskmaster/internal/scheduler"
)

type Server struct {
	r      *chi.Mux
	engine *scheduler.Engine
}

func NewServer(engine *scheduler.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, engine: engine}

	r.Get("/health", s.health)
	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Put("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)
	r.Get("/api/executed-tasks", s.listLogs)
	r.Delete("/api/executed-tasks/{id}", s.deleteLog)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Health())
}

type taskReq struct {
	Name           string     `json:"name"`
	Kind           string     `json:"kind"`
	CronExpression string     `json:"cron_expression"`
	ScheduledTime  *time.Time `json:"scheduled_time"`
}

func (r taskReq) definition() (scheduler.TaskDefinition, error) {
	if r.Kind == "" {
		return scheduler.TaskDefinition{}, &domain.ValidationError{Field: "kind", Reason: "is required"}
	}
	kind, err := domain.ParseKind(r.Kind)
	if err != nil {
		return scheduler.TaskDefinition{}, err
	}
	def := scheduler.TaskDefinition{
		Name:           r.Name,
		Kind:           kind,
		CronExpression: r.CronExpression,
	}
	if r.ScheduledTime != nil {
		def.ScheduledTime = *r.ScheduledTime
	}
	return def, nil
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def, err := req.definition()
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.engine.Create(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def, err := req.definition()
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.engine.Update(r.Context(), chi.URLParam(r, "id"), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Logs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) deleteLog(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteLog(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		vErr *domain.ValidationError
		xErr *domain.InvalidExpressionError
		nErr *domain.NotFoundError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &xErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &nErr):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
