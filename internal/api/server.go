// Package api exposes the daemon's HTTP surface for submitting and
// inspecting tasks.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openkoi/openkoi/internal/config"
	"github.com/openkoi/openkoi/internal/logging"
	"github.com/openkoi/openkoi/internal/task"
	"github.com/openkoi/openkoi/internal/taskstore"
)

// Runner is what the API needs from the task daemon.
type Runner interface {
	Submit(ctx context.Context, description, category string, limits task.Limits) (*task.Task, error)
	Cancel(id string) bool
	Running() []string
}

// Store is the read side of task persistence.
type Store interface {
	GetTask(ctx context.Context, id string) (*taskstore.TaskRecord, error)
	ListTasks(ctx context.Context, opts taskstore.ListOptions) ([]*taskstore.TaskRecord, error)
	ListIterations(ctx context.Context, taskID string) ([]*taskstore.IterationRecord, error)
	ListFindings(ctx context.Context, taskID string) ([]task.Finding, error)
}

// Server is the HTTP API server.
type Server struct {
	runner   Runner
	store    Store
	defaults config.IterationConfig
	log      *logging.Logger
	mux      *http.ServeMux
}

// NewServer wires the routes.
func NewServer(runner Runner, store Store, defaults config.IterationConfig, log *logging.Logger) *Server {
	s := &Server{
		runner:   runner,
		store:    store,
		defaults: defaults,
		log:      log.WithComponent("api"),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/v1/tasks", s.submitTask)
	s.mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.cancelTask)
	s.mux.HandleFunc("GET /api/v1/health", s.health)
}

// Handler returns the route table, usable directly in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// submitRequest is the POST /api/v1/tasks body. Omitted limits fall
// back to the configured defaults. The threshold is a pointer because
// an explicit 0 is a valid request.
type submitRequest struct {
	Description      string   `json:"description"`
	Category         string   `json:"category,omitempty"`
	MaxIterations    int      `json:"max_iterations,omitempty"`
	QualityThreshold *float64 `json:"quality_threshold,omitempty"`
	TokenBudget      int      `json:"token_budget,omitempty"`
	TimeBudgetSecs   int      `json:"time_budget_seconds,omitempty"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	limits := task.Limits{
		MaxIterations:    req.MaxIterations,
		QualityThreshold: s.defaults.QualityThreshold,
		TokenBudget:      req.TokenBudget,
		TimeBudget:       s.defaults.Timeout(),
	}
	if limits.MaxIterations == 0 {
		limits.MaxIterations = s.defaults.MaxIterations
	}
	if req.QualityThreshold != nil {
		limits.QualityThreshold = *req.QualityThreshold
	}
	if limits.TokenBudget == 0 {
		limits.TokenBudget = s.defaults.TokenBudget
	}
	if req.TimeBudgetSecs > 0 {
		limits.TimeBudget = time.Duration(req.TimeBudgetSecs) * time.Second
	}
	if err := limits.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.runner.Submit(r.Context(), req.Description, req.Category, limits)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info("task submitted", map[string]interface{}{"task_id": t.ID})
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	opts := taskstore.ListOptions{Status: r.URL.Query().Get("status"), Limit: 100}
	tasks, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*taskstore.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// taskDetail is the GET /api/v1/tasks/{id} response.
type taskDetail struct {
	Task       *taskstore.TaskRecord        `json:"task"`
	Iterations []*taskstore.IterationRecord `json:"iterations"`
	Findings   []task.Finding               `json:"findings"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	iterations, err := s.store.ListIterations(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	findings, err := s.store.ListFindings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskDetail{Task: rec, Iterations: iterations, Findings: findings})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runner.Cancel(id) {
		writeError(w, http.StatusNotFound, "no running task with that id")
		return
	}
	s.log.Info("task cancelled", map[string]interface{}{"task_id": id})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": len(s.runner.Running()),
	})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
