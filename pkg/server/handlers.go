package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/dispatch"
	"github.com/jingkaihe/switchboard/pkg/engine"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/plan"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/registry"
	"github.com/jingkaihe/switchboard/pkg/version"
)

// TaskRequest is the body of match and dispatch.
type TaskRequest struct {
	Task string `json:"task"`
}

// RunRequest is the body of a plan run.
type RunRequest struct {
	FollowHandoffs bool `json:"follow_handoffs"`
}

func decodeTask(r *http.Request) (string, error) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.Wrap(err, "invalid request body")
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return "", errors.New("task is required")
	}
	return task, nil
}

// handleListAgents handles GET /api/agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.engine.Holder().Current().AllAgents()
	out := make([]AgentSummary, len(agents))
	for i, a := range agents {
		out[i] = NewAgentSummary(a)
	}
	writeJSON(r.Context(), w, http.StatusOK, out)
}

// handleGetAgent handles GET /api/agents/{name}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	agent, err := s.engine.Holder().Current().Lookup(name)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "not_found", "agent not found", err, nil)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, NewAgentView(agent))
}

// handleMatch handles POST /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	task, err := decodeTask(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "bad_request", "invalid match request", err, nil)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, NewCandidateViews(s.engine.Match(task)))
}

// handleDispatch handles POST /api/dispatch
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	task, err := decodeTask(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid dispatch request", err, nil)
		return
	}

	p, err := s.engine.Dispatch(ctx, task)
	if err != nil {
		var ambiguous *dispatch.AmbiguousError
		switch {
		case errors.As(err, &ambiguous):
			writeError(ctx, w, http.StatusConflict, "ambiguous_match", "task matches several agents equally", nil,
				NewCandidateViews(ambiguous.Candidates))
		case errors.Is(err, dispatch.ErrNoMatch):
			writeError(ctx, w, http.StatusNotFound, "no_match", "no agent matches the task", nil, nil)
		default:
			writeError(ctx, w, http.StatusInternalServerError, "internal", "dispatch failed", err, nil)
		}
		return
	}

	if err := s.store.Save(ctx, p); err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "internal", "failed to save plan", err, nil)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, p)
}

// handleListPlans handles GET /api/plans
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := planstore.ListOptions{
		Agent:    query.Get("agent"),
		Outcome:  plan.OutcomeKind(query.Get("outcome")),
		ParentID: query.Get("parent_id"),
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "bad_request", "invalid limit", nil, nil)
			return
		}
		opts.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "bad_request", "invalid offset", nil, nil)
			return
		}
		opts.Offset = offset
	}

	plans, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "internal", "failed to list plans", err, nil)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, plans)
}

// handleGetPlan handles GET /api/plans/{id}
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPlan(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, p)
}

// handleRunPlan handles POST /api/plans/{id}/run. The request blocks until
// the plan, and any followed handoffs, reach a terminal outcome.
func (s *Server) handleRunPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid run request", err, nil)
			return
		}
	}

	p, ok := s.loadPlan(w, r)
	if !ok {
		return
	}
	if p.Done() {
		writeError(ctx, w, http.StatusConflict, "plan_finished", "plan already finished as "+p.Outcome.String(), nil, p.Outcome)
		return
	}

	if _, busy := s.running.LoadOrStore(p.ID, struct{}{}); busy {
		writeError(ctx, w, http.StatusConflict, "plan_running", "plan is already running", nil, nil)
		return
	}
	defer s.running.Delete(p.ID)

	ctx = logger.WithFields(ctx, map[string]any{"plan_id": p.ID})
	result := s.engine.Run(ctx, p, engine.RunOptions{
		FollowHandoffs: req.FollowHandoffs,
		OnPlan: func(done *plan.ExecutionPlan) {
			if err := s.store.Save(ctx, done); err != nil {
				logger.G(ctx).WithError(err).WithField("plan_id", done.ID).Error("failed to save plan")
			}
		},
	})
	writeJSON(ctx, w, http.StatusOK, NewRunView(result))
}

// handleGetRegistry handles GET /api/registry
func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	view := NewRegistryView(s.engine.Holder().Current())
	history, err := s.store.Registries(r.Context(), 20)
	if err != nil {
		logger.G(r.Context()).WithError(err).Warn("failed to read registry history")
	}
	view.History = history
	writeJSON(r.Context(), w, http.StatusOK, view)
}

// handleReloadRegistry handles POST /api/registry/reload
func (s *Server) handleReloadRegistry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reg, err := s.engine.Reload(ctx)
	if err != nil {
		var regErr *registry.RegistryError
		if errors.As(err, &regErr) {
			problems := make([]string, len(regErr.Problems()))
			for i, p := range regErr.Problems() {
				problems[i] = p.Error()
			}
			writeError(ctx, w, http.StatusUnprocessableEntity, "invalid_registry", "registry rejected, keeping current", nil, problems)
			return
		}
		writeError(ctx, w, http.StatusInternalServerError, "internal", "registry reload failed", err, nil)
		return
	}
	writeJSON(ctx, w, http.StatusOK, NewRegistryView(reg))
}

func (s *Server) loadPlan(w http.ResponseWriter, r *http.Request) (*plan.ExecutionPlan, bool) {
	id := mux.Vars(r)["id"]
	p, err := s.store.Get(r.Context(), id)
	if errors.Is(err, planstore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "not_found", "plan not found", nil, nil)
		return nil, false
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "internal", "failed to load plan", err, nil)
		return nil, false
	}
	return p, true
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, version.Get())
}
