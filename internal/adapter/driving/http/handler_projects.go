package httphandler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/snapgate/internal/application"
)

// ListProjects returns the projects of the team named by ?team, or all.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context(), r.URL.Query().Get("team"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list projects")
		return
	}

	resp := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RegisterProject links a new project to the remote service.
func (h *Handler) RegisterProject(w http.ResponseWriter, r *http.Request) {
	var req RegisterProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.projects.Register(r.Context(), application.RegisterProjectInput{
		TeamID:          req.TeamID,
		Name:            req.Name,
		Description:     req.Description,
		RemoteProjectID: req.RemoteProjectID,
		RemoteBaseURL:   req.RemoteBaseURL,
		Branch:          req.Branch,
		Token:           req.Token,
		WebhookSecret:   req.WebhookSecret,
		GitHubRepo:      req.GitHubRepo,
		Config:          req.Config,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to register project")
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(*p))
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.Get(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get project")
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(*p))
}

// UpdateProject applies a partial update.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.projects.Update(r.Context(), chi.URLParam(r, "projectID"), application.UpdateProjectInput{
		Name:            req.Name,
		Description:     req.Description,
		RemoteProjectID: req.RemoteProjectID,
		RemoteBaseURL:   req.RemoteBaseURL,
		Branch:          req.Branch,
		Token:           req.Token,
		WebhookSecret:   req.WebhookSecret,
		GitHubRepo:      req.GitHubRepo,
		Config:          req.Config,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to update project")
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(*p))
}

// DeleteProject removes a project and everything recorded for it.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Delete(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		h.writeServiceError(w, err, "failed to delete project")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListBaselines returns a project's baselines, newest first.
func (h *Handler) ListBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := h.baselines.ListBaselines(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list baselines")
		return
	}

	resp := make([]BaselineResponse, 0, len(baselines))
	for _, b := range baselines {
		resp = append(resp, toBaselineResponse(b))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateBaseline snapshots a completed run.
func (h *Handler) CreateBaseline(w http.ResponseWriter, r *http.Request) {
	var req CreateBaselineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "runId is required")
		return
	}

	b, err := h.baselines.CreateBaseline(r.Context(), chi.URLParam(r, "projectID"), req.RunID, req.Name, actorFrom(r, req.Actor))
	if err != nil {
		h.writeServiceError(w, err, "failed to create baseline")
		return
	}

	writeJSON(w, http.StatusCreated, toBaselineResponse(*b))
}

// ListWebhookEvents returns the audit log of a project. ?days bounds the
// lookback; without it the configured retention applies.
func (h *Handler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	var lookback time.Duration
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		lookback = time.Duration(days) * 24 * time.Hour
	}

	events, err := h.webhooks.ListEvents(r.Context(), chi.URLParam(r, "projectID"), lookback)
	if err != nil {
		h.writeServiceError(w, err, "failed to list webhook events")
		return
	}

	resp := make([]WebhookEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toWebhookEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}
