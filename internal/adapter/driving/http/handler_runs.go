package httphandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/pagination"
)

// TriggerRun starts a run for the project and returns without waiting.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := h.runs.Trigger(r.Context(), application.TriggerInput{
		ProjectID: chi.URLParam(r, "projectID"),
		Actor:     actorFrom(r, req.Actor),
		Branch:    req.Branch,
		Commit:    req.Commit,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to trigger run")
		return
	}

	writeJSON(w, http.StatusCreated, toRunResponse(*run))
}

// ListRuns returns a page of the project's runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromQuery(r.URL.Query())

	runs, total, err := h.runs.ListRuns(r.Context(), chi.URLParam(r, "projectID"), page.Limit, page.Offset)
	if err != nil {
		h.writeServiceError(w, err, "failed to list runs")
		return
	}

	data := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		data = append(data, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Data:       data,
		Pagination: pagination.NewMeta(page, total),
	})
}

// GetRun returns a single run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// ListResults returns the results of a run.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.results.ListResults(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list results")
		return
	}

	resp := make([]ResultResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, toResultResponse(res))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetResult returns a single result.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.results.GetResult(r.Context(), chi.URLParam(r, "resultID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get result")
		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(*res))
}

// ApproveResult accepts a screenshot change.
func (h *Handler) ApproveResult(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionApproved)
}

// RejectResult rejects a screenshot change.
func (h *Handler) RejectResult(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionRejected)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision model.Decision) {
	var req DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "resultID")
	actor := actorFrom(r, req.Actor)

	var (
		res *model.TestResult
		err error
	)
	if decision == model.DecisionApproved {
		res, err = h.results.Approve(r.Context(), id, actor)
	} else {
		res, err = h.results.Reject(r.Context(), id, actor)
	}
	if err != nil {
		h.writeServiceError(w, err, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, toResultResponse(*res))
}
