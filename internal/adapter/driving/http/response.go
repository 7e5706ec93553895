package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
	"github.com/ericfisherdev/snapgate/internal/pagination"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an application error to a status code. Unclassified
// errors are logged with msg and answered with a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, application.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, application.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "test run not found")
	case errors.Is(err, application.ErrResultNotFound):
		writeError(w, http.StatusNotFound, "test result not found")
	case errors.Is(err, application.ErrRemoteProjectNotFound):
		writeError(w, http.StatusNotFound, "remote project not found")
	case errors.Is(err, application.ErrMissingCredentials):
		writeError(w, http.StatusConflict, "project has no remote credentials")
	case errors.Is(err, application.ErrRunNotCompleted):
		writeError(w, http.StatusConflict, "test run is not completed")
	case errors.Is(err, application.ErrInvalidWebhookSignature):
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
	case errors.Is(err, application.ErrRemoteSyncFailed):
		h.logger.Warn(msg, "error", err)
		writeError(w, http.StatusBadGateway, "remote service rejected the change")
	case errors.Is(err, application.ErrExternalServiceUnreachable):
		h.logger.Warn(msg, "error", err)
		writeError(w, http.StatusBadGateway, "visual-diff service unreachable")
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusServiceUnavailable, "secret storage is not configured")
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// RegisterProjectRequest is the JSON body of POST /api/v1/projects.
type RegisterProjectRequest struct {
	TeamID          string              `json:"teamId"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	RemoteProjectID string              `json:"remoteProjectId"`
	RemoteBaseURL   string              `json:"remoteBaseUrl"`
	Branch          string              `json:"branch"`
	Token           string              `json:"token"`
	WebhookSecret   string              `json:"webhookSecret"`
	GitHubRepo      string              `json:"githubRepo"`
	Config          model.ProjectConfig `json:"config"`
}

// UpdateProjectRequest is the JSON body of PUT /api/v1/projects/{id}.
// Omitted fields are left unchanged.
type UpdateProjectRequest struct {
	Name            *string              `json:"name"`
	Description     *string              `json:"description"`
	RemoteProjectID *string              `json:"remoteProjectId"`
	RemoteBaseURL   *string              `json:"remoteBaseUrl"`
	Branch          *string              `json:"branch"`
	Token           *string              `json:"token"`
	WebhookSecret   *string              `json:"webhookSecret"`
	GitHubRepo      *string              `json:"githubRepo"`
	Config          *model.ProjectConfig `json:"config"`
}

// TriggerRunRequest is the optional JSON body of POST .../runs.
type TriggerRunRequest struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	Actor  string `json:"actor"`
}

// DecisionRequest is the optional JSON body of approve and reject calls.
type DecisionRequest struct {
	Actor string `json:"actor"`
}

// CreateBaselineRequest is the JSON body of POST .../baselines.
type CreateBaselineRequest struct {
	RunID string `json:"runId"`
	Name  string `json:"name"`
	Actor string `json:"actor"`
}

// ProjectResponse is the JSON representation of a project. Credentials are
// reduced to presence flags.
type ProjectResponse struct {
	ID               string              `json:"id"`
	TeamID           string              `json:"teamId"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	DescriptionHTML  string              `json:"descriptionHtml"`
	RemoteProjectID  string              `json:"remoteProjectId"`
	RemoteBaseURL    string              `json:"remoteBaseUrl"`
	Branch           string              `json:"branch"`
	GitHubRepo       string              `json:"githubRepo,omitempty"`
	HasToken         bool                `json:"hasToken"`
	HasWebhookSecret bool                `json:"hasWebhookSecret"`
	Config           model.ProjectConfig `json:"config"`
	CreatedAt        string              `json:"createdAt"`
	UpdatedAt        string              `json:"updatedAt"`
}

// RunResponse is the JSON representation of a test run.
type RunResponse struct {
	ID            string                `json:"id"`
	ProjectID     string                `json:"projectId"`
	RemoteBuildID string                `json:"remoteBuildId"`
	Status        model.RunStatus       `json:"status"`
	Branch        string                `json:"branch"`
	Commit        string                `json:"commit,omitempty"`
	TriggeredBy   string                `json:"triggeredBy"`
	FailureReason string                `json:"failureReason,omitempty"`
	StartedAt     string                `json:"startedAt"`
	CompletedAt   *string               `json:"completedAt"`
	Summary       *model.ResultsSummary `json:"summary"`
}

// RunListResponse is a page of runs.
type RunListResponse struct {
	Data       []RunResponse   `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}

// ResultResponse is the JSON representation of a test result.
type ResultResponse struct {
	ID                 string             `json:"id"`
	RunID              string             `json:"runId"`
	RemoteScreenshotID string             `json:"remoteScreenshotId"`
	Name               string             `json:"name"`
	Status             model.ResultStatus `json:"status"`
	BaselineURL        string             `json:"baselineUrl"`
	CurrentURL         string             `json:"currentUrl"`
	DiffURL            string             `json:"diffUrl"`
	DiffPercentage     *float64           `json:"diffPercentage"`
	Approved           bool               `json:"approved"`
	Decision           model.Decision     `json:"decision,omitempty"`
	ApprovedBy         string             `json:"approvedBy,omitempty"`
	ApprovedAt         *string            `json:"approvedAt"`
}

// BaselineResponse is the JSON representation of a baseline.
type BaselineResponse struct {
	ID         string               `json:"id"`
	ProjectID  string               `json:"projectId"`
	RunID      string               `json:"runId"`
	Name       string               `json:"name"`
	CreatedBy  string               `json:"createdBy"`
	Summary    model.ResultsSummary `json:"summary"`
	ResultIDs  []string             `json:"resultIds"`
	ArchiveKey string               `json:"archiveKey,omitempty"`
	CreatedAt  string               `json:"createdAt"`
}

// WebhookEventResponse is the JSON representation of an audit log entry.
// Payloads that are valid JSON are embedded as-is, others as a string.
type WebhookEventResponse struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"projectId"`
	EventType  string `json:"eventType"`
	Verified   bool   `json:"verified"`
	ReceivedAt string `json:"receivedAt"`
	Payload    any    `json:"payload"`
}

// WebhookResponse acknowledges an inbound webhook.
type WebhookResponse struct {
	Message   string `json:"message"`
	Processed bool   `json:"processed"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// toProjectResponse converts a domain Project to its JSON representation.
func toProjectResponse(p model.Project) ProjectResponse {
	return ProjectResponse{
		ID:               p.ID,
		TeamID:           p.TeamID,
		Name:             p.Name,
		Description:      p.Description,
		DescriptionHTML:  RenderMarkdown(p.Description),
		RemoteProjectID:  p.RemoteProjectID,
		RemoteBaseURL:    p.RemoteBaseURL,
		Branch:           p.Branch,
		GitHubRepo:       p.GitHubRepo,
		HasToken:         p.HasToken(),
		HasWebhookSecret: p.HasWebhookSecret(),
		Config:           p.Config.Normalized(),
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}
}

// toRunResponse converts a domain TestRun to its JSON representation.
func toRunResponse(run model.TestRun) RunResponse {
	return RunResponse{
		ID:            run.ID,
		ProjectID:     run.ProjectID,
		RemoteBuildID: run.RemoteBuildID,
		Status:        run.Status,
		Branch:        run.Branch,
		Commit:        run.Commit,
		TriggeredBy:   run.TriggeredBy,
		FailureReason: run.FailureReason,
		StartedAt:     formatTime(run.StartedAt),
		CompletedAt:   formatOptionalTime(run.CompletedAt),
		Summary:       run.Summary,
	}
}

// toResultResponse converts a domain TestResult to its JSON representation.
func toResultResponse(res model.TestResult) ResultResponse {
	return ResultResponse{
		ID:                 res.ID,
		RunID:              res.RunID,
		RemoteScreenshotID: res.RemoteScreenshotID,
		Name:               res.Name,
		Status:             res.Status,
		BaselineURL:        res.BaselineURL,
		CurrentURL:         res.CurrentURL,
		DiffURL:            res.DiffURL,
		DiffPercentage:     res.DiffPercentage,
		Approved:           res.Approved,
		Decision:           res.Decision,
		ApprovedBy:         res.ApprovedBy,
		ApprovedAt:         formatOptionalTime(res.ApprovedAt),
	}
}

// toBaselineResponse converts a domain Baseline to its JSON representation.
func toBaselineResponse(b model.Baseline) BaselineResponse {
	ids := b.ResultIDs
	if ids == nil {
		ids = []string{}
	}
	return BaselineResponse{
		ID:         b.ID,
		ProjectID:  b.ProjectID,
		RunID:      b.RunID,
		Name:       b.Name,
		CreatedBy:  b.CreatedBy,
		Summary:    b.Summary,
		ResultIDs:  ids,
		ArchiveKey: b.ArchiveKey,
		CreatedAt:  formatTime(b.CreatedAt),
	}
}

// toWebhookEventResponse converts a domain WebhookEvent to its JSON representation.
func toWebhookEventResponse(e model.WebhookEvent) WebhookEventResponse {
	var payload any = string(e.Payload)
	if json.Valid(e.Payload) {
		payload = json.RawMessage(e.Payload)
	}
	return WebhookEventResponse{
		ID:         e.ID,
		ProjectID:  e.ProjectID,
		EventType:  e.EventType,
		Verified:   e.Verified,
		ReceivedAt: formatTime(e.ReceivedAt),
		Payload:    payload,
	}
}
