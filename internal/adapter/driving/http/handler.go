package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// actorHeader names the caller recorded on triggered runs and decisions.
const (
	actorHeader  = "X-Actor"
	defaultActor = "api"
)

// ProjectService is the project registry as used by the API.
type ProjectService interface {
	Register(ctx context.Context, in application.RegisterProjectInput) (*model.Project, error)
	Update(ctx context.Context, id string, in application.UpdateProjectInput) (*model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	List(ctx context.Context, teamID string) ([]model.Project, error)
	Delete(ctx context.Context, id string) error
}

// RunService is the run orchestrator as used by the API.
type RunService interface {
	Trigger(ctx context.Context, in application.TriggerInput) (*model.TestRun, error)
	GetRun(ctx context.Context, id string) (*model.TestRun, error)
	ListRuns(ctx context.Context, projectID string, limit, offset int) ([]model.TestRun, int, error)
}

// ResultService is the result synchronizer as used by the API.
type ResultService interface {
	ListResults(ctx context.Context, runID string) ([]model.TestResult, error)
	GetResult(ctx context.Context, id string) (*model.TestResult, error)
	Approve(ctx context.Context, id, actor string) (*model.TestResult, error)
	Reject(ctx context.Context, id, actor string) (*model.TestResult, error)
}

// WebhookService is the webhook ingestor as used by the API.
type WebhookService interface {
	Ingest(ctx context.Context, d application.WebhookDelivery) (application.WebhookOutcome, error)
	ListEvents(ctx context.Context, projectID string, lookback time.Duration) ([]model.WebhookEvent, error)
}

// BaselineService manages baselines as used by the API.
type BaselineService interface {
	CreateBaseline(ctx context.Context, projectID, runID, name, actor string) (*model.Baseline, error)
	ListBaselines(ctx context.Context, projectID string) ([]model.Baseline, error)
}

// Services groups the application services behind the API.
type Services struct {
	Projects  ProjectService
	Runs      RunService
	Results   ResultService
	Webhooks  WebhookService
	Baselines BaselineService
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	projects  ProjectService
	runs      RunService
	results   ResultService
	webhooks  WebhookService
	baselines BaselineService
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(svc Services, logger *slog.Logger) *Handler {
	return &Handler{
		projects:  svc.Projects,
		runs:      svc.Runs,
		results:   svc.Results,
		webhooks:  svc.Webhooks,
		baselines: svc.Baselines,
		logger:    logger,
	}
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. ws serves the notification channel
// and may be nil.
func NewRouter(h *Handler, ws http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.RegisterProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Put("/", h.UpdateProject)
				r.Delete("/", h.DeleteProject)

				r.Get("/runs", h.ListRuns)
				r.Post("/runs", h.TriggerRun)
				r.Get("/baselines", h.ListBaselines)
				r.Post("/baselines", h.CreateBaseline)
				r.Get("/webhook-events", h.ListWebhookEvents)
			})
		})

		r.Get("/runs/{runID}", h.GetRun)
		r.Get("/runs/{runID}/results", h.ListResults)

		r.Get("/results/{resultID}", h.GetResult)
		r.Post("/results/{resultID}/approve", h.ApproveResult)
		r.Post("/results/{resultID}/reject", h.RejectResult)

		r.Post("/webhooks/visual", h.IngestWebhook)

		if ws != nil {
			r.Method(http.MethodGet, "/ws", ws)
		}
	})

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, r)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody decodes an optional JSON body into v. An empty body is not an
// error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// actorFrom resolves the acting user: the X-Actor header, then the body
// field, then "api".
func actorFrom(r *http.Request, bodyActor string) string {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return actor
	}
	if actor := strings.TrimSpace(bodyActor); actor != "" {
		return actor
	}
	return defaultActor
}
