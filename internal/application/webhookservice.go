package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Webhook event types dispatched by the ingestor.
const (
	buildEventPrefix        = "build."
	eventScreenshotApproved = "screenshot.approved"
	eventScreenshotRejected = "screenshot.rejected"

	// webhookActor is recorded as the approver of decisions made remotely
	// when the payload names nobody.
	webhookActor = "webhook"

	// maxEventsListed bounds ListEvents.
	maxEventsListed = 500
)

// WebhookConfig tunes webhook ingestion.
type WebhookConfig struct {
	// RequireSignature rejects events for projects without a webhook secret.
	RequireSignature bool
	// Retention is the default lookback of ListEvents.
	Retention time.Duration
}

// WebhookDelivery is one inbound webhook request.
type WebhookDelivery struct {
	Payload   []byte
	Signature string
	EventType string
}

// WebhookOutcome reports whether the event changed local state.
type WebhookOutcome struct {
	Processed bool
}

// webhookPayload is the subset of an event body the ingestor reads.
type webhookPayload struct {
	Event        string `json:"event"`
	ProjectID    string `json:"projectId"`
	BuildID      string `json:"buildId"`
	ScreenshotID string `json:"screenshotId"`
	Actor        string `json:"actor"`
	Build        *struct {
		ID        string `json:"id"`
		ProjectID string `json:"projectId"`
	} `json:"build"`
	Screenshot *struct {
		ID string `json:"id"`
	} `json:"screenshot"`
}

func (p webhookPayload) projectID() string {
	if p.ProjectID != "" {
		return p.ProjectID
	}
	if p.Build != nil {
		return p.Build.ProjectID
	}
	return ""
}

func (p webhookPayload) buildID() string {
	if p.BuildID != "" {
		return p.BuildID
	}
	if p.Build != nil {
		return p.Build.ID
	}
	return ""
}

func (p webhookPayload) screenshotID() string {
	if p.ScreenshotID != "" {
		return p.ScreenshotID
	}
	if p.Screenshot != nil {
		return p.Screenshot.ID
	}
	return ""
}

// WebhookService authenticates inbound webhooks, records them in the audit
// log and dispatches them to the run and result services.
type WebhookService struct {
	projects driven.ProjectStore
	runStore driven.RunStore
	events   driven.WebhookEventStore
	runs     *RunService
	results  *ResultService
	cfg      WebhookConfig
	now      func() time.Time
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(
	projects driven.ProjectStore,
	runStore driven.RunStore,
	events driven.WebhookEventStore,
	runs *RunService,
	results *ResultService,
	cfg WebhookConfig,
) *WebhookService {
	return &WebhookService{
		projects: projects,
		runStore: runStore,
		events:   events,
		runs:     runs,
		results:  results,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Ingest handles one delivery. Unresolvable events are acknowledged
// unprocessed. A bad signature is recorded and returned as
// ErrInvalidWebhookSignature. Processing failures are logged and
// acknowledged unprocessed.
//
// A project with a webhook secret also rejects deliveries that carry no
// signature at all. This is stricter than verifying only the signatures
// that are present, which the upstream service's reference receiver does.
func (s *WebhookService) Ingest(ctx context.Context, d WebhookDelivery) (WebhookOutcome, error) {
	var payload webhookPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return WebhookOutcome{}, invalidInput("webhook payload is not valid JSON")
	}

	eventType := strings.TrimSpace(d.EventType)
	if eventType == "" {
		eventType = payload.Event
	}

	project, err := s.resolveProject(ctx, payload)
	if err != nil {
		return WebhookOutcome{}, err
	}
	if project == nil {
		slog.Info("webhook ignored: no matching project",
			"event", eventType,
			"remote_project_id", payload.projectID(),
			"remote_build_id", payload.buildID(),
		)
		return WebhookOutcome{}, nil
	}

	verified := false
	switch {
	case project.HasWebhookSecret():
		if !VerifySignature(project.WebhookSecret, d.Payload, d.Signature) {
			s.record(ctx, *project, eventType, d.Payload, false)
			slog.Warn("webhook rejected: bad signature", "project_id", project.ID, "event", eventType)
			return WebhookOutcome{}, fmt.Errorf("project %s: %w", project.ID, ErrInvalidWebhookSignature)
		}
		verified = true
	case s.cfg.RequireSignature:
		s.record(ctx, *project, eventType, d.Payload, false)
		slog.Warn("webhook rejected: project has no secret", "project_id", project.ID, "event", eventType)
		return WebhookOutcome{}, fmt.Errorf("project %s has no webhook secret: %w", project.ID, ErrInvalidWebhookSignature)
	}

	s.record(ctx, *project, eventType, d.Payload, verified)

	processed, err := s.dispatch(ctx, *project, eventType, payload)
	if err != nil {
		slog.Error("webhook processing failed", "project_id", project.ID, "event", eventType, "error", err)
		return WebhookOutcome{}, nil
	}
	return WebhookOutcome{Processed: processed}, nil
}

// resolveProject matches the payload's remote project ID, then its build ID.
// When several projects share a remote project, the build decides.
func (s *WebhookService) resolveProject(ctx context.Context, p webhookPayload) (*model.Project, error) {
	var candidates []model.Project
	if rid := p.projectID(); rid != "" {
		var err error
		candidates, err = s.projects.ListByRemoteProjectID(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("resolve webhook project: %w", err)
		}
		if len(candidates) == 1 {
			return &candidates[0], nil
		}
	}

	if bid := p.buildID(); bid != "" {
		run, err := s.runStore.FindByRemoteBuildID(ctx, bid)
		if err != nil {
			return nil, fmt.Errorf("resolve webhook project: %w", err)
		}
		if run != nil {
			for i := range candidates {
				if candidates[i].ID == run.ProjectID {
					return &candidates[i], nil
				}
			}
			if len(candidates) == 0 {
				project, err := s.projects.GetByID(ctx, run.ProjectID)
				if err != nil {
					return nil, fmt.Errorf("resolve webhook project: %w", err)
				}
				return project, nil
			}
		}
	}

	if len(candidates) > 0 {
		return &candidates[0], nil
	}
	return nil, nil
}

// record appends the delivery to the audit log. A failed append is logged.
func (s *WebhookService) record(ctx context.Context, project model.Project, eventType string, payload []byte, verified bool) {
	_, err := s.events.Append(ctx, model.WebhookEvent{
		ProjectID:  project.ID,
		EventType:  eventType,
		Payload:    payload,
		Verified:   verified,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		slog.Error("webhook audit append failed", "project_id", project.ID, "event", eventType, "error", err)
	}
}

func (s *WebhookService) dispatch(ctx context.Context, project model.Project, eventType string, p webhookPayload) (bool, error) {
	switch {
	case strings.HasPrefix(eventType, buildEventPrefix):
		buildID := p.buildID()
		if buildID == "" {
			return false, nil
		}
		if _, err := s.runs.Reconcile(ctx, project.ID, buildID); err != nil {
			return false, err
		}
		return true, nil

	case eventType == eventScreenshotApproved || eventType == eventScreenshotRejected:
		shotID := p.screenshotID()
		if shotID == "" {
			return false, nil
		}
		decision := model.DecisionApproved
		if eventType == eventScreenshotRejected {
			decision = model.DecisionRejected
		}
		actor := p.Actor
		if actor == "" {
			actor = webhookActor
		}
		res, err := s.results.ApplyRemoteDecision(ctx, project.ID, shotID, actor, decision)
		if err != nil {
			return false, err
		}
		return res != nil, nil

	default:
		return false, nil
	}
}

// ListEvents returns a project's webhook events received within lookback,
// newest first. A non-positive lookback uses the configured retention.
func (s *WebhookService) ListEvents(ctx context.Context, projectID string, lookback time.Duration) ([]model.WebhookEvent, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, ErrProjectNotFound)
	}

	if lookback <= 0 {
		lookback = s.cfg.Retention
	}
	since := s.now().UTC().Add(-lookback)

	events, err := s.events.ListByProject(ctx, projectID, since, maxEventsListed)
	if err != nil {
		return nil, fmt.Errorf("list webhook events for project %s: %w", projectID, err)
	}
	if events == nil {
		events = []model.WebhookEvent{}
	}
	return events, nil
}
