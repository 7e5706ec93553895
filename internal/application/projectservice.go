// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// defaultBranch is used when neither the caller nor the project names one.
const defaultBranch = "main"

// RegisterProjectInput carries the fields of a new project.
type RegisterProjectInput struct {
	TeamID          string
	Name            string
	Description     string
	RemoteProjectID string
	RemoteBaseURL   string // Empty falls back to the configured default.
	Branch          string
	Token           string
	WebhookSecret   string
	GitHubRepo      string
	Config          model.ProjectConfig
}

// UpdateProjectInput is a partial update; nil fields are left unchanged.
type UpdateProjectInput struct {
	Name            *string
	Description     *string
	RemoteProjectID *string
	RemoteBaseURL   *string
	Branch          *string
	Token           *string
	WebhookSecret   *string
	GitHubRepo      *string
	Config          *model.ProjectConfig
}

// ProjectService registers and maintains projects linked to the remote
// visual-diff service.
type ProjectService struct {
	store          driven.ProjectStore
	clients        *RemoteClientProvider
	supervisor     *PollSupervisor
	notifier       driven.Notifier
	defaultBaseURL string
	remoteTimeout  time.Duration
	strict         *bluemonday.Policy
	now            func() time.Time
}

// NewProjectService creates a ProjectService. notifier may be nil.
func NewProjectService(
	store driven.ProjectStore,
	clients *RemoteClientProvider,
	supervisor *PollSupervisor,
	notifier driven.Notifier,
	defaultBaseURL string,
	remoteTimeout time.Duration,
) *ProjectService {
	return &ProjectService{
		store:          store,
		clients:        clients,
		supervisor:     supervisor,
		notifier:       orNop(notifier),
		defaultBaseURL: defaultBaseURL,
		remoteTimeout:  remoteTimeout,
		strict:         bluemonday.StrictPolicy(),
		now:            time.Now,
	}
}

// Register verifies the remote linkage and persists a new project. Nothing
// is stored when the connectivity probe or the remote project lookup fails.
func (s *ProjectService) Register(ctx context.Context, in RegisterProjectInput) (*model.Project, error) {
	now := s.now().UTC()
	p := model.Project{
		ID:              uuid.NewString(),
		TeamID:          strings.TrimSpace(in.TeamID),
		Name:            s.plainText(in.Name),
		Description:     s.plainText(in.Description),
		RemoteProjectID: strings.TrimSpace(in.RemoteProjectID),
		RemoteBaseURL:   strings.TrimSpace(in.RemoteBaseURL),
		Branch:          strings.TrimSpace(in.Branch),
		Token:           strings.TrimSpace(in.Token),
		WebhookSecret:   in.WebhookSecret,
		GitHubRepo:      strings.TrimSpace(in.GitHubRepo),
		Config:          in.Config.Normalized(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.RemoteBaseURL == "" {
		p.RemoteBaseURL = s.defaultBaseURL
	}
	if p.Branch == "" {
		p.Branch = defaultBranch
	}

	if err := validateProject(p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, invalidInput("token is required")
	}

	if err := s.verifyRemote(ctx, p); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	slog.Info("project registered", "project_id", p.ID, "team_id", p.TeamID, "remote_project_id", p.RemoteProjectID)
	publishProject(s.notifier, p, false, now)
	return &p, nil
}

// Update applies a partial update. The remote linkage is re-verified only
// when the token, remote project ID or base URL change.
func (s *ProjectService) Update(ctx context.Context, id string, in UpdateProjectInput) (*model.Project, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	p := *current
	if in.Name != nil {
		p.Name = s.plainText(*in.Name)
	}
	if in.Description != nil {
		p.Description = s.plainText(*in.Description)
	}
	if in.RemoteProjectID != nil {
		p.RemoteProjectID = strings.TrimSpace(*in.RemoteProjectID)
	}
	if in.RemoteBaseURL != nil {
		p.RemoteBaseURL = strings.TrimSpace(*in.RemoteBaseURL)
		if p.RemoteBaseURL == "" {
			p.RemoteBaseURL = s.defaultBaseURL
		}
	}
	if in.Branch != nil {
		p.Branch = strings.TrimSpace(*in.Branch)
		if p.Branch == "" {
			p.Branch = defaultBranch
		}
	}
	if in.Token != nil {
		p.Token = strings.TrimSpace(*in.Token)
	}
	if in.WebhookSecret != nil {
		p.WebhookSecret = *in.WebhookSecret
	}
	if in.GitHubRepo != nil {
		p.GitHubRepo = strings.TrimSpace(*in.GitHubRepo)
	}
	if in.Config != nil {
		p.Config = in.Config.Normalized()
	}

	if err := validateProject(p); err != nil {
		return nil, err
	}

	linkageChanged := p.Token != current.Token ||
		p.RemoteProjectID != current.RemoteProjectID ||
		p.RemoteBaseURL != current.RemoteBaseURL
	if linkageChanged && p.Token != "" {
		if err := s.verifyRemote(ctx, p); err != nil {
			return nil, err
		}
	}

	p.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	s.clients.Invalidate(id)

	slog.Info("project updated", "project_id", id, "reverified", linkageChanged && p.Token != "")
	publishProject(s.notifier, p, false, p.UpdatedAt)
	return &p, nil
}

// Get returns a project or ErrProjectNotFound.
func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("get project %s: %w", id, ErrProjectNotFound)
	}
	return p, nil
}

// List returns the projects of a team, or of every team when teamID is empty.
func (s *ProjectService) List(ctx context.Context, teamID string) ([]model.Project, error) {
	projects, err := s.store.List(ctx, strings.TrimSpace(teamID))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

// Delete stops every poll task of the project, then removes the project
// together with its runs, results, webhook events and baselines.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	canceled := s.supervisor.CancelProject(id)

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	s.clients.Invalidate(id)

	slog.Info("project deleted", "project_id", id, "canceled_polls", canceled)
	publishProject(s.notifier, *p, true, s.now().UTC())
	return nil
}

// verifyRemote probes connectivity, then confirms the remote project exists.
func (s *ProjectService) verifyRemote(ctx context.Context, p model.Project) error {
	client := s.clients.Probe(p.RemoteBaseURL, p.Token)

	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return classifyRemote(err, false)
	}
	if _, err := client.GetProject(ctx, p.RemoteProjectID); err != nil {
		return classifyRemote(err, true)
	}
	return nil
}

// plainText strips every tag from user-supplied text and trims it.
func (s *ProjectService) plainText(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(v)))
}

func validateProject(p model.Project) error {
	if p.Name == "" {
		return invalidInput("name is required")
	}
	if p.RemoteProjectID == "" {
		return invalidInput("remoteProjectId is required")
	}

	u, err := url.Parse(p.RemoteBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidInput("remoteBaseUrl must be an absolute http(s) URL")
	}

	if p.GitHubRepo != "" {
		owner, repo, ok := strings.Cut(p.GitHubRepo, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return invalidInput("githubRepo must be in owner/name form")
		}
	}

	for _, vp := range p.Config.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return invalidInput("viewport dimensions must be positive")
		}
	}
	if p.Config.Capture.DelayMS < 0 {
		return invalidInput("capture delay must not be negative")
	}
	return nil
}
