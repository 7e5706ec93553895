package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Run lifecycle constants.
const (
	// PollCeilingReason is recorded when a run is failed for exceeding its poll budget.
	PollCeilingReason = "poll ceiling reached"

	// importLimit bounds how many recent remote builds ListRuns looks at.
	importLimit = 20

	// triggeredByRemote marks runs imported from builds started outside snapgate.
	triggeredByRemote = "remote"
)

// RunConfig tunes run polling.
type RunConfig struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	RemoteTimeout time.Duration
}

// maxAttempts is the poll ceiling: how many ticks fit into the timeout.
func (c RunConfig) maxAttempts() int {
	if c.PollInterval <= 0 {
		return 1
	}
	n := int(c.PollTimeout / c.PollInterval)
	if n < 1 {
		return 1
	}
	return n
}

// TriggerInput describes a run to start.
type TriggerInput struct {
	ProjectID string
	Actor     string
	Branch    string // Empty uses the project's branch.
	Commit    string
}

// RunService triggers remote builds and tracks their lifecycle until they
// reach a terminal state.
type RunService struct {
	projects   driven.ProjectStore
	runs       driven.RunStore
	results    *ResultService
	clients    *RemoteClientProvider
	supervisor *PollSupervisor
	notifier   driven.Notifier
	mirror     *StatusMirror
	cfg        RunConfig
	now        func() time.Time
}

// NewRunService creates a RunService. notifier and mirror may be nil.
func NewRunService(
	projects driven.ProjectStore,
	runs driven.RunStore,
	results *ResultService,
	clients *RemoteClientProvider,
	supervisor *PollSupervisor,
	notifier driven.Notifier,
	mirror *StatusMirror,
	cfg RunConfig,
) *RunService {
	return &RunService{
		projects:   projects,
		runs:       runs,
		results:    results,
		clients:    clients,
		supervisor: supervisor,
		notifier:   orNop(notifier),
		mirror:     mirror,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Trigger starts a build on the remote service, records the local run and
// schedules its poll task. It returns without waiting for the build.
func (s *RunService) Trigger(ctx context.Context, in TriggerInput) (*model.TestRun, error) {
	project, err := s.project(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.HasToken() {
		return nil, fmt.Errorf("trigger run for project %s: %w", project.ID, ErrMissingCredentials)
	}

	branch := strings.TrimSpace(in.Branch)
	if branch == "" {
		branch = project.Branch
	}
	if branch == "" {
		branch = defaultBranch
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	build, err := s.clients.Get(*project).CreateBuild(rctx, project.RemoteProjectID, model.CreateBuildRequest{
		Branch: branch,
		Commit: in.Commit,
		Name:   fmt.Sprintf("%s (%s)", project.Name, branch),
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("trigger run for project %s: %w", project.ID, classifyRemote(err, true))
	}

	now := s.now().UTC()
	run := model.TestRun{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		RemoteBuildID: build.ID,
		Status:        model.MapBuildStatus(build.Status),
		Branch:        branch,
		Commit:        in.Commit,
		TriggeredBy:   in.Actor,
		StartedAt:     now,
	}
	if run.Status.IsTerminal() {
		run.CompletedAt = &now
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	slog.Info("run triggered",
		"project_id", project.ID,
		"run_id", run.ID,
		"remote_build_id", build.ID,
		"branch", branch,
		"status", run.Status,
	)

	publishRun(s.notifier, model.EventRunStatusUpdate, run, now)
	if run.Status.IsTerminal() {
		// Builds that finish immediately are finalized in the background.
		finished := *project
		s.supervisor.Schedule(run.ProjectID, run.ID, func(ctx context.Context) {
			s.finish(ctx, finished, run, build.WebURL, true)
		})
		return &run, nil
	}

	s.mirror.Report(ctx, *project, run, build.WebURL)
	s.schedule(run)

	return &run, nil
}

// GetRun returns a run or ErrRunNotFound.
func (s *RunService) GetRun(ctx context.Context, id string) (*model.TestRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if run == nil {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	return run, nil
}

// ListRuns returns a page of the project's runs, newest first, and the total
// count. Recent remote builds not yet known locally are imported first; an
// import failure is logged and does not fail the listing.
func (s *RunService) ListRuns(ctx context.Context, projectID string, limit, offset int) ([]model.TestRun, int, error) {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}

	if project.HasToken() {
		if err := s.importRecent(ctx, *project); err != nil {
			slog.Warn("remote build import failed", "project_id", projectID, "error", err)
		}
	}

	runs, err := s.runs.ListByProject(ctx, projectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs for project %s: %w", projectID, err)
	}
	total, err := s.runs.CountByProject(ctx, projectID)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs for project %s: %w", projectID, err)
	}
	if runs == nil {
		runs = []model.TestRun{}
	}
	return runs, total, nil
}

func (s *RunService) importRecent(ctx context.Context, project model.Project) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	builds, err := s.clients.Get(project).ListBuilds(rctx, project.RemoteProjectID, project.Branch, importLimit)
	cancel()
	if err != nil {
		return classifyRemote(err, true)
	}

	for _, build := range builds {
		existing, err := s.runs.GetByRemoteBuildID(ctx, project.ID, build.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if _, err := s.importBuild(ctx, project, build); err != nil {
			return err
		}
	}
	return nil
}

// importBuild records a remote build that was started outside snapgate.
// Non-terminal imports get a poll task; completed imports fetch their
// results lazily. If another writer imported the build first, that run is
// returned.
func (s *RunService) importBuild(ctx context.Context, project model.Project, build model.RemoteBuild) (*model.TestRun, error) {
	startedAt := build.CreatedAt.UTC()
	if startedAt.IsZero() {
		startedAt = s.now().UTC()
	}

	run := model.TestRun{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		RemoteBuildID: build.ID,
		Status:        model.MapBuildStatus(build.Status),
		Branch:        build.Branch,
		Commit:        build.Commit,
		TriggeredBy:   triggeredByRemote,
		StartedAt:     startedAt,
	}
	if run.Status.IsTerminal() {
		completedAt := build.UpdatedAt.UTC()
		if build.UpdatedAt.IsZero() {
			completedAt = s.now().UTC()
		}
		run.CompletedAt = &completedAt
	}

	if err := s.runs.Create(ctx, run); err != nil {
		winner, getErr := s.runs.GetByRemoteBuildID(ctx, project.ID, build.ID)
		if getErr == nil && winner != nil {
			return winner, nil
		}
		return nil, fmt.Errorf("import build %s: %w", build.ID, err)
	}

	slog.Info("remote build imported",
		"project_id", project.ID,
		"run_id", run.ID,
		"remote_build_id", build.ID,
		"status", run.Status,
	)
	if !run.Status.IsTerminal() {
		s.schedule(run)
	}
	return &run, nil
}

// Reconcile brings the local run of a remote build up to date with the
// remote state, importing the build when it is unknown. Terminal runs are
// never moved; completed runs have their results refreshed.
func (s *RunService) Reconcile(ctx context.Context, projectID, remoteBuildID string) (*model.TestRun, error) {
	project, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.HasToken() {
		return nil, fmt.Errorf("reconcile build %s: %w", remoteBuildID, ErrMissingCredentials)
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	build, err := s.clients.Get(*project).GetBuild(rctx, remoteBuildID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reconcile build %s: %w", remoteBuildID, classifyRemote(err, false))
	}

	run, err := s.runs.GetByRemoteBuildID(ctx, project.ID, remoteBuildID)
	if err != nil {
		return nil, fmt.Errorf("reconcile build %s: %w", remoteBuildID, err)
	}

	changed := false
	if run == nil {
		run, err = s.importBuild(ctx, *project, *build)
		if err != nil {
			return nil, err
		}
		changed = true
	} else {
		changed, err = s.runs.TransitionStatus(ctx, run.ID, model.MapBuildStatus(build.Status), "", s.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("reconcile build %s: %w", remoteBuildID, err)
		}
	}

	if changed {
		run, err = s.GetRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
	}

	if run.Status.IsTerminal() {
		s.supervisor.CancelRun(run.ID)
		if changed || run.Status == model.RunStatusCompleted {
			run = s.finish(ctx, *project, *run, build.WebURL, changed)
		}
	} else if changed {
		publishRun(s.notifier, model.EventRunStatusUpdate, *run, s.now().UTC())
	}

	return run, nil
}

// schedule starts the poll task for run. It reports whether a task was
// started; a run that already has one is left alone.
func (s *RunService) schedule(run model.TestRun) bool {
	return s.supervisor.Schedule(run.ProjectID, run.ID, func(ctx context.Context) {
		s.poll(ctx, run.ProjectID, run.ID)
	})
}

// poll ticks at the configured interval until the run is terminal, the run
// or project disappears, the task is canceled, or the ceiling is reached.
// The first remote call happens one interval after scheduling.
func (s *RunService) poll(ctx context.Context, projectID, runID string) {
	maxAttempts := s.cfg.maxAttempts()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			slog.Debug("poll task canceled", "run_id", runID)
			return
		case <-ticker.C:
		}

		if done := s.pollOnce(ctx, projectID, runID, attempt); done {
			return
		}

		if attempt >= maxAttempts {
			s.failRun(ctx, projectID, runID, PollCeilingReason)
			return
		}
	}
}

// pollOnce performs one poll attempt and reports whether the task is done.
func (s *RunService) pollOnce(ctx context.Context, projectID, runID string, attempt int) bool {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		slog.Warn("poll: project lookup failed", "project_id", projectID, "run_id", runID, "error", err)
		return ctx.Err() != nil
	}
	if project == nil {
		slog.Info("poll stopped: project deleted", "project_id", projectID, "run_id", runID)
		return true
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		slog.Warn("poll: run lookup failed", "run_id", runID, "error", err)
		return ctx.Err() != nil
	}
	if run == nil {
		slog.Info("poll stopped: run deleted", "run_id", runID)
		return true
	}
	if run.Status.IsTerminal() {
		return true
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	build, err := s.clients.Get(*project).GetBuild(rctx, run.RemoteBuildID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		slog.Warn("poll: fetch build failed",
			"project_id", projectID,
			"run_id", runID,
			"remote_build_id", run.RemoteBuildID,
			"attempt", attempt,
			"error", err,
		)
		return false
	}

	target := model.MapBuildStatus(build.Status)
	changed, err := s.runs.TransitionStatus(ctx, runID, target, "", s.now().UTC())
	if err != nil {
		slog.Warn("poll: status transition failed", "run_id", runID, "status", target, "error", err)
		return ctx.Err() != nil
	}
	if !changed {
		return false
	}

	updated, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		slog.Warn("poll: reload run failed", "run_id", runID, "error", err)
		return ctx.Err() != nil
	}
	if updated == nil {
		return true
	}

	if updated.Status.IsTerminal() {
		s.finish(ctx, *project, *updated, build.WebURL, true)
		return true
	}

	publishRun(s.notifier, model.EventRunStatusUpdate, *updated, s.now().UTC())
	return false
}

// finish runs the terminal side effects for a run: results are synchronized
// when it completed, and when announce is set subscribers and the commit
// status are told. It returns the run as stored afterwards.
func (s *RunService) finish(ctx context.Context, project model.Project, run model.TestRun, targetURL string, announce bool) *model.TestRun {
	var results []model.TestResult
	if run.Status == model.RunStatusCompleted {
		synced, err := s.results.SyncRun(ctx, project, run)
		if err != nil {
			slog.Warn("result synchronization failed", "project_id", project.ID, "run_id", run.ID, "error", err)
			if synced, err = s.results.stored(ctx, run.ID); err != nil {
				slog.Warn("failed to load stored results", "run_id", run.ID, "error", err)
			}
		} else if refreshed, err := s.runs.GetByID(ctx, run.ID); err == nil && refreshed != nil {
			run = *refreshed
		}
		results = synced
		if results == nil {
			results = []model.TestResult{}
		}
	}

	if announce {
		eventType := model.EventRunStatusUpdate
		if run.Status == model.RunStatusCompleted {
			eventType = model.EventRunCompleted
		}

		slog.Info("run finished", "project_id", project.ID, "run_id", run.ID, "status", run.Status)
		publishRunWithResults(s.notifier, eventType, run, results, s.now().UTC())
		s.mirror.Report(ctx, project, run, targetURL)
	}

	return &run
}

// failRun forces a run to failed with reason. No results are synchronized.
func (s *RunService) failRun(ctx context.Context, projectID, runID, reason string) {
	changed, err := s.runs.TransitionStatus(ctx, runID, model.RunStatusFailed, reason, s.now().UTC())
	if err != nil {
		slog.Error("failed to mark run failed", "run_id", runID, "reason", reason, "error", err)
		return
	}
	if !changed {
		return
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil || run == nil {
		return
	}

	slog.Warn("run failed", "project_id", projectID, "run_id", runID, "reason", reason)
	publishRun(s.notifier, model.EventRunStatusUpdate, *run, s.now().UTC())

	if project, err := s.projects.GetByID(ctx, projectID); err == nil && project != nil {
		s.mirror.Report(ctx, *project, *run, "")
	}
}

// project loads a project or returns ErrProjectNotFound.
func (s *RunService) project(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("get project %s: %w", id, ErrProjectNotFound)
	}
	return p, nil
}

// Resume schedules poll tasks for runs left in flight by a previous process.
func (s *RunService) Resume(ctx context.Context) (int, error) {
	projects, err := s.projects.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("resume polling: %w", err)
	}

	resumed := 0
	for _, p := range projects {
		offset := 0
		for {
			runs, err := s.runs.ListByProject(ctx, p.ID, 100, offset)
			if err != nil {
				return resumed, fmt.Errorf("resume polling for project %s: %w", p.ID, err)
			}
			for _, run := range runs {
				if !run.Status.IsTerminal() && run.RemoteBuildID != "" && s.schedule(run) {
					resumed++
				}
			}
			if len(runs) < 100 {
				break
			}
			offset += len(runs)
		}
	}
	return resumed, nil
}
