package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// ResultService synchronizes screenshot results from the remote service and
// runs the approve/reject workflow.
type ResultService struct {
	projects      driven.ProjectStore
	runs          driven.RunStore
	results       driven.ResultStore
	clients       *RemoteClientProvider
	notifier      driven.Notifier
	remoteTimeout time.Duration
	now           func() time.Time
}

// NewResultService creates a ResultService. notifier may be nil.
func NewResultService(
	projects driven.ProjectStore,
	runs driven.RunStore,
	results driven.ResultStore,
	clients *RemoteClientProvider,
	notifier driven.Notifier,
	remoteTimeout time.Duration,
) *ResultService {
	return &ResultService{
		projects:      projects,
		runs:          runs,
		results:       results,
		clients:       clients,
		notifier:      orNop(notifier),
		remoteTimeout: remoteTimeout,
		now:           time.Now,
	}
}

// SyncRun fetches the run's screenshots, merges them with stored review
// decisions, replaces the stored results in one transaction and writes the
// summary.
func (s *ResultService) SyncRun(ctx context.Context, project model.Project, run model.TestRun) ([]model.TestResult, error) {
	if run.RemoteBuildID == "" {
		return nil, fmt.Errorf("sync run %s: no remote build", run.ID)
	}
	if !project.HasToken() {
		return nil, fmt.Errorf("sync run %s: %w", run.ID, ErrMissingCredentials)
	}

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	shots, err := s.clients.Get(project).ListScreenshots(rctx, run.RemoteBuildID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("sync run %s: %w", run.ID, classifyRemote(err, false))
	}

	existing, err := s.results.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("sync run %s: %w", run.ID, err)
	}
	byShot := make(map[string]model.TestResult, len(existing))
	for _, r := range existing {
		byShot[r.RemoteScreenshotID] = r
	}

	results := make([]model.TestResult, 0, len(shots))
	for _, shot := range shots {
		var prior *model.TestResult
		if r, ok := byShot[shot.ID]; ok {
			prior = &r
		}
		results = append(results, mergeResult(run.ID, shot, prior))
	}

	if err := s.results.ReplaceForRun(ctx, run.ID, results); err != nil {
		return nil, fmt.Errorf("sync run %s: %w", run.ID, err)
	}

	summary := model.Summarize(results)
	if err := s.runs.UpdateSummary(ctx, run.ID, summary); err != nil {
		return nil, fmt.Errorf("sync run %s: %w", run.ID, err)
	}

	slog.Debug("results synchronized",
		"project_id", project.ID,
		"run_id", run.ID,
		"total", summary.Total,
		"failed", summary.Failed,
	)
	return results, nil
}

// mergeResult maps a remote screenshot to a result. A stored local decision
// survives when it is newer than the remote screenshot's last update;
// otherwise the remote approval state is taken.
func mergeResult(runID string, shot model.RemoteScreenshot, prior *model.TestResult) model.TestResult {
	res := model.TestResult{
		ID:                 model.ResultID(runID, shot.ID),
		RunID:              runID,
		RemoteScreenshotID: shot.ID,
		Name:               shot.Name,
		Status:             model.MapScreenshotStatus(shot.Status),
		BaselineURL:        shot.BaselineURL,
		CurrentURL:         shot.CurrentURL,
		DiffURL:            shot.DiffURL,
		DiffPercentage:     shot.DiffPercentage,
		RemoteUpdatedAt:    shot.UpdatedAt,
	}

	if prior != nil && prior.ApprovedAt != nil &&
		(shot.UpdatedAt == nil || prior.ApprovedAt.After(*shot.UpdatedAt)) {
		res.Approved = prior.Approved
		res.Decision = prior.Decision
		res.ApprovedBy = prior.ApprovedBy
		res.ApprovedAt = prior.ApprovedAt
		return res
	}

	res.Approved = shot.Approved
	if shot.Approved {
		res.Decision = model.DecisionApproved
	}
	return res
}

// stored returns a run's results as persisted, without contacting the remote.
func (s *ResultService) stored(ctx context.Context, runID string) ([]model.TestResult, error) {
	results, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}
	return results, nil
}

// ListResults returns a run's results. For completed runs it first attempts
// a refresh from the remote service; a failed refresh is logged and the
// stored results are returned.
func (s *ResultService) ListResults(ctx context.Context, runID string) ([]model.TestResult, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}

	if run.Status == model.RunStatusCompleted && run.RemoteBuildID != "" {
		s.refresh(ctx, *run)
	}

	results, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}
	if results == nil {
		results = []model.TestResult{}
	}
	return results, nil
}

func (s *ResultService) refresh(ctx context.Context, run model.TestRun) {
	project, err := s.projects.GetByID(ctx, run.ProjectID)
	if err != nil || project == nil {
		slog.Warn("result refresh skipped: project unavailable", "run_id", run.ID, "error", err)
		return
	}
	if _, err := s.SyncRun(ctx, *project, run); err != nil {
		slog.Warn("result refresh failed", "project_id", project.ID, "run_id", run.ID, "error", err)
	}
}

// GetResult returns a result or ErrResultNotFound.
func (s *ResultService) GetResult(ctx context.Context, id string) (*model.TestResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	if res == nil {
		return nil, fmt.Errorf("get result %s: %w", id, ErrResultNotFound)
	}
	return res, nil
}

// Approve accepts a result on the remote service, then records the decision.
func (s *ResultService) Approve(ctx context.Context, id, actor string) (*model.TestResult, error) {
	return s.decide(ctx, id, actor, model.DecisionApproved)
}

// Reject rejects a result on the remote service, then records the decision.
func (s *ResultService) Reject(ctx context.Context, id, actor string) (*model.TestResult, error) {
	return s.decide(ctx, id, actor, model.DecisionRejected)
}

// decide mirrors a review decision to the remote service first. Local state
// changes only after the remote call succeeded, in a single update.
func (s *ResultService) decide(ctx context.Context, id, actor string, decision model.Decision) (*model.TestResult, error) {
	res, err := s.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}

	run, err := s.runs.GetByID(ctx, res.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", res.RunID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("get run %s: %w", res.RunID, ErrRunNotFound)
	}
	if run.Status != model.RunStatusCompleted {
		return nil, fmt.Errorf("%s result %s: %w", decision, id, ErrRunNotCompleted)
	}

	project, err := s.projects.GetByID(ctx, run.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", run.ProjectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("get project %s: %w", run.ProjectID, ErrProjectNotFound)
	}
	if !project.HasToken() {
		return nil, fmt.Errorf("%s result %s: %w", decision, id, ErrMissingCredentials)
	}

	_, shotID, ok := model.ParseResultID(res.ID)
	if !ok {
		shotID = res.RemoteScreenshotID
	}

	client := s.clients.Get(*project)
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	if decision == model.DecisionApproved {
		err = client.ApproveScreenshot(rctx, shotID)
	} else {
		err = client.RejectScreenshot(rctx, shotID)
	}
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s result %s: %w: %w", decision, id, ErrRemoteSyncFailed, err)
	}

	return s.record(ctx, *res, actor, decision)
}

// ApplyRemoteDecision records a decision made on the remote service for
// the project's most recent result of screenshotID. It returns nil, nil
// when no such result is stored.
func (s *ResultService) ApplyRemoteDecision(ctx context.Context, projectID, screenshotID, actor string, decision model.Decision) (*model.TestResult, error) {
	res, err := s.results.FindByRemoteScreenshotID(ctx, projectID, screenshotID)
	if err != nil {
		return nil, fmt.Errorf("find result for screenshot %s: %w", screenshotID, err)
	}
	if res == nil {
		return nil, nil
	}
	return s.record(ctx, *res, actor, decision)
}

func (s *ResultService) record(ctx context.Context, res model.TestResult, actor string, decision model.Decision) (*model.TestResult, error) {
	at := s.now().UTC()
	err := s.results.SetDecision(ctx, res.ID, driven.ResultDecision{
		Approved:   decision == model.DecisionApproved,
		Decision:   decision,
		ApprovedBy: actor,
		ApprovedAt: at,
	})
	if err != nil {
		return nil, fmt.Errorf("record decision for result %s: %w", res.ID, err)
	}

	res.Approved = decision == model.DecisionApproved
	res.Decision = decision
	res.ApprovedBy = actor
	res.ApprovedAt = &at

	slog.Info("result decision recorded", "result_id", res.ID, "decision", decision, "actor", actor)
	publishResult(s.notifier, res, at)
	return &res, nil
}
