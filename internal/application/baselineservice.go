package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// BaselineService snapshots completed runs as named baselines.
type BaselineService struct {
	projects  driven.ProjectStore
	runs      driven.RunStore
	results   driven.ResultStore
	baselines driven.BaselineStore
	archive   driven.BaselineArchive
	now       func() time.Time
}

// NewBaselineService creates a BaselineService. archive may be nil, in which
// case manifests are not archived.
func NewBaselineService(
	projects driven.ProjectStore,
	runs driven.RunStore,
	results driven.ResultStore,
	baselines driven.BaselineStore,
	archive driven.BaselineArchive,
) *BaselineService {
	return &BaselineService{
		projects:  projects,
		runs:      runs,
		results:   results,
		baselines: baselines,
		archive:   archive,
		now:       time.Now,
	}
}

// baselineManifest is the archived JSON document of a baseline.
type baselineManifest struct {
	ID        string               `json:"id"`
	ProjectID string               `json:"projectId"`
	RunID     string               `json:"runId"`
	Name      string               `json:"name"`
	CreatedBy string               `json:"createdBy"`
	CreatedAt time.Time            `json:"createdAt"`
	Summary   model.ResultsSummary `json:"summary"`
	Results   []manifestResult     `json:"results"`
}

type manifestResult struct {
	ID           string             `json:"id"`
	ScreenshotID string             `json:"screenshotId"`
	Name         string             `json:"name"`
	Status       model.ResultStatus `json:"status"`
	CurrentURL   string             `json:"currentUrl"`
	Approved     bool               `json:"approved"`
}

// CreateBaseline records the results of a completed run under name. When an
// archive is configured the manifest is uploaded first; an upload failure
// fails the call and nothing is stored.
func (s *BaselineService) CreateBaseline(ctx context.Context, projectID, runID, name, actor string) (*model.Baseline, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("baseline name is required")
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, ErrProjectNotFound)
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if run == nil || run.ProjectID != projectID {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if run.Status != model.RunStatusCompleted {
		return nil, fmt.Errorf("baseline from run %s: %w", runID, ErrRunNotCompleted)
	}

	results, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}

	b := model.Baseline{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		RunID:     runID,
		Name:      name,
		CreatedBy: actor,
		Summary:   model.Summarize(results),
		ResultIDs: make([]string, 0, len(results)),
		CreatedAt: s.now().UTC(),
	}
	for _, r := range results {
		b.ResultIDs = append(b.ResultIDs, r.ID)
	}

	if s.archive != nil {
		key := fmt.Sprintf("baselines/%s/%s.json", projectID, b.ID)
		manifest, err := json.Marshal(newManifest(b, results))
		if err != nil {
			return nil, fmt.Errorf("marshal baseline manifest: %w", err)
		}
		if err := s.archive.PutManifest(ctx, key, manifest); err != nil {
			return nil, fmt.Errorf("archive baseline %s: %w", b.ID, err)
		}
		b.ArchiveKey = key
	}

	if err := s.baselines.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create baseline: %w", err)
	}

	slog.Info("baseline created", "project_id", projectID, "run_id", runID, "baseline_id", b.ID, "archived", b.ArchiveKey != "")
	return &b, nil
}

// ListBaselines returns a project's baselines, newest first.
func (s *BaselineService) ListBaselines(ctx context.Context, projectID string) ([]model.Baseline, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, ErrProjectNotFound)
	}

	baselines, err := s.baselines.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list baselines for project %s: %w", projectID, err)
	}
	if baselines == nil {
		baselines = []model.Baseline{}
	}
	return baselines, nil
}

func newManifest(b model.Baseline, results []model.TestResult) baselineManifest {
	m := baselineManifest{
		ID:        b.ID,
		ProjectID: b.ProjectID,
		RunID:     b.RunID,
		Name:      b.Name,
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
		Summary:   b.Summary,
		Results:   make([]manifestResult, 0, len(results)),
	}
	for _, r := range results {
		m.Results = append(m.Results, manifestResult{
			ID:           r.ID,
			ScreenshotID: r.RemoteScreenshotID,
			Name:         r.Name,
			Status:       r.Status,
			CurrentURL:   r.CurrentURL,
			Approved:     r.Approved,
		})
	}
	return m
}
