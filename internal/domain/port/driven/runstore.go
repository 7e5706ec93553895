package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// ErrRunNotFound indicates the requested test run does not exist.
var ErrRunNotFound = errors.New("test run not found")

// RunStore defines the driven port for test run persistence.
type RunStore interface {
	Create(ctx context.Context, run model.TestRun) error
	// GetByID returns nil, nil if the run does not exist.
	GetByID(ctx context.Context, id string) (*model.TestRun, error)
	// GetByRemoteBuildID returns the project's run for a remote build, or nil, nil.
	GetByRemoteBuildID(ctx context.Context, projectID, remoteBuildID string) (*model.TestRun, error)
	// FindByRemoteBuildID looks a remote build up across all projects, or returns nil, nil.
	FindByRemoteBuildID(ctx context.Context, remoteBuildID string) (*model.TestRun, error)
	// ListByProject returns a page of runs, most recently started first.
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.TestRun, error)
	CountByProject(ctx context.Context, projectID string) (int, error)

	// TransitionStatus moves the run to status `to` only if that strictly
	// advances it along pending -> running -> {completed, failed}. It reports
	// whether the row changed; a refused transition is not an error.
	// reason is recorded as the failure reason when `to` is failed, and at
	// sets completed_at when `to` is terminal.
	TransitionStatus(ctx context.Context, id string, to model.RunStatus, reason string, at time.Time) (bool, error)
	// UpdateSummary overwrites the results summary regardless of status.
	UpdateSummary(ctx context.Context, id string, summary model.ResultsSummary) error
}
