package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// ErrResultNotFound indicates the requested test result does not exist.
var ErrResultNotFound = errors.New("test result not found")

// ResultDecision is the review state written by SetDecision.
type ResultDecision struct {
	Approved   bool
	Decision   model.Decision
	ApprovedBy string
	ApprovedAt time.Time
}

// ResultStore defines the driven port for test result persistence.
type ResultStore interface {
	// ReplaceForRun atomically replaces all results of a run.
	ReplaceForRun(ctx context.Context, runID string, results []model.TestResult) error
	// ListByRun returns a run's results ordered by name.
	ListByRun(ctx context.Context, runID string) ([]model.TestResult, error)
	// GetByID returns nil, nil if the result does not exist.
	GetByID(ctx context.Context, id string) (*model.TestResult, error)
	// FindByRemoteScreenshotID returns the most recent result for a remote
	// screenshot within a project, or nil, nil.
	FindByRemoteScreenshotID(ctx context.Context, projectID, screenshotID string) (*model.TestResult, error)
	// SetDecision records an approval or rejection. Returns ErrResultNotFound if absent.
	SetDecision(ctx context.Context, id string, decision ResultDecision) error
}
