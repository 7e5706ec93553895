package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// ErrRemoteNotFound indicates the visual-diffing service answered 404 for
// the requested resource.
var ErrRemoteNotFound = errors.New("remote resource not found")

// RemoteError describes a failed call to the visual-diffing service. It
// carries enough context for diagnosis and never includes credentials.
type RemoteError struct {
	Op         string // Client operation, e.g. "get build".
	Resource   string // Remote identifier the call targeted.
	StatusCode int    // HTTP status; 0 when the request never got a response.
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op
	if e.Resource != "" {
		msg += " " + e.Resource
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// VisualDiffClient defines the driven port for the remote visual-diffing
// service. Implementations are stateless and bound to one base URL and token.
type VisualDiffClient interface {
	// Ping checks that the service is reachable and the token is accepted.
	Ping(ctx context.Context) error
	// GetProject returns ErrRemoteNotFound (wrapped) when the ID does not resolve.
	GetProject(ctx context.Context, projectID string) (*model.RemoteProject, error)

	CreateBuild(ctx context.Context, projectID string, req model.CreateBuildRequest) (*model.RemoteBuild, error)
	GetBuild(ctx context.Context, buildID string) (*model.RemoteBuild, error)
	// ListBuilds returns recent builds, newest first. Empty branch and zero
	// limit leave the filter to the service defaults.
	ListBuilds(ctx context.Context, projectID, branch string, limit int) ([]model.RemoteBuild, error)
	ListScreenshots(ctx context.Context, buildID string) ([]model.RemoteScreenshot, error)

	ApproveScreenshot(ctx context.Context, screenshotID string) error
	RejectScreenshot(ctx context.Context, screenshotID string) error
}

// VisualDiffClientFactory builds clients for a project's remote linkage.
type VisualDiffClientFactory interface {
	New(baseURL, token string) VisualDiffClient
}
