package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// Sentinel errors returned by ProjectStore implementations.
var (
	// ErrProjectNotFound indicates the requested project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrEncryptionKeyNotSet is returned when a project secret must be stored
	// or read but SNAPGATE_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SNAPGATE_SECRET_KEY")
)

// ProjectStore defines the driven port for project persistence.
// The adapter encrypts Token and WebhookSecret at rest; this interface
// operates on plaintext values at the domain boundary.
type ProjectStore interface {
	Create(ctx context.Context, project model.Project) error
	// Update replaces every mutable field. Returns ErrProjectNotFound if absent.
	Update(ctx context.Context, project model.Project) error
	// GetByID returns nil, nil if the project does not exist.
	GetByID(ctx context.Context, id string) (*model.Project, error)
	// List returns projects ordered by name. An empty teamID lists all teams.
	List(ctx context.Context, teamID string) ([]model.Project, error)
	ListByRemoteProjectID(ctx context.Context, remoteProjectID string) ([]model.Project, error)
	// Delete removes the project and, by cascade, its runs, results,
	// webhook events and baselines. Returns ErrProjectNotFound if absent.
	Delete(ctx context.Context, id string) error
}
