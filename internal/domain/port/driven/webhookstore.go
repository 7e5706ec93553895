package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// WebhookEventStore defines the driven port for the append-only webhook audit log.
type WebhookEventStore interface {
	Append(ctx context.Context, event model.WebhookEvent) (int64, error)
	// ListByProject returns events received at or after since, newest first.
	ListByProject(ctx context.Context, projectID string, since time.Time, limit int) ([]model.WebhookEvent, error)
}

// BaselineStore defines the driven port for baseline persistence.
type BaselineStore interface {
	Create(ctx context.Context, baseline model.Baseline) error
	// ListByProject returns baselines newest first.
	ListByProject(ctx context.Context, projectID string) ([]model.Baseline, error)
}
