package driven

import (
	"context"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
)

// Notifier pushes events to currently subscribed real-time clients.
// Delivery is fire-and-forget: there is no queue and no replay.
type Notifier interface {
	Publish(event model.Event)
}

// CommitStatusReporter mirrors run state onto a commit in a source host.
type CommitStatusReporter interface {
	ReportStatus(ctx context.Context, repoFullName, sha string, status model.CommitStatus) error
}

// BaselineArchive stores baseline manifests outside the database.
type BaselineArchive interface {
	PutManifest(ctx context.Context, key string, manifest []byte) error
}
