package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// commitStatusTimeout bounds a single commit status call.
const commitStatusTimeout = 10 * time.Second

// StatusMirror reports run state as commit statuses for projects linked to a
// source repository. A nil reporter disables it. Failures are logged only.
type StatusMirror struct {
	reporter driven.CommitStatusReporter
}

// NewStatusMirror creates a StatusMirror. reporter may be nil.
func NewStatusMirror(reporter driven.CommitStatusReporter) *StatusMirror {
	return &StatusMirror{reporter: reporter}
}

// Report posts the commit status derived from run. targetURL links the
// status to the remote build when known.
func (m *StatusMirror) Report(ctx context.Context, project model.Project, run model.TestRun, targetURL string) {
	if m == nil || m.reporter == nil || project.GitHubRepo == "" || run.Commit == "" {
		return
	}

	status := model.CommitStatusForRun(run)
	status.TargetURL = targetURL

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitStatusTimeout)
	defer cancel()

	if err := m.reporter.ReportStatus(ctx, project.GitHubRepo, run.Commit, status); err != nil {
		slog.Warn("commit status report failed",
			"project_id", project.ID,
			"run_id", run.ID,
			"repo", project.GitHubRepo,
			"state", status.State,
			"error", err,
		)
	}
}
