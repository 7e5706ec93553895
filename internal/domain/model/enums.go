package model

// RunStatus represents the lifecycle state of a test run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Rank orders statuses along the pending -> running -> terminal chain.
// Both terminal states share the highest rank so one can never replace the other.
func (s RunStatus) Rank() int {
	switch s {
	case RunStatusPending:
		return 0
	case RunStatusRunning:
		return 1
	case RunStatusCompleted, RunStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a run may move from one status to another.
// Only strictly advancing moves are allowed; same-status writes are no-ops.
func CanTransition(from, to RunStatus) bool {
	if from.IsTerminal() || to.Rank() < 0 || from.Rank() < 0 {
		return false
	}
	return to.Rank() > from.Rank()
}

// ResultStatus represents the comparison outcome of a single screenshot.
type ResultStatus string

const (
	ResultStatusPassed  ResultStatus = "passed"
	ResultStatusFailed  ResultStatus = "failed"
	ResultStatusNew     ResultStatus = "new"
	ResultStatusRemoved ResultStatus = "removed"
)

// Decision records the last review action taken on a result.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// RemoteBuildStatus is the build status vocabulary of the visual-diffing service.
type RemoteBuildStatus string

const (
	RemoteBuildPending    RemoteBuildStatus = "pending"
	RemoteBuildInProgress RemoteBuildStatus = "in-progress"
	RemoteBuildStable     RemoteBuildStatus = "stable"
	RemoteBuildError      RemoteBuildStatus = "error"
)

// RemoteScreenshotStatus is the screenshot status vocabulary of the visual-diffing service.
type RemoteScreenshotStatus string

const (
	RemoteScreenshotStable  RemoteScreenshotStatus = "stable"
	RemoteScreenshotFailure RemoteScreenshotStatus = "failure"
	RemoteScreenshotNew     RemoteScreenshotStatus = "new"
	RemoteScreenshotRemoved RemoteScreenshotStatus = "removed"
)

// MapBuildStatus converts a remote build status into the local run status.
// Unknown remote values are treated as pending.
func MapBuildStatus(s RemoteBuildStatus) RunStatus {
	switch s {
	case RemoteBuildInProgress:
		return RunStatusRunning
	case RemoteBuildStable:
		return RunStatusCompleted
	case RemoteBuildError:
		return RunStatusFailed
	default:
		return RunStatusPending
	}
}

// MapScreenshotStatus converts a remote screenshot status into a result status.
// Unknown remote values are reported as failed so they surface for review.
func MapScreenshotStatus(s RemoteScreenshotStatus) ResultStatus {
	switch s {
	case RemoteScreenshotStable:
		return ResultStatusPassed
	case RemoteScreenshotNew:
		return ResultStatusNew
	case RemoteScreenshotRemoved:
		return ResultStatusRemoved
	default:
		return ResultStatusFailed
	}
}
