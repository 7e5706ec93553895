package model

import "fmt"

// CommitState is a GitHub commit status state.
type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateFailure CommitState = "failure"
	CommitStateError   CommitState = "error"
)

// CommitStatusContext identifies snapgate's status among other CI checks.
const CommitStatusContext = "snapgate/visual"

// CommitStatus is a status posted against a commit.
type CommitStatus struct {
	State       CommitState
	Description string
	TargetURL   string
	Context     string
}

// CommitStatusForRun derives the commit status that mirrors a run.
func CommitStatusForRun(run TestRun) CommitStatus {
	status := CommitStatus{Context: CommitStatusContext}

	switch run.Status {
	case RunStatusCompleted:
		status.State = CommitStateSuccess
		status.Description = "Visual tests passed"
		if run.Summary != nil {
			if run.Summary.Failed > 0 {
				status.State = CommitStateFailure
			}
			status.Description = fmt.Sprintf("%d passed, %d failed, %d new, %d removed",
				run.Summary.Passed, run.Summary.Failed, run.Summary.New, run.Summary.Removed)
		}
	case RunStatusFailed:
		status.State = CommitStateError
		status.Description = "Visual test run failed"
		if run.FailureReason != "" {
			status.Description = "Visual test run failed: " + run.FailureReason
		}
	default:
		status.State = CommitStatePending
		status.Description = "Visual tests " + string(run.Status)
	}

	return status
}
