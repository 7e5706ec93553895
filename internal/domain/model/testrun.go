package model

import "time"

// TestRun is one execution of a project's visual suite, mirrored from a
// remote build.
type TestRun struct {
	ID            string
	ProjectID     string
	RemoteBuildID string
	Status        RunStatus
	Branch        string
	Commit        string
	TriggeredBy   string
	FailureReason string // Set when the run was failed locally, e.g. poll ceiling reached.
	StartedAt     time.Time
	CompletedAt   *time.Time
	Summary       *ResultsSummary
}

// ResultsSummary aggregates result counts for a run.
type ResultsSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	New     int `json:"new"`
	Removed int `json:"removed"`
}

// Summarize counts results by status.
func Summarize(results []TestResult) ResultsSummary {
	summary := ResultsSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ResultStatusPassed:
			summary.Passed++
		case ResultStatusFailed:
			summary.Failed++
		case ResultStatusNew:
			summary.New++
		case ResultStatusRemoved:
			summary.Removed++
		}
	}
	return summary
}
