package model

import (
	"strings"
	"time"
)

// resultIDSeparator joins the run ID and the remote screenshot ID in a result ID.
const resultIDSeparator = ":"

// TestResult is the outcome of one screenshot comparison within a run.
type TestResult struct {
	ID                 string // "<runID>:<remoteScreenshotID>"
	RunID              string
	RemoteScreenshotID string
	Name               string
	Status             ResultStatus
	BaselineURL        string
	CurrentURL         string
	DiffURL            string
	DiffPercentage     *float64
	Approved           bool
	Decision           Decision
	ApprovedBy         string
	ApprovedAt         *time.Time
	RemoteUpdatedAt    *time.Time // Last modification reported by the remote service.
}

// ResultID builds the local result ID for a remote screenshot within a run.
func ResultID(runID, screenshotID string) string {
	return runID + resultIDSeparator + screenshotID
}

// ParseResultID splits a result ID into its run and remote screenshot parts.
// ok is false when the ID does not carry both parts.
func ParseResultID(id string) (runID, screenshotID string, ok bool) {
	runID, screenshotID, found := strings.Cut(id, resultIDSeparator)
	if !found || runID == "" || screenshotID == "" {
		return "", "", false
	}
	return runID, screenshotID, true
}
