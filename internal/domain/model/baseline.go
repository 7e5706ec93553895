package model

import "time"

// Baseline is a named snapshot of a completed run's results.
type Baseline struct {
	ID         string
	ProjectID  string
	RunID      string
	Name       string
	CreatedBy  string
	Summary    ResultsSummary
	ResultIDs  []string
	ArchiveKey string // Object key of the archived manifest; empty when not archived.
	CreatedAt  time.Time
}
