package model

import "time"

// RemoteProject is a project as reported by the visual-diffing service.
type RemoteProject struct {
	ID   string
	Name string
	Slug string
}

// RemoteBuild is a build as reported by the visual-diffing service.
type RemoteBuild struct {
	ID        string
	ProjectID string
	Name      string
	Branch    string
	Commit    string
	Status    RemoteBuildStatus
	WebURL    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemoteScreenshot is a single screenshot comparison within a remote build.
// Image URLs are absolute; the client resolves relative ones against its base URL.
type RemoteScreenshot struct {
	ID             string
	BuildID        string
	Name           string
	Status         RemoteScreenshotStatus
	BaselineURL    string
	CurrentURL     string
	DiffURL        string
	DiffPercentage *float64
	Approved       bool
	UpdatedAt      *time.Time
}

// CreateBuildRequest describes a build to start on the remote service.
type CreateBuildRequest struct {
	Branch string
	Commit string
	Name   string
}
