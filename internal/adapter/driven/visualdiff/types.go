package visualdiff

import "time"

// Wire types of the visual-diffing service API.

type projectJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type createBuildJSON struct {
	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`
	Name   string `json:"name"`
}

type buildJSON struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	Commit    string    `json:"commit"`
	Status    string    `json:"status"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type screenshotJSON struct {
	ID             string     `json:"id"`
	BuildID        string     `json:"buildId"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	BaselineURL    string     `json:"baselineUrl"`
	CurrentURL     string     `json:"currentUrl"`
	DiffURL        string     `json:"diffUrl"`
	DiffPercentage *float64   `json:"diffPercentage"`
	Approved       bool       `json:"approved"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// listJSON is the envelope of list endpoints.
type listJSON[T any] struct {
	Data []T `json:"data"`
}
