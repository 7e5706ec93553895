package model

import "time"

// Project links a team's visual test suite to a project on the remote
// visual-diffing service.
type Project struct {
	ID              string
	TeamID          string
	Name            string
	Description     string
	RemoteProjectID string
	RemoteBaseURL   string
	Branch          string
	Token           string `json:"-"` // Bearer token for the remote service. Never serialized.
	WebhookSecret   string `json:"-"` // HMAC key for inbound webhooks. Never serialized.
	GitHubRepo      string // Optional owner/name for commit status reporting.
	Config          ProjectConfig
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasToken reports whether remote credentials are configured.
func (p Project) HasToken() bool {
	return p.Token != ""
}

// HasWebhookSecret reports whether inbound webhooks must be signed.
func (p Project) HasWebhookSecret() bool {
	return p.WebhookSecret != ""
}

// ProjectConfig is the capture configuration bag forwarded to test tooling.
type ProjectConfig struct {
	TestDirectories []string       `json:"testDirectories"`
	Viewports       []Viewport     `json:"viewports"`
	Browsers        []string       `json:"browsers"`
	IgnorePatterns  []string       `json:"ignorePatterns"`
	Capture         CaptureOptions `json:"capture"`
}

// Viewport is a browser window size used when capturing screenshots.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureOptions tune how screenshots are taken.
type CaptureOptions struct {
	FullPage        bool   `json:"fullPage"`
	DelayMS         int    `json:"delayMs"`
	WaitForSelector string `json:"waitForSelector,omitempty"`
	DisableAnimate  bool   `json:"disableAnimations"`
}

// Normalized returns a copy with nil slices replaced by empty ones so the
// stored and serialized form is stable.
func (c ProjectConfig) Normalized() ProjectConfig {
	if c.TestDirectories == nil {
		c.TestDirectories = []string{}
	}
	if c.Viewports == nil {
		c.Viewports = []Viewport{}
	}
	if c.Browsers == nil {
		c.Browsers = []string{}
	}
	if c.IgnorePatterns == nil {
		c.IgnorePatterns = []string{}
	}
	return c
}
