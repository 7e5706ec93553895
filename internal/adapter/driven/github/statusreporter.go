// Package github implements the CommitStatusReporter port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CommitStatusReporter = (*StatusReporter)(nil)

// StatusReporter posts commit statuses that mirror test run state.
type StatusReporter struct {
	gh *gh.Client
}

// NewStatusReporter creates a reporter with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewStatusReporter(token string) *StatusReporter {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &StatusReporter{gh: client}
}

// NewStatusReporterWithHTTPClient creates a StatusReporter with a custom
// http.Client and base URL. Tests use it to inject an httptest server.
func NewStatusReporterWithHTTPClient(httpClient *http.Client, baseURL, token string) (*StatusReporter, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u

	return &StatusReporter{gh: client}, nil
}

// ReportStatus creates a commit status on sha in repoFullName ("owner/repo").
func (r *StatusReporter) ReportStatus(ctx context.Context, repoFullName, sha string, status model.CommitStatus) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if sha == "" {
		return fmt.Errorf("report status for %s: empty commit sha", repoFullName)
	}

	body := &gh.RepoStatus{
		State:       gh.Ptr(string(status.State)),
		Description: gh.Ptr(truncateDescription(status.Description)),
		Context:     gh.Ptr(status.Context),
	}
	if status.TargetURL != "" {
		body.TargetURL = gh.Ptr(status.TargetURL)
	}

	path := fmt.Sprintf("repos/%s/%s/statuses/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(sha))
	req, err := r.gh.NewRequest(http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("building status request for %s@%s: %w", repoFullName, sha, err)
	}

	var created gh.RepoStatus
	resp, err := r.gh.Do(ctx, req, &created)
	if err != nil {
		return fmt.Errorf("creating commit status for %s@%s: %w", repoFullName, sha, err)
	}

	logRateLimit(resp, repoFullName)
	return nil
}

// Login returns the authenticated user's login. It is used at startup to
// confirm the configured token is accepted.
func (r *StatusReporter) Login(ctx context.Context) (string, error) {
	user, _, err := r.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	return user.GetLogin(), nil
}

// GitHub rejects descriptions longer than 140 characters.
func truncateDescription(s string) string {
	const limit = 140
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, repoFullName string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", "statuses",
		"repo", repoFullName,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
