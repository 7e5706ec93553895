// Package visualdiff implements the VisualDiffClient port over the remote
// visual-diffing service's JSON REST API.
package visualdiff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.VisualDiffClient        = (*Client)(nil)
	_ driven.VisualDiffClientFactory = (*Factory)(nil)
)

// maxErrorBody bounds how much of an error response is read into messages.
const maxErrorBody = 4 << 10

// Client implements driven.VisualDiffClient for one base URL and token.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	token   string
}

// NewClient creates a client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching for GET polling)
//  2. net/http default transport
//
// timeout bounds every request in addition to the caller's context.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return NewClientWithHTTPClient(&http.Client{Transport: cacheTransport, Timeout: timeout}, baseURL, token)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// Tests use it to inject an httptest server client.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", baseURL)
	}

	return &Client{http: httpClient, baseURL: u, token: token}, nil
}

// Ping checks that the service answers its health endpoint with the token.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", "", http.MethodGet, c.endpoint(nil, "health"), nil, nil)
}

// GetProject fetches a remote project by ID.
func (c *Client) GetProject(ctx context.Context, projectID string) (*model.RemoteProject, error) {
	var p projectJSON
	if err := c.do(ctx, "get project", projectID, http.MethodGet, c.endpoint(nil, "projects", projectID), nil, &p); err != nil {
		return nil, err
	}
	return &model.RemoteProject{ID: p.ID, Name: p.Name, Slug: p.Slug}, nil
}

// CreateBuild starts a new build for the remote project.
func (c *Client) CreateBuild(ctx context.Context, projectID string, req model.CreateBuildRequest) (*model.RemoteBuild, error) {
	body := createBuildJSON{Branch: req.Branch, Commit: req.Commit, Name: req.Name}

	var b buildJSON
	if err := c.do(ctx, "create build", projectID, http.MethodPost, c.endpoint(nil, "projects", projectID, "builds"), body, &b); err != nil {
		return nil, err
	}
	build := c.mapBuild(b)
	return &build, nil
}

// GetBuild fetches the current state of a remote build.
func (c *Client) GetBuild(ctx context.Context, buildID string) (*model.RemoteBuild, error) {
	var b buildJSON
	if err := c.do(ctx, "get build", buildID, http.MethodGet, c.endpoint(nil, "builds", buildID), nil, &b); err != nil {
		return nil, err
	}
	build := c.mapBuild(b)
	return &build, nil
}

// ListBuilds returns recent builds of a remote project, newest first.
func (c *Client) ListBuilds(ctx context.Context, projectID, branch string, limit int) ([]model.RemoteBuild, error) {
	query := url.Values{}
	if branch != "" {
		query.Set("branch", branch)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp listJSON[buildJSON]
	if err := c.do(ctx, "list builds", projectID, http.MethodGet, c.endpoint(query, "projects", projectID, "builds"), nil, &resp); err != nil {
		return nil, err
	}

	builds := make([]model.RemoteBuild, 0, len(resp.Data))
	for _, b := range resp.Data {
		builds = append(builds, c.mapBuild(b))
	}
	return builds, nil
}

// ListScreenshots returns every screenshot comparison in a build.
func (c *Client) ListScreenshots(ctx context.Context, buildID string) ([]model.RemoteScreenshot, error) {
	var resp listJSON[screenshotJSON]
	if err := c.do(ctx, "list screenshots", buildID, http.MethodGet, c.endpoint(nil, "builds", buildID, "screenshots"), nil, &resp); err != nil {
		return nil, err
	}

	shots := make([]model.RemoteScreenshot, 0, len(resp.Data))
	for _, s := range resp.Data {
		shots = append(shots, c.mapScreenshot(buildID, s))
	}
	return shots, nil
}

// ApproveScreenshot accepts the current image of a screenshot as its new baseline.
func (c *Client) ApproveScreenshot(ctx context.Context, screenshotID string) error {
	return c.do(ctx, "approve screenshot", screenshotID, http.MethodPost, c.endpoint(nil, "screenshots", screenshotID, "approve"), nil, nil)
}

// RejectScreenshot marks a screenshot's change as unwanted.
func (c *Client) RejectScreenshot(ctx context.Context, screenshotID string) error {
	return c.do(ctx, "reject screenshot", screenshotID, http.MethodPost, c.endpoint(nil, "screenshots", screenshotID, "reject"), nil, nil)
}

// endpoint builds an API URL under /api/v1, escaping each path segment.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	raw := append([]string{"api", "v1"}, segments...)
	escaped := make([]string, 0, len(raw))
	for _, s := range raw {
		escaped = append(escaped, url.PathEscape(s))
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.Join(raw, "/")
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs a JSON request. A nil out discards the response body.
// Errors are *driven.RemoteError values and never include the token.
func (c *Client) do(ctx context.Context, op, resource, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &driven.RemoteError{Op: op, Resource: resource, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &driven.RemoteError{Op: op, Resource: resource, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &driven.RemoteError{Op: op, Resource: resource, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get(httpcache.XFromCache) != "" {
		slog.Debug("visualdiff: served from cache", "op", op, "resource", resource)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remoteErr := &driven.RemoteError{
			Op:         op,
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
		if resp.StatusCode == http.StatusNotFound {
			remoteErr.Err = driven.ErrRemoteNotFound
		}
		return remoteErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &driven.RemoteError{Op: op, Resource: resource, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts a short message from an error body, preferring the
// JSON "error" or "message" field.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func (c *Client) mapBuild(b buildJSON) model.RemoteBuild {
	return model.RemoteBuild{
		ID:        b.ID,
		ProjectID: b.ProjectID,
		Name:      b.Name,
		Branch:    b.Branch,
		Commit:    b.Commit,
		Status:    model.RemoteBuildStatus(b.Status),
		WebURL:    c.resolve(b.URL),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func (c *Client) mapScreenshot(buildID string, s screenshotJSON) model.RemoteScreenshot {
	shot := model.RemoteScreenshot{
		ID:             s.ID,
		BuildID:        s.BuildID,
		Name:           s.Name,
		Status:         model.RemoteScreenshotStatus(s.Status),
		BaselineURL:    c.resolve(s.BaselineURL),
		CurrentURL:     c.resolve(s.CurrentURL),
		DiffURL:        c.resolve(s.DiffURL),
		DiffPercentage: s.DiffPercentage,
		Approved:       s.Approved,
		UpdatedAt:      s.UpdatedAt,
	}
	if shot.BuildID == "" {
		shot.BuildID = buildID
	}
	return shot
}

// resolve turns a relative reference into an absolute URL under the base URL.
// Unparseable values are returned unchanged.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(u).String()
}

// Factory creates Clients sharing one request timeout.
type Factory struct {
	timeout time.Duration
}

// NewFactory returns a Factory whose clients bound each request by timeout.
func NewFactory(timeout time.Duration) *Factory {
	return &Factory{timeout: timeout}
}

// New returns a client for baseURL. An invalid base URL yields a client
// whose every call fails with that error.
func (f *Factory) New(baseURL, token string) driven.VisualDiffClient {
	c, err := NewClient(baseURL, token, f.timeout)
	if err != nil {
		return brokenClient{err: err}
	}
	return c
}

// brokenClient reports a construction error from every operation.
type brokenClient struct {
	err error
}

func (b brokenClient) fail(op string) error {
	return &driven.RemoteError{Op: op, Err: b.err}
}

func (b brokenClient) Ping(context.Context) error { return b.fail("ping") }

func (b brokenClient) GetProject(context.Context, string) (*model.RemoteProject, error) {
	return nil, b.fail("get project")
}

func (b brokenClient) CreateBuild(context.Context, string, model.CreateBuildRequest) (*model.RemoteBuild, error) {
	return nil, b.fail("create build")
}

func (b brokenClient) GetBuild(context.Context, string) (*model.RemoteBuild, error) {
	return nil, b.fail("get build")
}

func (b brokenClient) ListBuilds(context.Context, string, string, int) ([]model.RemoteBuild, error) {
	return nil, b.fail("list builds")
}

func (b brokenClient) ListScreenshots(context.Context, string) ([]model.RemoteScreenshot, error) {
	return nil, b.fail("list screenshots")
}

func (b brokenClient) ApproveScreenshot(context.Context, string) error {
	return b.fail("approve screenshot")
}

func (b brokenClient) RejectScreenshot(context.Context, string) error {
	return b.fail("reject screenshot")
}
