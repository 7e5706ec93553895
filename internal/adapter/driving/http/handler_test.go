package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/snapgate/internal/adapter/driving/http"
	"github.com/ericfisherdev/snapgate/internal/adapter/driving/realtime"
	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testTimeStr = "2026-03-01T12:00:00Z"

// --- Fake services ---

type fakeProjects struct {
	projects   []model.Project
	err        error
	registered application.RegisterProjectInput
	updated    application.UpdateProjectInput
	listedTeam string
	deletedID  string
	panicOnGet bool
}

func (f *fakeProjects) Register(_ context.Context, in application.RegisterProjectInput) (*model.Project, error) {
	f.registered = in
	if f.err != nil {
		return nil, f.err
	}
	return &model.Project{
		ID:              "p1",
		TeamID:          in.TeamID,
		Name:            in.Name,
		Description:     in.Description,
		RemoteProjectID: in.RemoteProjectID,
		RemoteBaseURL:   "https://diff.example.com",
		Branch:          "main",
		Token:           in.Token,
		WebhookSecret:   in.WebhookSecret,
		Config:          in.Config.Normalized(),
		CreatedAt:       testTime,
		UpdatedAt:       testTime,
	}, nil
}

func (f *fakeProjects) Update(_ context.Context, id string, in application.UpdateProjectInput) (*model.Project, error) {
	f.updated = in
	if f.err != nil {
		return nil, f.err
	}
	p := model.Project{ID: id, Name: "Storefront", CreatedAt: testTime, UpdatedAt: testTime}
	if in.Name != nil {
		p.Name = *in.Name
	}
	return &p, nil
}

func (f *fakeProjects) Get(_ context.Context, id string) (*model.Project, error) {
	if f.panicOnGet {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.projects {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, application.ErrProjectNotFound
}

func (f *fakeProjects) List(_ context.Context, teamID string) ([]model.Project, error) {
	f.listedTeam = teamID
	return f.projects, f.err
}

func (f *fakeProjects) Delete(_ context.Context, id string) error {
	f.deletedID = id
	return f.err
}

type fakeRuns struct {
	runs      []model.TestRun
	total     int
	err       error
	triggered application.TriggerInput
	limit     int
	offset    int
}

func (f *fakeRuns) Trigger(_ context.Context, in application.TriggerInput) (*model.TestRun, error) {
	f.triggered = in
	if f.err != nil {
		return nil, f.err
	}
	return &model.TestRun{
		ID:            "r1",
		ProjectID:     in.ProjectID,
		RemoteBuildID: "build-1",
		Status:        model.RunStatusPending,
		Branch:        "main",
		TriggeredBy:   in.Actor,
		StartedAt:     testTime,
	}, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*model.TestRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, application.ErrRunNotFound
}

func (f *fakeRuns) ListRuns(_ context.Context, _ string, limit, offset int) ([]model.TestRun, int, error) {
	f.limit, f.offset = limit, offset
	return f.runs, f.total, f.err
}

type fakeResults struct {
	results  []model.TestResult
	err      error
	decided  string
	actor    string
	decision model.Decision
}

func (f *fakeResults) ListResults(_ context.Context, _ string) ([]model.TestResult, error) {
	return f.results, f.err
}

func (f *fakeResults) GetResult(_ context.Context, id string) (*model.TestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.results {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, application.ErrResultNotFound
}

func (f *fakeResults) Approve(ctx context.Context, id, actor string) (*model.TestResult, error) {
	return f.decide(id, actor, model.DecisionApproved)
}

func (f *fakeResults) Reject(ctx context.Context, id, actor string) (*model.TestResult, error) {
	return f.decide(id, actor, model.DecisionRejected)
}

func (f *fakeResults) decide(id, actor string, d model.Decision) (*model.TestResult, error) {
	f.decided, f.actor, f.decision = id, actor, d
	if f.err != nil {
		return nil, f.err
	}
	at := testTime
	return &model.TestResult{
		ID:         id,
		RunID:      "r1",
		Status:     model.ResultStatusFailed,
		Approved:   d == model.DecisionApproved,
		Decision:   d,
		ApprovedBy: actor,
		ApprovedAt: &at,
	}, nil
}

type fakeWebhooks struct {
	delivery application.WebhookDelivery
	outcome  application.WebhookOutcome
	err      error
	events   []model.WebhookEvent
	lookback time.Duration
}

func (f *fakeWebhooks) Ingest(_ context.Context, d application.WebhookDelivery) (application.WebhookOutcome, error) {
	f.delivery = d
	return f.outcome, f.err
}

func (f *fakeWebhooks) ListEvents(_ context.Context, _ string, lookback time.Duration) ([]model.WebhookEvent, error) {
	f.lookback = lookback
	return f.events, f.err
}

type fakeBaselines struct {
	baselines []model.Baseline
	err       error
	runID     string
	actor     string
}

func (f *fakeBaselines) CreateBaseline(_ context.Context, projectID, runID, name, actor string) (*model.Baseline, error) {
	f.runID, f.actor = runID, actor
	if f.err != nil {
		return nil, f.err
	}
	return &model.Baseline{
		ID:        "b1",
		ProjectID: projectID,
		RunID:     runID,
		Name:      name,
		CreatedBy: actor,
		Summary:   model.ResultsSummary{Total: 1, Passed: 1},
		ResultIDs: []string{runID + ":s1"},
		CreatedAt: testTime,
	}, nil
}

func (f *fakeBaselines) ListBaselines(_ context.Context, _ string) ([]model.Baseline, error) {
	return f.baselines, f.err
}

type fixture struct {
	projects  *fakeProjects
	runs      *fakeRuns
	results   *fakeResults
	webhooks  *fakeWebhooks
	baselines *fakeBaselines
	router    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		projects:  &fakeProjects{},
		runs:      &fakeRuns{},
		results:   &fakeResults{},
		webhooks:  &fakeWebhooks{},
		baselines: &fakeBaselines{},
	}
	h := httphandler.NewHandler(httphandler.Services{
		Projects:  f.projects,
		Runs:      f.runs,
		Results:   f.results,
		Webhooks:  f.webhooks,
		Baselines: f.baselines,
	}, slog.Default())
	f.router = httphandler.NewRouter(h, nil, slog.Default())
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeJSON(t, rec, &body)
	return body["error"]
}

// --- Tests ---

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	_, err := time.Parse(time.RFC3339, resp["time"])
	assert.NoError(t, err)
}

func TestRegisterProject(t *testing.T) {
	f := newFixture(t)

	body := `{
		"teamId": "team-1",
		"name": "Storefront",
		"description": "Checks the **checkout** flow",
		"remoteProjectId": "rp-1",
		"token": "s3cret-token",
		"webhookSecret": "hook-secret",
		"config": {"browsers": ["chromium"], "viewports": [{"width": 1280, "height": 720}]}
	}`
	rec := f.do(http.MethodPost, "/api/v1/projects", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret-token")
	assert.NotContains(t, rec.Body.String(), "hook-secret")

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "p1", resp["id"])
	assert.Equal(t, "team-1", resp["teamId"])
	assert.Equal(t, true, resp["hasToken"])
	assert.Equal(t, true, resp["hasWebhookSecret"])
	assert.Contains(t, resp["descriptionHtml"], "<strong>checkout</strong>")
	assert.Equal(t, testTimeStr, resp["createdAt"])

	cfg, ok := resp["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{}, cfg["testDirectories"])

	assert.Equal(t, "s3cret-token", f.projects.registered.Token)
	assert.Equal(t, []string{"chromium"}, f.projects.registered.Config.Browsers)
	assert.Equal(t, []model.Viewport{{Width: 1280, Height: 720}}, f.projects.registered.Config.Viewports)
}

func TestRegisterProject_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", errorMessage(t, rec))
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid input", fmt.Errorf("%w: name is required", application.ErrInvalidInput), http.StatusBadRequest, "invalid input: name is required"},
		{"project not found", application.ErrProjectNotFound, http.StatusNotFound, "project not found"},
		{"remote project not found", fmt.Errorf("%w: 404", application.ErrRemoteProjectNotFound), http.StatusNotFound, "remote project not found"},
		{"missing credentials", application.ErrMissingCredentials, http.StatusConflict, "project has no remote credentials"},
		{"unreachable", fmt.Errorf("%w: dial tcp: timeout", application.ErrExternalServiceUnreachable), http.StatusBadGateway, "visual-diff service unreachable"},
		{"encryption key", driven.ErrEncryptionKeyNotSet, http.StatusServiceUnavailable, "secret storage is not configured"},
		{"unclassified", errors.New("disk full"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.projects.err = tt.err

			rec := f.do(http.MethodPost, "/api/v1/projects", `{"name":"x"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, errorMessage(t, rec))
		})
	}
}

func TestListProjects(t *testing.T) {
	f := newFixture(t)
	f.projects.projects = []model.Project{
		{ID: "p1", TeamID: "team-1", Name: "Storefront", CreatedAt: testTime, UpdatedAt: testTime},
		{ID: "p2", TeamID: "team-1", Name: "Admin", Token: "t", CreatedAt: testTime, UpdatedAt: testTime},
	}

	rec := f.do(http.MethodGet, "/api/v1/projects?team=team-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "team-1", f.projects.listedTeam)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, false, resp[0]["hasToken"])
	assert.Equal(t, true, resp[1]["hasToken"])
	assert.Equal(t, "", resp[0]["descriptionHtml"])
}

func TestListProjects_EmptyIsArray(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/projects", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetProject_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/projects/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "project not found", errorMessage(t, rec))
}

func TestUpdateProject_PartialFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/api/v1/projects/p1", `{"name":"Renamed","token":""}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.projects.updated.Name)
	assert.Equal(t, "Renamed", *f.projects.updated.Name)
	require.NotNil(t, f.projects.updated.Token)
	assert.Equal(t, "", *f.projects.updated.Token)
	assert.Nil(t, f.projects.updated.Description)
	assert.Nil(t, f.projects.updated.Config)
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodDelete, "/api/v1/projects/p1", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "p1", f.projects.deletedID)
	assert.Empty(t, rec.Body.String())
}

func TestTriggerRun_ActorResolution(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers []string
		want    string
	}{
		{"header wins", `{"actor":"body-user"}`, []string{"X-Actor", "header-user"}, "header-user"},
		{"body field", `{"actor":"body-user"}`, nil, "body-user"},
		{"default", "", nil, "api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := f.do(http.MethodPost, "/api/v1/projects/p1/runs", tt.body, tt.headers...)

			require.Equal(t, http.StatusCreated, rec.Code)
			assert.Equal(t, tt.want, f.runs.triggered.Actor)
			assert.Equal(t, "p1", f.runs.triggered.ProjectID)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, "pending", resp["status"])
			assert.Equal(t, tt.want, resp["triggeredBy"])
			assert.Nil(t, resp["completedAt"])
		})
	}
}

func TestTriggerRun_BranchAndCommit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects/p1/runs", `{"branch":"feature/x","commit":"abc123"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "feature/x", f.runs.triggered.Branch)
	assert.Equal(t, "abc123", f.runs.triggered.Commit)
}

func TestTriggerRun_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	f.runs.err = fmt.Errorf("project p1: %w", application.ErrMissingCredentials)

	rec := f.do(http.MethodPost, "/api/v1/projects/p1/runs", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRuns_Pagination(t *testing.T) {
	f := newFixture(t)
	completed := testTime.Add(time.Minute)
	f.runs.runs = []model.TestRun{
		{
			ID:          "r11",
			ProjectID:   "p1",
			Status:      model.RunStatusCompleted,
			StartedAt:   testTime,
			CompletedAt: &completed,
			Summary:     &model.ResultsSummary{Total: 3, Passed: 2, Failed: 1},
		},
	}
	f.runs.total = 25

	rec := f.do(http.MethodGet, "/api/v1/projects/p1/runs?page=2&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.runs.limit)
	assert.Equal(t, 10, f.runs.offset)

	var resp struct {
		Data []struct {
			ID          string               `json:"id"`
			CompletedAt *string              `json:"completedAt"`
			Summary     model.ResultsSummary `json:"summary"`
		} `json:"data"`
		Pagination struct {
			Page        int  `json:"page"`
			Limit       int  `json:"limit"`
			Total       int  `json:"total"`
			TotalPages  int  `json:"totalPages"`
			HasNext     bool `json:"hasNext"`
			HasPrevious bool `json:"hasPrevious"`
		} `json:"pagination"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "r11", resp.Data[0].ID)
	require.NotNil(t, resp.Data[0].CompletedAt)
	assert.Equal(t, "2026-03-01T12:01:00Z", *resp.Data[0].CompletedAt)
	assert.Equal(t, 1, resp.Data[0].Summary.Failed)

	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, 10, resp.Pagination.Limit)
	assert.Equal(t, 25, resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.True(t, resp.Pagination.HasNext)
	assert.True(t, resp.Pagination.HasPrevious)
}

func TestListRuns_Defaults(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/projects/p1/runs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.runs.limit)
	assert.Equal(t, 0, f.runs.offset)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)
	f.runs.runs = []model.TestRun{{ID: "r1", Status: model.RunStatusRunning, StartedAt: testTime}}

	rec := f.do(http.MethodGet, "/api/v1/runs/r1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "test run not found", errorMessage(t, rec))
}

func TestListResults(t *testing.T) {
	f := newFixture(t)
	pct := 2.5
	f.results.results = []model.TestResult{
		{ID: "r1:s1", RunID: "r1", RemoteScreenshotID: "s1", Name: "home", Status: model.ResultStatusFailed, DiffPercentage: &pct},
	}

	rec := f.do(http.MethodGet, "/api/v1/runs/r1/results", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "r1:s1", resp[0]["id"])
	assert.Equal(t, "failed", resp[0]["status"])
	assert.Equal(t, 2.5, resp[0]["diffPercentage"])
	assert.Equal(t, false, resp[0]["approved"])
	assert.Nil(t, resp[0]["approvedAt"])
}

func TestListResults_RunNotFound(t *testing.T) {
	f := newFixture(t)
	f.results.err = application.ErrRunNotFound

	rec := f.do(http.MethodGet, "/api/v1/runs/nope/results", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecisions(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		wantDecision model.Decision
		wantApproved bool
	}{
		{"approve", "/api/v1/results/r1:s1/approve", model.DecisionApproved, true},
		{"reject", "/api/v1/results/r1:s1/reject", model.DecisionRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := f.do(http.MethodPost, tt.path, `{"actor":"dana"}`)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "r1:s1", f.results.decided)
			assert.Equal(t, "dana", f.results.actor)
			assert.Equal(t, tt.wantDecision, f.results.decision)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantApproved, resp["approved"])
			assert.Equal(t, string(tt.wantDecision), resp["decision"])
			assert.Equal(t, "dana", resp["approvedBy"])
			assert.Equal(t, testTimeStr, resp["approvedAt"])
		})
	}
}

func TestDecisions_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"remote rejected", fmt.Errorf("%w: 500", application.ErrRemoteSyncFailed), http.StatusBadGateway},
		{"run not completed", application.ErrRunNotCompleted, http.StatusConflict},
		{"result not found", application.ErrResultNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.results.err = tt.err

			rec := f.do(http.MethodPost, "/api/v1/results/r1:s1/approve", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestIngestWebhook(t *testing.T) {
	f := newFixture(t)
	f.webhooks.outcome = application.WebhookOutcome{Processed: true}
	payload := `{"event":"build.completed","projectId":"rp-1","buildId":"build-1"}`

	rec := f.do(http.MethodPost, "/api/v1/webhooks/visual", payload,
		"X-Visual-Signature", "sha256=abcd",
		"X-Visual-Event", "build.completed",
	)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, string(f.webhooks.delivery.Payload))
	assert.Equal(t, "sha256=abcd", f.webhooks.delivery.Signature)
	assert.Equal(t, "build.completed", f.webhooks.delivery.EventType)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "event processed", resp["message"])
	assert.Equal(t, true, resp["processed"])
}

func TestIngestWebhook_Ignored(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/visual", `{"event":"ping"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "event ignored", resp["message"])
	assert.Equal(t, false, resp["processed"])
}

func TestIngestWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	f.webhooks.err = fmt.Errorf("project p1: %w", application.ErrInvalidWebhookSignature)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/visual", `{}`, "X-Visual-Signature", "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid webhook signature", errorMessage(t, rec))
}

func TestIngestWebhook_TooLarge(t *testing.T) {
	f := newFixture(t)
	body := `{"pad":"` + strings.Repeat("x", 1<<20) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/visual", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, f.webhooks.delivery.Payload)
}

func TestBaselines(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects/p1/baselines", `{"runId":"r1","name":"release-1"}`, "X-Actor", "lee")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "r1", f.baselines.runID)
	assert.Equal(t, "lee", f.baselines.actor)

	var created map[string]any
	decodeJSON(t, rec, &created)
	assert.Equal(t, "release-1", created["name"])
	assert.Equal(t, []any{"r1:s1"}, created["resultIds"])

	f.baselines.baselines = []model.Baseline{{ID: "b1", ProjectID: "p1", CreatedAt: testTime}}
	rec = f.do(http.MethodGet, "/api/v1/projects/p1/baselines", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	decodeJSON(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, []any{}, listed[0]["resultIds"])
}

func TestCreateBaseline_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects/p1/baselines", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "runId is required", errorMessage(t, rec))

	f.baselines.err = fmt.Errorf("run r1: %w", application.ErrRunNotCompleted)
	rec = f.do(http.MethodPost, "/api/v1/projects/p1/baselines", `{"runId":"r1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListWebhookEvents(t *testing.T) {
	f := newFixture(t)
	f.webhooks.events = []model.WebhookEvent{
		{ID: 2, ProjectID: "p1", EventType: "build.completed", Payload: []byte(`{"buildId":"b1"}`), Verified: true, ReceivedAt: testTime},
		{ID: 1, ProjectID: "p1", EventType: "unknown", Payload: []byte(`not json`), ReceivedAt: testTime},
	}

	rec := f.do(http.MethodGet, "/api/v1/projects/p1/webhook-events?days=7", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7*24*time.Hour, f.webhooks.lookback)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, map[string]any{"buildId": "b1"}, resp[0]["payload"])
	assert.Equal(t, true, resp[0]["verified"])
	assert.Equal(t, "not json", resp[1]["payload"])
}

func TestListWebhookEvents_InvalidDays(t *testing.T) {
	for _, days := range []string{"0", "-3", "week"} {
		t.Run(days, func(t *testing.T) {
			f := newFixture(t)

			rec := f.do(http.MethodGet, "/api/v1/projects/p1/webhook-events?days="+days, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListWebhookEvents_DefaultLookback(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/projects/p1/webhook-events", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.webhooks.lookback)
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newFixture(t)
	f.projects.panicOnGet = true

	rec := f.do(http.MethodGet, "/api/v1/projects/p1", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", errorMessage(t, rec))
}

func TestWebSocketRoute_UpgradesThroughMiddleware(t *testing.T) {
	hub := realtime.NewHub(nil, slog.Default())
	t.Cleanup(hub.Close)

	h := httphandler.NewHandler(httphandler.Services{}, slog.Default())
	srv := httptest.NewServer(httphandler.NewRouter(h, hub, slog.Default()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": "run:r1"}))

	var reply map[string]string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "subscribed", reply["type"])
}
