package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// --- In-memory stores ---

type memProjectStore struct {
	mu       sync.Mutex
	projects map[string]model.Project
	createFn func(model.Project) error
}

func newMemProjectStore() *memProjectStore {
	return &memProjectStore{projects: map[string]model.Project{}}
}

func (m *memProjectStore) Create(_ context.Context, p model.Project) error {
	if m.createFn != nil {
		if err := m.createFn(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *memProjectStore) Update(_ context.Context, p model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return driven.ErrProjectNotFound
	}
	m.projects[p.ID] = p
	return nil
}

func (m *memProjectStore) GetByID(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memProjectStore) List(_ context.Context, teamID string) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Project
	for _, p := range m.projects {
		if teamID == "" || p.TeamID == teamID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memProjectStore) ListByRemoteProjectID(_ context.Context, remoteID string) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Project
	for _, p := range m.projects {
		if p.RemoteProjectID == remoteID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProjectStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return driven.ErrProjectNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *memProjectStore) put(p model.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

// memRunStore enforces the same transition guard as the SQL store.
type memRunStore struct {
	mu   sync.Mutex
	runs map[string]model.TestRun
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: map[string]model.TestRun{}}
}

func (m *memRunStore) Create(_ context.Context, run model.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if run.RemoteBuildID != "" && r.ProjectID == run.ProjectID && r.RemoteBuildID == run.RemoteBuildID {
			return fmt.Errorf("duplicate remote build %s", run.RemoteBuildID)
		}
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRunStore) GetByID(_ context.Context, id string) (*model.TestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRunStore) GetByRemoteBuildID(_ context.Context, projectID, buildID string) (*model.TestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ProjectID == projectID && r.RemoteBuildID == buildID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memRunStore) FindByRemoteBuildID(_ context.Context, buildID string) (*model.TestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.RemoteBuildID == buildID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memRunStore) ListByProject(_ context.Context, projectID string, limit, offset int) ([]model.TestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.TestRun
	for _, r := range m.runs {
		if r.ProjectID == projectID {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memRunStore) CountByProject(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (m *memRunStore) TransitionStatus(_ context.Context, id string, to model.RunStatus, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || !model.CanTransition(r.Status, to) {
		return false, nil
	}
	r.Status = to
	if to.IsTerminal() {
		r.CompletedAt = &at
	}
	if to == model.RunStatusFailed && reason != "" {
		r.FailureReason = reason
	}
	m.runs[id] = r
	return true, nil
}

func (m *memRunStore) UpdateSummary(_ context.Context, id string, summary model.ResultsSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return driven.ErrRunNotFound
	}
	r.Summary = &summary
	m.runs[id] = r
	return nil
}

func (m *memRunStore) get(id string) model.TestRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func (m *memRunStore) deleteProject(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.runs {
		if r.ProjectID == projectID {
			delete(m.runs, id)
		}
	}
}

type memResultStore struct {
	mu         sync.Mutex
	byRun      map[string][]model.TestResult
	runs       *memRunStore
	decisions  int
	replaceErr error
}

func newMemResultStore(runs *memRunStore) *memResultStore {
	return &memResultStore{byRun: map[string][]model.TestResult{}, runs: runs}
}

func (m *memResultStore) ReplaceForRun(_ context.Context, runID string, results []model.TestResult) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRun[runID] = append([]model.TestResult(nil), results...)
	return nil
}

func (m *memResultStore) ListByRun(_ context.Context, runID string) ([]model.TestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.TestResult(nil), m.byRun[runID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memResultStore) GetByID(_ context.Context, id string) (*model.TestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, results := range m.byRun {
		for _, r := range results {
			if r.ID == id {
				return &r, nil
			}
		}
	}
	return nil, nil
}

func (m *memResultStore) FindByRemoteScreenshotID(_ context.Context, projectID, shotID string) (*model.TestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best      *model.TestResult
		bestStart time.Time
	)
	for runID, results := range m.byRun {
		run := m.runs.get(runID)
		if run.ProjectID != projectID {
			continue
		}
		for _, r := range results {
			if r.RemoteScreenshotID == shotID && (best == nil || run.StartedAt.After(bestStart)) {
				r := r
				best, bestStart = &r, run.StartedAt
			}
		}
	}
	return best, nil
}

func (m *memResultStore) SetDecision(_ context.Context, id string, d driven.ResultDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for runID, results := range m.byRun {
		for i, r := range results {
			if r.ID == id {
				at := d.ApprovedAt
				r.Approved, r.Decision, r.ApprovedBy, r.ApprovedAt = d.Approved, d.Decision, d.ApprovedBy, &at
				m.byRun[runID][i] = r
				m.decisions++
				return nil
			}
		}
	}
	return driven.ErrResultNotFound
}

type memWebhookStore struct {
	mu     sync.Mutex
	events []model.WebhookEvent
}

func (m *memWebhookStore) Append(_ context.Context, e model.WebhookEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return e.ID, nil
}

func (m *memWebhookStore) ListByProject(_ context.Context, projectID string, since time.Time, limit int) ([]model.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if e.ProjectID == projectID && !e.ReceivedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memWebhookStore) all() []model.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WebhookEvent(nil), m.events...)
}

type memBaselineStore struct {
	mu        sync.Mutex
	baselines []model.Baseline
}

func (m *memBaselineStore) Create(_ context.Context, b model.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = append(m.baselines, b)
	return nil
}

func (m *memBaselineStore) ListByProject(_ context.Context, projectID string) ([]model.Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Baseline
	for i := len(m.baselines) - 1; i >= 0; i-- {
		if m.baselines[i].ProjectID == projectID {
			out = append(out, m.baselines[i])
		}
	}
	return out, nil
}

// --- Remote service fake ---

// fakeRemote is a scriptable visual-diff service shared by every client the
// fake factory hands out.
type fakeRemote struct {
	mu          sync.Mutex
	pingErr     error
	projects    map[string]model.RemoteProject
	builds      map[string]*model.RemoteBuild
	buildSeq    []model.RemoteBuildStatus // statuses returned by successive GetBuild calls
	getBuildErr error
	screenshots map[string][]model.RemoteScreenshot
	approveErr  error
	createErr   error
	createStat  model.RemoteBuildStatus // initial status of created builds; pending when empty
	shotsErr    error
	listBuilds  []model.RemoteBuild
	listErr     error

	getBuildCalls int
	approved      []string
	rejected      []string
	created       []model.CreateBuildRequest
	newCalls      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		projects:    map[string]model.RemoteProject{},
		builds:      map[string]*model.RemoteBuild{},
		screenshots: map[string][]model.RemoteScreenshot{},
	}
}

func (f *fakeRemote) New(_, _ string) driven.VisualDiffClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newCalls++
	return &fakeClient{remote: f}
}

func (f *fakeRemote) setBuildStatus(id string, status model.RemoteBuildStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.builds[id]; ok {
		b.Status = status
	}
}

func (f *fakeRemote) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getBuildCalls
}

type fakeClient struct {
	remote *fakeRemote
}

func (c *fakeClient) Ping(context.Context) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	return c.remote.pingErr
}

func (c *fakeClient) GetProject(_ context.Context, id string) (*model.RemoteProject, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	p, ok := c.remote.projects[id]
	if !ok {
		return nil, &driven.RemoteError{Op: "get project", Resource: id, StatusCode: 404, Err: driven.ErrRemoteNotFound}
	}
	return &p, nil
}

func (c *fakeClient) CreateBuild(_ context.Context, projectID string, req model.CreateBuildRequest) (*model.RemoteBuild, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	if c.remote.createErr != nil {
		return nil, c.remote.createErr
	}
	c.remote.created = append(c.remote.created, req)
	b := &model.RemoteBuild{
		ID:        fmt.Sprintf("build-%d", len(c.remote.created)),
		ProjectID: projectID,
		Name:      req.Name,
		Branch:    req.Branch,
		Commit:    req.Commit,
		Status:    model.RemoteBuildPending,
	}
	if c.remote.createStat != "" {
		b.Status = c.remote.createStat
	}
	c.remote.builds[b.ID] = b
	copied := *b
	return &copied, nil
}

func (c *fakeClient) GetBuild(_ context.Context, id string) (*model.RemoteBuild, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.getBuildCalls++
	if c.remote.getBuildErr != nil {
		return nil, c.remote.getBuildErr
	}
	b, ok := c.remote.builds[id]
	if !ok {
		return nil, &driven.RemoteError{Op: "get build", Resource: id, StatusCode: 404, Err: driven.ErrRemoteNotFound}
	}
	if len(c.remote.buildSeq) > 0 {
		b.Status = c.remote.buildSeq[0]
		c.remote.buildSeq = c.remote.buildSeq[1:]
	}
	copied := *b
	return &copied, nil
}

func (c *fakeClient) ListBuilds(context.Context, string, string, int) ([]model.RemoteBuild, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	return c.remote.listBuilds, c.remote.listErr
}

func (c *fakeClient) ListScreenshots(_ context.Context, buildID string) ([]model.RemoteScreenshot, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	if c.remote.shotsErr != nil {
		return nil, c.remote.shotsErr
	}
	return c.remote.screenshots[buildID], nil
}

func (c *fakeClient) ApproveScreenshot(_ context.Context, id string) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	if c.remote.approveErr != nil {
		return c.remote.approveErr
	}
	c.remote.approved = append(c.remote.approved, id)
	return nil
}

func (c *fakeClient) RejectScreenshot(_ context.Context, id string) error {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	if c.remote.approveErr != nil {
		return c.remote.approveErr
	}
	c.remote.rejected = append(c.remote.rejected, id)
	return nil
}

// --- Notification and commit status fakes ---

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingNotifier) Publish(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) types(topic string) []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventType
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e.Type)
		}
	}
	return out
}

// run returns the RunUpdate payloads of eventType published on topic.
func (r *recordingNotifier) run(topic string, eventType model.EventType) []RunUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RunUpdate
	for _, e := range r.events {
		if e.Topic != topic || e.Type != eventType {
			continue
		}
		if data, ok := e.Data.(RunUpdate); ok {
			out = append(out, data)
		}
	}
	return out
}

type recordingReporter struct {
	mu       sync.Mutex
	statuses []model.CommitStatus
}

func (r *recordingReporter) ReportStatus(_ context.Context, _, _ string, s model.CommitStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	return nil
}

func (r *recordingReporter) states() []model.CommitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CommitState
	for _, s := range r.statuses {
		out = append(out, s.State)
	}
	return out
}

type fakeArchive struct {
	mu   sync.Mutex
	err  error
	puts map[string][]byte
}

func (f *fakeArchive) PutManifest(_ context.Context, key string, manifest []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = manifest
	return nil
}

// --- Harness ---

// harness wires every service against the in-memory fakes.
type harness struct {
	projects   *memProjectStore
	runs       *memRunStore
	results    *memResultStore
	webhooks   *memWebhookStore
	baselines  *memBaselineStore
	remote     *fakeRemote
	notifier   *recordingNotifier
	reporter   *recordingReporter
	archive    *fakeArchive
	clients    *RemoteClientProvider
	supervisor *PollSupervisor

	projectSvc  *ProjectService
	runSvc      *RunService
	resultSvc   *ResultService
	webhookSvc  *WebhookService
	baselineSvc *BaselineService
}

func newHarness(t *testing.T, cfg RunConfig) *harness {
	t.Helper()

	h := &harness{
		projects:   newMemProjectStore(),
		runs:       newMemRunStore(),
		webhooks:   &memWebhookStore{},
		baselines:  &memBaselineStore{},
		remote:     newFakeRemote(),
		notifier:   &recordingNotifier{},
		reporter:   &recordingReporter{},
		archive:    &fakeArchive{},
		supervisor: NewPollSupervisor(),
	}
	h.results = newMemResultStore(h.runs)
	h.clients = NewRemoteClientProvider(h.remote)

	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = time.Second
	}

	h.projectSvc = NewProjectService(h.projects, h.clients, h.supervisor, h.notifier, "https://diff.example.com", cfg.RemoteTimeout)
	h.resultSvc = NewResultService(h.projects, h.runs, h.results, h.clients, h.notifier, cfg.RemoteTimeout)
	h.runSvc = NewRunService(h.projects, h.runs, h.resultSvc, h.clients, h.supervisor, h.notifier, NewStatusMirror(h.reporter), cfg)
	h.webhookSvc = NewWebhookService(h.projects, h.runs, h.webhooks, h.runSvc, h.resultSvc, WebhookConfig{Retention: 30 * 24 * time.Hour})
	h.baselineSvc = NewBaselineService(h.projects, h.runs, h.results, h.baselines, h.archive)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.supervisor.Shutdown(ctx)
	})
	return h
}

// slowPolling keeps poll tasks from ticking during a test.
var slowPolling = RunConfig{PollInterval: time.Hour, PollTimeout: 10 * time.Hour}

// seedProject stores a linked project directly.
func (h *harness) seedProject(id string) model.Project {
	p := model.Project{
		ID:              id,
		TeamID:          "team-1",
		Name:            "Storefront",
		RemoteProjectID: "rp-" + id,
		RemoteBaseURL:   "https://diff.example.com",
		Branch:          "main",
		Token:           "tok",
		GitHubRepo:      "acme/storefront",
	}
	h.projects.put(p)
	h.remote.projects[p.RemoteProjectID] = model.RemoteProject{ID: p.RemoteProjectID, Name: p.Name}
	return p
}

// seedRun stores a run and, when the build is not known remotely yet, a
// matching remote build.
func (h *harness) seedRun(run model.TestRun) model.TestRun {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	h.runs.runs[run.ID] = run
	if _, ok := h.remote.builds[run.RemoteBuildID]; !ok {
		h.remote.builds[run.RemoteBuildID] = &model.RemoteBuild{
			ID:     run.RemoteBuildID,
			Status: model.RemoteBuildPending,
		}
	}
	return run
}

// seedCompletedRun stores a completed run with the given results.
func (h *harness) seedCompletedRun(projectID, runID, buildID string, results ...model.TestResult) model.TestRun {
	now := time.Now().UTC()
	run := model.TestRun{
		ID: runID, ProjectID: projectID, RemoteBuildID: buildID,
		Status: model.RunStatusCompleted, StartedAt: now, CompletedAt: &now, Commit: "abc123",
	}
	h.runs.runs[runID] = run
	h.results.byRun[runID] = results
	return run
}
