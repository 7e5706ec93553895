package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/stretchr/testify/require"
)

// testKey is a fixed 32-byte AES-256 key for repository tests.
var testKey = []byte("0123456789abcdef0123456789abcdef")

// baseTime anchors fixture timestamps.
var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// makeProject returns a project fixture with credentials and a capture config.
func makeProject(id, teamID, name string) model.Project {
	return model.Project{
		ID:              id,
		TeamID:          teamID,
		Name:            name,
		Description:     "Visual suite for " + name,
		RemoteProjectID: "remote-" + id,
		RemoteBaseURL:   "https://diff.example.com",
		Branch:          "main",
		Token:           "tok-" + id,
		WebhookSecret:   "whsec-" + id,
		Config: model.ProjectConfig{
			TestDirectories: []string{"tests/visual"},
			Viewports:       []model.Viewport{{Width: 1280, Height: 720}},
			Browsers:        []string{"chromium"},
			Capture:         model.CaptureOptions{FullPage: true, DelayMS: 250},
		},
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

// insertProject persists a project fixture and returns it.
func insertProject(t *testing.T, db *DB, id string) model.Project {
	t.Helper()
	p := makeProject(id, "team-1", "Project "+id)
	require.NoError(t, NewProjectRepo(db, testKey).Create(context.Background(), p))
	return p
}

// insertRun persists a run fixture for projectID and returns it.
func insertRun(t *testing.T, db *DB, projectID, runID, remoteBuildID string, status model.RunStatus, startedAt time.Time) model.TestRun {
	t.Helper()
	run := model.TestRun{
		ID:            runID,
		ProjectID:     projectID,
		RemoteBuildID: remoteBuildID,
		Status:        status,
		Branch:        "main",
		Commit:        "abc123",
		TriggeredBy:   "alice",
		StartedAt:     startedAt,
	}
	require.NoError(t, NewRunRepo(db).Create(context.Background(), run))
	return run
}
