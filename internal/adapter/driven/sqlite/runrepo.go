package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, project_id, remote_build_id, status, branch, commit_sha, triggered_by,
	failure_reason, started_at, completed_at, summary`

// statusRankSQL mirrors model.RunStatus.Rank for use inside queries.
const statusRankSQL = `CASE status WHEN 'pending' THEN 0 WHEN 'running' THEN 1 ELSE 2 END`

// Create inserts a new run.
func (r *RunRepo) Create(ctx context.Context, run model.TestRun) error {
	summary, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO test_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Writer.ExecContext(ctx, query,
		run.ID, run.ProjectID, run.RemoteBuildID, string(run.Status), run.Branch, run.Commit,
		run.TriggeredBy, run.FailureReason, formatTime(run.StartedAt),
		formatOptionalTime(run.CompletedAt), summary,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID retrieves a run by ID. Returns nil, nil if not found.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.TestRun, error) {
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE id = ?`
	return r.queryOne(ctx, "get run "+id, query, id)
}

// GetByRemoteBuildID retrieves a project's run for a remote build. Returns nil, nil if not found.
func (r *RunRepo) GetByRemoteBuildID(ctx context.Context, projectID, remoteBuildID string) (*model.TestRun, error) {
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE project_id = ? AND remote_build_id = ?`
	return r.queryOne(ctx, "get run for build "+remoteBuildID, query, projectID, remoteBuildID)
}

// FindByRemoteBuildID retrieves the most recent run for a remote build in any project.
func (r *RunRepo) FindByRemoteBuildID(ctx context.Context, remoteBuildID string) (*model.TestRun, error) {
	if remoteBuildID == "" {
		return nil, nil
	}
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE remote_build_id = ? ORDER BY started_at DESC LIMIT 1`
	return r.queryOne(ctx, "find run for build "+remoteBuildID, query, remoteBuildID)
}

// ListByProject returns a page of runs, most recently started first.
func (r *RunRepo) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.TestRun, error) {
	query := `SELECT ` + runColumns + ` FROM test_runs WHERE project_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var runs []model.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// CountByProject returns the total number of runs for a project.
func (r *RunRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM test_runs WHERE project_id = ?`

	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs for project %s: %w", projectID, err)
	}
	return count, nil
}

// TransitionStatus applies a status change in a single conditional UPDATE so
// concurrent pollers and webhooks cannot move a run backwards or out of a
// terminal state. It reports whether the row changed.
func (r *RunRepo) TransitionStatus(ctx context.Context, id string, to model.RunStatus, reason string, at time.Time) (bool, error) {
	if to.Rank() < 0 {
		return false, fmt.Errorf("transition run %s: unknown status %q", id, to)
	}

	var completedAt any
	if to.IsTerminal() {
		completedAt = formatTime(at)
	}
	if to != model.RunStatusFailed {
		reason = ""
	}

	query := `
		UPDATE test_runs SET
			status = ?,
			completed_at = COALESCE(?, completed_at),
			failure_reason = CASE WHEN ? != '' THEN ? ELSE failure_reason END
		WHERE id = ?
			AND status NOT IN ('completed', 'failed')
			AND ` + statusRankSQL + ` < ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(to), completedAt, reason, reason, id, to.Rank(),
	)
	if err != nil {
		return false, fmt.Errorf("transition run %s to %s: %w", id, to, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateSummary overwrites the results summary of a run.
func (r *RunRepo) UpdateSummary(ctx context.Context, id string, summary model.ResultsSummary) error {
	raw, err := marshalSummary(&summary)
	if err != nil {
		return err
	}

	const query = `UPDATE test_runs SET summary = ? WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query, raw, id)
	if err != nil {
		return fmt.Errorf("update summary for run %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update summary for run %s: %w", id, driven.ErrRunNotFound)
	}
	return nil
}

func (r *RunRepo) queryOne(ctx context.Context, op, query string, args ...any) (*model.TestRun, error) {
	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return run, nil
}

func scanRun(s scanner) (*model.TestRun, error) {
	var (
		run          model.TestRun
		status       string
		startedAtStr string
		completedAt  sql.NullString
		summary      sql.NullString
	)

	err := s.Scan(
		&run.ID, &run.ProjectID, &run.RemoteBuildID, &status, &run.Branch, &run.Commit,
		&run.TriggeredBy, &run.FailureReason, &startedAtStr, &completedAt, &summary,
	)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)

	if run.StartedAt, err = parseTime(startedAtStr); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	if summary.Valid && summary.String != "" {
		var s model.ResultsSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		run.Summary = &s
	}

	return &run, nil
}

func marshalSummary(s *model.ResultsSummary) (any, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return string(raw), nil
}
