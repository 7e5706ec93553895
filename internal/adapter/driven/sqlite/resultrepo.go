package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResultStore = (*ResultRepo)(nil)

// ResultRepo is the SQLite implementation of the ResultStore port interface.
type ResultRepo struct {
	db *DB
}

// NewResultRepo creates a new ResultRepo backed by the given DB.
func NewResultRepo(db *DB) *ResultRepo {
	return &ResultRepo{db: db}
}

const resultColumns = `id, run_id, remote_screenshot_id, name, status, baseline_url, current_url,
	diff_url, diff_percentage, approved, decision, approved_by, approved_at, remote_updated_at`

// ReplaceForRun atomically replaces all results for a run.
// It deletes existing results and inserts the provided ones in a single transaction.
func (r *ResultRepo) ReplaceForRun(ctx context.Context, runID string, results []model.TestResult) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const deleteQuery = `DELETE FROM test_results WHERE run_id = ?`
	if _, err := tx.ExecContext(ctx, deleteQuery, runID); err != nil {
		return fmt.Errorf("delete results for run %s: %w", runID, err)
	}

	const insertQuery = `
		INSERT INTO test_results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, res := range results {
		var diff any
		if res.DiffPercentage != nil {
			diff = *res.DiffPercentage
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			res.ID, runID, res.RemoteScreenshotID, res.Name, string(res.Status),
			res.BaselineURL, res.CurrentURL, res.DiffURL, diff,
			boolToInt(res.Approved), string(res.Decision), res.ApprovedBy,
			formatOptionalTime(res.ApprovedAt), formatOptionalTime(res.RemoteUpdatedAt),
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListByRun returns all results for a run ordered by name.
func (r *ResultRepo) ListByRun(ctx context.Context, runID string) ([]model.TestResult, error) {
	query := `SELECT ` + resultColumns + ` FROM test_results WHERE run_id = ? ORDER BY name, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []model.TestResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// GetByID retrieves a result by ID. Returns nil, nil if not found.
func (r *ResultRepo) GetByID(ctx context.Context, id string) (*model.TestResult, error) {
	query := `SELECT ` + resultColumns + ` FROM test_results WHERE id = ?`

	res, err := scanResult(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	return res, nil
}

// FindByRemoteScreenshotID returns the result for a remote screenshot in the
// project's most recently started run that contains it.
func (r *ResultRepo) FindByRemoteScreenshotID(ctx context.Context, projectID, screenshotID string) (*model.TestResult, error) {
	const query = `
		SELECT tr.id, tr.run_id, tr.remote_screenshot_id, tr.name, tr.status, tr.baseline_url,
			tr.current_url, tr.diff_url, tr.diff_percentage, tr.approved, tr.decision,
			tr.approved_by, tr.approved_at, tr.remote_updated_at
		FROM test_results tr
		JOIN test_runs r ON r.id = tr.run_id
		WHERE r.project_id = ? AND tr.remote_screenshot_id = ?
		ORDER BY r.started_at DESC
		LIMIT 1
	`

	res, err := scanResult(r.db.Reader.QueryRowContext(ctx, query, projectID, screenshotID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find result for screenshot %s: %w", screenshotID, err)
	}
	return res, nil
}

// SetDecision records the review decision for a result in one statement.
func (r *ResultRepo) SetDecision(ctx context.Context, id string, d driven.ResultDecision) error {
	const query = `
		UPDATE test_results SET approved = ?, decision = ?, approved_by = ?, approved_at = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		boolToInt(d.Approved), string(d.Decision), d.ApprovedBy, formatTime(d.ApprovedAt), id,
	)
	if err != nil {
		return fmt.Errorf("set decision for result %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set decision for result %s: %w", id, driven.ErrResultNotFound)
	}
	return nil
}

func scanResult(s scanner) (*model.TestResult, error) {
	var (
		res             model.TestResult
		status          string
		decision        string
		diff            sql.NullFloat64
		approved        int
		approvedAt      sql.NullString
		remoteUpdatedAt sql.NullString
	)

	err := s.Scan(
		&res.ID, &res.RunID, &res.RemoteScreenshotID, &res.Name, &status,
		&res.BaselineURL, &res.CurrentURL, &res.DiffURL, &diff,
		&approved, &decision, &res.ApprovedBy, &approvedAt, &remoteUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.Status = model.ResultStatus(status)
	res.Decision = model.Decision(decision)
	res.Approved = approved != 0
	if diff.Valid {
		v := diff.Float64
		res.DiffPercentage = &v
	}

	if res.ApprovedAt, err = parseOptionalTime(approvedAt); err != nil {
		return nil, fmt.Errorf("parse approved_at: %w", err)
	}
	if res.RemoteUpdatedAt, err = parseOptionalTime(remoteUpdatedAt); err != nil {
		return nil, fmt.Errorf("parse remote_updated_at: %w", err)
	}

	return &res, nil
}
