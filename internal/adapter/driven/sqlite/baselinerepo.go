package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BaselineStore = (*BaselineRepo)(nil)

// BaselineRepo is the SQLite implementation of the BaselineStore port interface.
type BaselineRepo struct {
	db *DB
}

// NewBaselineRepo creates a new BaselineRepo backed by the given DB.
func NewBaselineRepo(db *DB) *BaselineRepo {
	return &BaselineRepo{db: db}
}

// Create inserts a baseline. Summary and result IDs are stored as JSON.
func (r *BaselineRepo) Create(ctx context.Context, b model.Baseline) error {
	summary, err := json.Marshal(b.Summary)
	if err != nil {
		return fmt.Errorf("marshal baseline summary: %w", err)
	}

	ids := b.ResultIDs
	if ids == nil {
		ids = []string{}
	}
	resultIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal baseline result ids: %w", err)
	}

	const query = `
		INSERT INTO baselines (id, project_id, run_id, name, created_by, summary, result_ids, archive_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Writer.ExecContext(ctx, query,
		b.ID, b.ProjectID, b.RunID, b.Name, b.CreatedBy,
		string(summary), string(resultIDs), b.ArchiveKey, formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create baseline %s: %w", b.ID, err)
	}
	return nil
}

// ListByProject returns a project's baselines, newest first.
func (r *BaselineRepo) ListByProject(ctx context.Context, projectID string) ([]model.Baseline, error) {
	const query = `
		SELECT id, project_id, run_id, name, created_by, summary, result_ids, archive_key, created_at
		FROM baselines
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list baselines for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var baselines []model.Baseline
	for rows.Next() {
		var (
			b                  model.Baseline
			summary, resultIDs string
			createdAtStr       string
		)
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.RunID, &b.Name, &b.CreatedBy,
			&summary, &resultIDs, &b.ArchiveKey, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &b.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal baseline summary: %w", err)
		}
		if err := json.Unmarshal([]byte(resultIDs), &b.ResultIDs); err != nil {
			return nil, fmt.Errorf("unmarshal baseline result ids: %w", err)
		}
		if b.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		baselines = append(baselines, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate baselines: %w", err)
	}
	return baselines, nil
}
