package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProjectStore = (*ProjectRepo)(nil)

// ProjectRepo is the SQLite implementation of the ProjectStore port interface.
// Token and WebhookSecret are encrypted with AES-256-GCM before write and
// decrypted after read.
type ProjectRepo struct {
	db  *DB
	box secretBox
}

// NewProjectRepo creates a new ProjectRepo. key must be 32 bytes for AES-256-GCM,
// or nil, in which case projects without secrets still work and any attempt
// to store or read a secret returns driven.ErrEncryptionKeyNotSet.
func NewProjectRepo(db *DB, key []byte) *ProjectRepo {
	return &ProjectRepo{db: db, box: secretBox{key: key}}
}

const projectColumns = `id, team_id, name, description, remote_project_id, remote_base_url,
	branch, token, webhook_secret, github_repo, config, created_at, updated_at`

// Create inserts a new project.
func (r *ProjectRepo) Create(ctx context.Context, p model.Project) error {
	token, secret, cfg, err := r.encode(p)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO projects (` + projectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Writer.ExecContext(ctx, query,
		p.ID, p.TeamID, p.Name, p.Description, p.RemoteProjectID, p.RemoteBaseURL,
		p.Branch, token, secret, p.GitHubRepo, cfg,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create project %s: %w", p.ID, err)
	}
	return nil
}

// Update overwrites every mutable column of an existing project.
func (r *ProjectRepo) Update(ctx context.Context, p model.Project) error {
	token, secret, cfg, err := r.encode(p)
	if err != nil {
		return err
	}

	const query = `
		UPDATE projects SET
			team_id = ?, name = ?, description = ?, remote_project_id = ?, remote_base_url = ?,
			branch = ?, token = ?, webhook_secret = ?, github_repo = ?, config = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		p.TeamID, p.Name, p.Description, p.RemoteProjectID, p.RemoteBaseURL,
		p.Branch, token, secret, p.GitHubRepo, cfg, formatTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update project %s: %w", p.ID, driven.ErrProjectNotFound)
	}
	return nil
}

// GetByID retrieves a project by ID. Returns nil, nil if not found.
func (r *ProjectRepo) GetByID(ctx context.Context, id string) (*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`

	p, err := r.scanProject(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// List returns projects ordered by name. An empty teamID lists every team.
func (r *ProjectRepo) List(ctx context.Context, teamID string) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE (? = '' OR team_id = ?) ORDER BY name, id`
	return r.queryProjects(ctx, query, teamID, teamID)
}

// ListByRemoteProjectID returns every project linked to the given remote project.
func (r *ProjectRepo) ListByRemoteProjectID(ctx context.Context, remoteProjectID string) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE remote_project_id = ? ORDER BY created_at`
	return r.queryProjects(ctx, query, remoteProjectID)
}

// Delete removes a project. Runs, results, webhook events and baselines
// are removed by ON DELETE CASCADE.
func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM projects WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete project %s: %w", id, driven.ErrProjectNotFound)
	}
	return nil
}

func (r *ProjectRepo) encode(p model.Project) (token, secret, cfg string, err error) {
	token, err = r.box.seal(p.Token)
	if err != nil {
		return "", "", "", fmt.Errorf("encrypt token: %w", err)
	}
	secret, err = r.box.seal(p.WebhookSecret)
	if err != nil {
		return "", "", "", fmt.Errorf("encrypt webhook secret: %w", err)
	}
	raw, err := json.Marshal(p.Config.Normalized())
	if err != nil {
		return "", "", "", fmt.Errorf("marshal project config: %w", err)
	}
	return token, secret, string(raw), nil
}

func (r *ProjectRepo) queryProjects(ctx context.Context, query string, args ...any) ([]model.Project, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := r.scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (r *ProjectRepo) scanProject(s scanner) (*model.Project, error) {
	var (
		p                          model.Project
		token, secret, cfg         string
		createdAtStr, updatedAtStr string
	)

	err := s.Scan(
		&p.ID, &p.TeamID, &p.Name, &p.Description, &p.RemoteProjectID, &p.RemoteBaseURL,
		&p.Branch, &token, &secret, &p.GitHubRepo, &cfg, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if p.Token, err = r.box.open(token); err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	if p.WebhookSecret, err = r.box.open(secret); err != nil {
		return nil, fmt.Errorf("decrypt webhook secret: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshal project config: %w", err)
	}
	p.Config = p.Config.Normalized()

	if p.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &p, nil
}
