package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WebhookEventStore = (*WebhookRepo)(nil)

// WebhookRepo is the SQLite implementation of the WebhookEventStore port interface.
// Rows are only ever inserted; removal happens through the project cascade.
type WebhookRepo struct {
	db *DB
}

// NewWebhookRepo creates a new WebhookRepo backed by the given DB.
func NewWebhookRepo(db *DB) *WebhookRepo {
	return &WebhookRepo{db: db}
}

// Append records an inbound webhook and returns its row ID.
func (r *WebhookRepo) Append(ctx context.Context, e model.WebhookEvent) (int64, error) {
	const query = `
		INSERT INTO webhook_events (project_id, event_type, payload, verified, received_at)
		VALUES (?, ?, ?, ?, ?)
	`

	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		e.ProjectID, e.EventType, payload, boolToInt(e.Verified), formatTime(e.ReceivedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append webhook event for project %s: %w", e.ProjectID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ListByProject returns events received at or after since, newest first.
func (r *WebhookRepo) ListByProject(ctx context.Context, projectID string, since time.Time, limit int) ([]model.WebhookEvent, error) {
	const query = `
		SELECT id, project_id, event_type, payload, verified, received_at
		FROM webhook_events
		WHERE project_id = ? AND received_at >= ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, projectID, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var events []model.WebhookEvent
	for rows.Next() {
		var (
			e           model.WebhookEvent
			verified    int
			receivedStr string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.Payload, &verified, &receivedStr); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		e.Verified = verified != 0
		if e.ReceivedAt, err = parseTime(receivedStr); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return events, nil
}
