package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/steveyegge/deflect/internal/events"
)

// StoreEvent stores a new job event in the database
func (p *PostgresStorage) StoreEvent(ctx context.Context, event *events.JobEvent) error {
	// Marshal the Data field to JSON
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO job_events (
			id, type, timestamp, job_id, tenant_id, instance_id,
			severity, message, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = p.pool.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.JobID,
		event.TenantID,
		event.InstanceID,
		string(event.Severity),
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store job event (type=%s, job=%s): %w", event.Type, event.JobID, err)
	}

	return nil
}

// GetEvents retrieves events matching the given filter, most recent first
func (p *PostgresStorage) GetEvents(ctx context.Context, filter events.EventFilter) ([]*events.JobEvent, error) {
	query := `
		SELECT id, type, timestamp, job_id, tenant_id, instance_id,
		       severity, message, data
		FROM job_events
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	// Apply filters
	if filter.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argNum)
		args = append(args, filter.JobID)
		argNum++
	}
	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, filter.TenantID)
		argNum++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, string(filter.Type))
		argNum++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, string(filter.Severity))
		argNum++
	}
	if !filter.AfterTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp > $%d", argNum)
		args = append(args, filter.AfterTime)
		argNum++
	}

	query += " ORDER BY timestamp DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteEventsBefore deletes events recorded before the cutoff. Critical
// events use criticalCutoff instead.
func (p *PostgresStorage) DeleteEventsBefore(ctx context.Context, cutoff, criticalCutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM job_events
		WHERE (severity <> 'critical' AND timestamp < $1)
		   OR (severity = 'critical' AND timestamp < $2)
	`, cutoff, criticalCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanEvents scans rows into JobEvent structs
func scanEvents(rows pgx.Rows) ([]*events.JobEvent, error) {
	var result []*events.JobEvent

	for rows.Next() {
		var event events.JobEvent
		var eventType, severity string
		var dataJSON []byte

		err := rows.Scan(
			&event.ID,
			&eventType,
			&event.Timestamp,
			&event.JobID,
			&event.TenantID,
			&event.InstanceID,
			&severity,
			&event.Message,
			&dataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}

		event.Type = events.EventType(eventType)
		event.Severity = events.EventSeverity(severity)

		// Unmarshal the JSON data field
		event.Data = make(map[string]interface{})
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		result = append(result, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job event rows: %w", err)
	}

	return result, nil
}
