package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/steveyegge/deflect/internal/events"
)

// StoreEvent stores a new job event in the database
func (s *SQLiteStorage) StoreEvent(ctx context.Context, event *events.JobEvent) error {
	// Marshal the Data field to JSON
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO job_events (
			id, type, timestamp, job_id, tenant_id, instance_id,
			severity, message, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		toMillis(event.Timestamp),
		event.JobID,
		event.TenantID,
		event.InstanceID,
		event.Severity,
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store job event (type=%s, job=%s): %w", event.Type, event.JobID, err)
	}

	return nil
}

// GetEvents retrieves events matching the given filter, most recent first
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter events.EventFilter) ([]*events.JobEvent, error) {
	query := `
		SELECT id, type, timestamp, job_id, tenant_id, instance_id,
		       severity, message, data
		FROM job_events
		WHERE 1=1
	`
	args := []interface{}{}

	// Apply filters
	if filter.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, filter.JobID)
	}
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	if !filter.AfterTime.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, toMillis(filter.AfterTime))
	}

	query += " ORDER BY timestamp DESC, id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteEventsBefore deletes events recorded before the cutoff. Critical
// events use criticalCutoff instead.
func (s *SQLiteStorage) DeleteEventsBefore(ctx context.Context, cutoff, criticalCutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM job_events
		WHERE (severity != 'critical' AND timestamp < ?)
		   OR (severity = 'critical' AND timestamp < ?)
	`, toMillis(cutoff), toMillis(criticalCutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// scanEvents scans rows into JobEvent structs
func scanEvents(rows *sql.Rows) ([]*events.JobEvent, error) {
	var result []*events.JobEvent

	for rows.Next() {
		var event events.JobEvent
		var dataJSON string
		var timestamp int64

		err := rows.Scan(
			&event.ID,
			&event.Type,
			&timestamp,
			&event.JobID,
			&event.TenantID,
			&event.InstanceID,
			&event.Severity,
			&event.Message,
			&dataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}

		event.Timestamp = fromMillis(timestamp)

		// Unmarshal the JSON data field
		event.Data = make(map[string]interface{})
		if dataJSON != "" && dataJSON != "{}" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
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
