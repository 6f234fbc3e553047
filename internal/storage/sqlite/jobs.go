package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

const jobColumns = `id, tenant_id, ticket, event_payload, priority, max_retries, retry_count,
	status, claimed_by, created_at, scheduled_at, started_at, completed_at,
	error_kind, error_message, result`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateJob inserts a new job
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *types.DeflectionJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	ticketJSON, err := encodeJSON(job.Ticket)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}
	var payload sql.NullString
	if len(job.EventPayload) > 0 {
		payload = sql.NullString{String: string(job.EventPayload), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deflection_jobs (
			id, tenant_id, ticket_id, conversation_ref, ticket, event_payload,
			priority, priority_rank, max_retries, retry_count, status,
			created_at, scheduled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.TenantID, job.Ticket.ID, job.Ticket.ConversationRef, ticketJSON, payload,
		job.Priority, job.Priority.Rank(), job.MaxRetries, job.RetryCount, job.Status,
		toMillis(job.CreatedAt), toMillis(job.ScheduledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*types.DeflectionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM deflection_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM deflection_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimJobs atomically claims up to limit eligible jobs for instanceID.
//
// Selection and the status change happen in one UPDATE, so two processors
// polling at the same time can never claim the same job. The returned jobs
// are ordered by priority (high first), then created_at.
func (s *SQLiteStorage) ClaimJobs(ctx context.Context, instanceID string, now time.Time, limit int) ([]*types.DeflectionJob, error) {
	if limit < 1 {
		return nil, nil
	}
	nowMs := toMillis(now)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'processing', claimed_by = ?, started_at = ?
		WHERE id IN (
			SELECT id FROM deflection_jobs
			WHERE status IN ('pending', 'retrying') AND scheduled_at <= ?
			ORDER BY priority_rank DESC, created_at ASC, id ASC
			LIMIT ?
		)
		AND status IN ('pending', 'retrying')
		RETURNING `+jobColumns,
		instanceID, nowMs, nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority.Rank() != jobs[j].Priority.Rank() {
			return jobs[i].Priority.Rank() > jobs[j].Priority.Rank()
		}
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// ClaimJob atomically claims a single job. Returns ErrNotClaimable when the
// job is already claimed, terminal, or not yet due.
func (s *SQLiteStorage) ClaimJob(ctx context.Context, jobID, instanceID string, now time.Time) (*types.DeflectionJob, error) {
	nowMs := toMillis(now)
	row := s.db.QueryRowContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'processing', claimed_by = ?, started_at = ?
		WHERE id = ? AND status IN ('pending', 'retrying') AND scheduled_at <= ?
		RETURNING `+jobColumns,
		instanceID, nowMs, jobID, nowMs,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, s.explainMiss(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	return job, nil
}

// CompleteJob marks a claimed job completed and records its decision in the
// same transaction
func (s *SQLiteStorage) CompleteJob(ctx context.Context, jobID, instanceID string, result *types.DeflectionDecision, completedAt time.Time) error {
	resultJSON, err := encodeJSON(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for job %s: %w", jobID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin completion of job %s: %w", jobID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var ticketJSON string
	err = tx.QueryRowContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'completed', completed_at = ?, result = ?, error_kind = '', error_message = ''
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
		RETURNING ticket
	`, toMillis(completedAt), resultJSON, jobID, instanceID).Scan(&ticketJSON)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return s.explainMiss(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	var ticket types.TicketData
	if err := json.Unmarshal([]byte(ticketJSON), &ticket); err != nil {
		return fmt.Errorf("failed to decode ticket for job %s: %w", jobID, err)
	}
	if err := insertDecision(ctx, tx, types.NewDecisionRecord(&ticket, jobID, result)); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion of job %s: %w", jobID, err)
	}
	return nil
}

// ScheduleRetry moves a claimed job to retrying, eligible again at scheduledAt
func (s *SQLiteStorage) ScheduleRetry(ctx context.Context, jobID, instanceID string, retryCount int, scheduledAt time.Time, errKind, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'retrying', retry_count = ?, scheduled_at = ?,
		    error_kind = ?, error_message = ?, claimed_by = NULL
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, retryCount, toMillis(scheduledAt), errKind, errMsg, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", jobID, err)
	}
	return s.checkGuarded(ctx, res, jobID)
}

// FailJob marks a claimed job permanently failed
func (s *SQLiteStorage) FailJob(ctx context.Context, jobID, instanceID string, retryCount int, errKind, errMsg string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'failed', retry_count = ?, completed_at = ?,
		    error_kind = ?, error_message = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?
	`, retryCount, toMillis(completedAt), errKind, errMsg, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	return s.checkGuarded(ctx, res, jobID)
}

// RequeueStaleJobs returns processing jobs started before the cutoff to pending.
// Their retry count is unchanged. Returns the requeued job IDs.
func (s *SQLiteStorage) RequeueStaleJobs(ctx context.Context, startedBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE deflection_jobs
		SET status = 'pending', claimed_by = NULL, started_at = NULL
		WHERE status = 'processing' AND started_at < ?
		RETURNING id
	`, toMillis(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan requeued job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requeued jobs: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteTerminalJobsBefore purges completed and failed jobs that finished
// before the cutoff. Jobs in any other state are never touched.
func (s *SQLiteStorage) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deflection_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < ?
	`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// GetQueueStats returns job counts per status for jobs created since the
// given time, plus latency averages over jobs completed since then
func (s *SQLiteStorage) GetQueueStats(ctx context.Context, since time.Time) (*types.QueueStats, error) {
	stats := &types.QueueStats{
		Since:  since,
		Counts: make(map[types.JobStatus]int, len(types.AllJobStatuses)),
	}
	for _, status := range types.AllJobStatuses {
		stats.Counts[status] = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM deflection_jobs
		WHERE created_at >= ?
		GROUP BY status
	`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status types.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats.Counts[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}

	var completion, processing sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(completed_at - created_at), AVG(completed_at - started_at)
		FROM deflection_jobs
		WHERE status = 'completed' AND completed_at >= ?
	`, toMillis(since)).Scan(&stats.CompletedSamples, &completion, &processing)
	if err != nil {
		return nil, fmt.Errorf("failed to compute latency: %w", err)
	}
	if completion.Valid {
		stats.AvgCompletionLatency = time.Duration(completion.Float64 * float64(time.Millisecond))
	}
	if processing.Valid {
		stats.AvgProcessingLatency = time.Duration(processing.Float64 * float64(time.Millisecond))
	}

	return stats, nil
}

// explainMiss turns a conditional update that matched no row into
// ErrJobNotFound or ErrNotClaimable
func (s *SQLiteStorage) explainMiss(ctx context.Context, jobID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM deflection_jobs WHERE id = ?`, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", jobID, err)
	}
	return fmt.Errorf("%w: job %s is %s", types.ErrNotClaimable, jobID, status)
}

func (s *SQLiteStorage) checkGuarded(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for job %s: %w", jobID, err)
	}
	if n == 0 {
		return s.explainMiss(ctx, jobID)
	}
	return nil
}

func scanJobs(rows *sql.Rows) ([]*types.DeflectionJob, error) {
	var jobs []*types.DeflectionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*types.DeflectionJob, error) {
	var job types.DeflectionJob
	var ticketJSON string
	var payload, claimedBy, resultJSON sql.NullString
	var createdAt, scheduledAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&ticketJSON,
		&payload,
		&job.Priority,
		&job.MaxRetries,
		&job.RetryCount,
		&job.Status,
		&claimedBy,
		&createdAt,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&job.ErrorKind,
		&job.ErrorMessage,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ticketJSON), &job.Ticket); err != nil {
		return nil, fmt.Errorf("failed to decode ticket for job %s: %w", job.ID, err)
	}
	if payload.Valid {
		job.EventPayload = json.RawMessage(payload.String)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var decision types.DeflectionDecision
		if err := json.Unmarshal([]byte(resultJSON.String), &decision); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", job.ID, err)
		}
		job.Result = &decision
	}
	job.ClaimedBy = claimedBy.String
	job.CreatedAt = fromMillis(createdAt)
	job.ScheduledAt = fromMillis(scheduledAt)
	job.StartedAt = fromNullMillis(startedAt)
	job.CompletedAt = fromNullMillis(completedAt)

	return &job, nil
}
