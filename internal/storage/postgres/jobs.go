package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/steveyegge/deflect/internal/types"
)

const jobColumns = `id, tenant_id, ticket, event_payload, priority, max_retries, retry_count,
	status, claimed_by, created_at, scheduled_at, started_at, completed_at,
	error_kind, error_message, result`

// CreateJob inserts a new job
func (p *PostgresStorage) CreateJob(ctx context.Context, job *types.DeflectionJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	ticketJSON, err := json.Marshal(job.Ticket)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}
	var payload *string
	if len(job.EventPayload) > 0 {
		s := string(job.EventPayload)
		payload = &s
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO deflection_jobs (
			id, tenant_id, ticket_id, conversation_ref, ticket, event_payload,
			priority, priority_rank, max_retries, retry_count, status,
			created_at, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		job.ID, job.TenantID, job.Ticket.ID, job.Ticket.ConversationRef, string(ticketJSON), payload,
		string(job.Priority), job.Priority.Rank(), job.MaxRetries, job.RetryCount, string(job.Status),
		job.CreatedAt, job.ScheduledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (p *PostgresStorage) GetJob(ctx context.Context, id string) (*types.DeflectionJob, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM deflection_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first
func (p *PostgresStorage) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM deflection_jobs WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, filter.TenantID)
		argNum++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*filter.Status))
		argNum++
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimJobs atomically claims up to limit eligible jobs for instanceID.
//
// FOR UPDATE SKIP LOCKED lets concurrent replicas claim disjoint batches
// without waiting on each other. The returned jobs are ordered by priority
// (high first), then created_at.
func (p *PostgresStorage) ClaimJobs(ctx context.Context, instanceID string, now time.Time, limit int) ([]*types.DeflectionJob, error) {
	if limit < 1 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		UPDATE deflection_jobs j
		SET status = 'processing', claimed_by = $1, started_at = $2
		FROM (
			SELECT id FROM deflection_jobs
			WHERE status IN ('pending', 'retrying') AND scheduled_at <= $2
			ORDER BY priority_rank DESC, created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) candidates
		WHERE j.id = candidates.id
		RETURNING j.id, j.tenant_id, j.ticket, j.event_payload, j.priority, j.max_retries, j.retry_count,
			j.status, j.claimed_by, j.created_at, j.scheduled_at, j.started_at, j.completed_at,
			j.error_kind, j.error_message, j.result
	`, instanceID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

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
func (p *PostgresStorage) ClaimJob(ctx context.Context, jobID, instanceID string, now time.Time) (*types.DeflectionJob, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE deflection_jobs
		SET status = 'processing', claimed_by = $1, started_at = $2
		WHERE id = $3 AND status IN ('pending', 'retrying') AND scheduled_at <= $2
		RETURNING `+jobColumns,
		instanceID, now, jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.explainMiss(ctx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	return job, nil
}

// CompleteJob marks a claimed job completed and records its decision in the
// same transaction
func (p *PostgresStorage) CompleteJob(ctx context.Context, jobID, instanceID string, result *types.DeflectionDecision, completedAt time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for job %s: %w", jobID, err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin completion of job %s: %w", jobID, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var ticketJSON []byte
	err = tx.QueryRow(ctx, `
		UPDATE deflection_jobs
		SET status = 'completed', completed_at = $1, result = $2, error_kind = '', error_message = ''
		WHERE id = $3 AND status = 'processing' AND claimed_by = $4
		RETURNING ticket
	`, completedAt, string(resultJSON), jobID, instanceID).Scan(&ticketJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.explainMiss(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	var ticket types.TicketData
	if err := json.Unmarshal(ticketJSON, &ticket); err != nil {
		return fmt.Errorf("failed to decode ticket for job %s: %w", jobID, err)
	}
	if err := insertDecision(ctx, tx, types.NewDecisionRecord(&ticket, jobID, result)); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion of job %s: %w", jobID, err)
	}
	return nil
}

// ScheduleRetry moves a claimed job to retrying, eligible again at scheduledAt
func (p *PostgresStorage) ScheduleRetry(ctx context.Context, jobID, instanceID string, retryCount int, scheduledAt time.Time, errKind, errMsg string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE deflection_jobs
		SET status = 'retrying', retry_count = $1, scheduled_at = $2,
		    error_kind = $3, error_message = $4, claimed_by = NULL
		WHERE id = $5 AND status = 'processing' AND claimed_by = $6
	`, retryCount, scheduledAt, errKind, errMsg, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainMiss(ctx, jobID)
	}
	return nil
}

// FailJob marks a claimed job permanently failed
func (p *PostgresStorage) FailJob(ctx context.Context, jobID, instanceID string, retryCount int, errKind, errMsg string, completedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE deflection_jobs
		SET status = 'failed', retry_count = $1, completed_at = $2,
		    error_kind = $3, error_message = $4
		WHERE id = $5 AND status = 'processing' AND claimed_by = $6
	`, retryCount, completedAt, errKind, errMsg, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return p.explainMiss(ctx, jobID)
	}
	return nil
}

// RequeueStaleJobs returns processing jobs started before the cutoff to pending
func (p *PostgresStorage) RequeueStaleJobs(ctx context.Context, startedBefore time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE deflection_jobs
		SET status = 'pending', claimed_by = NULL, started_at = NULL
		WHERE status = 'processing' AND started_at < $1
		RETURNING id
	`, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect requeued job ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteTerminalJobsBefore purges completed and failed jobs that finished before the cutoff
func (p *PostgresStorage) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM deflection_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetQueueStats returns job counts per status for jobs created since the
// given time, plus latency averages over jobs completed since then
func (p *PostgresStorage) GetQueueStats(ctx context.Context, since time.Time) (*types.QueueStats, error) {
	stats := &types.QueueStats{
		Since:  since,
		Counts: make(map[types.JobStatus]int, len(types.AllJobStatuses)),
	}
	for _, status := range types.AllJobStatuses {
		stats.Counts[status] = 0
	}

	rows, err := p.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM deflection_jobs
		WHERE created_at >= $1
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats.Counts[types.JobStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}

	var completionMs, processingMs *float64
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) * 1000),
		       AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)
		FROM deflection_jobs
		WHERE status = 'completed' AND completed_at >= $1
	`, since).Scan(&stats.CompletedSamples, &completionMs, &processingMs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute latency: %w", err)
	}
	if completionMs != nil {
		stats.AvgCompletionLatency = time.Duration(*completionMs * float64(time.Millisecond))
	}
	if processingMs != nil {
		stats.AvgProcessingLatency = time.Duration(*processingMs * float64(time.Millisecond))
	}

	return stats, nil
}

// explainMiss turns a conditional update that matched no row into
// ErrJobNotFound or ErrNotClaimable
func (p *PostgresStorage) explainMiss(ctx context.Context, jobID string) error {
	var status string
	err := p.pool.QueryRow(ctx, `SELECT status FROM deflection_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", jobID, err)
	}
	return fmt.Errorf("%w: job %s is %s", types.ErrNotClaimable, jobID, status)
}

func scanJobs(rows pgx.Rows) ([]*types.DeflectionJob, error) {
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

func scanJob(row pgx.Row) (*types.DeflectionJob, error) {
	var job types.DeflectionJob
	var ticketJSON, payload, resultJSON []byte
	var priority, status string
	var claimedBy *string

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&ticketJSON,
		&payload,
		&priority,
		&job.MaxRetries,
		&job.RetryCount,
		&status,
		&claimedBy,
		&job.CreatedAt,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ErrorKind,
		&job.ErrorMessage,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}

	job.Priority = types.Priority(priority)
	job.Status = types.JobStatus(status)
	if claimedBy != nil {
		job.ClaimedBy = *claimedBy
	}
	if err := json.Unmarshal(ticketJSON, &job.Ticket); err != nil {
		return nil, fmt.Errorf("failed to decode ticket for job %s: %w", job.ID, err)
	}
	if len(payload) > 0 {
		job.EventPayload = json.RawMessage(payload)
	}
	if len(resultJSON) > 0 {
		var decision types.DeflectionDecision
		if err := json.Unmarshal(resultJSON, &decision); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", job.ID, err)
		}
		job.Result = &decision
	}

	return &job, nil
}
