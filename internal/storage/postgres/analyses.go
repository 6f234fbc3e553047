package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/steveyegge/deflect/internal/types"
)

// RecordPriorAnalysis stores (or replaces) the analysis of a ticket
func (p *PostgresStorage) RecordPriorAnalysis(ctx context.Context, prior *types.PriorAnalysis) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO prior_analyses (
			ticket_id, tenant_id, fingerprint, category, sentiment,
			outcome, confidence, reply, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, ticket_id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			category = EXCLUDED.category,
			sentiment = EXCLUDED.sentiment,
			outcome = EXCLUDED.outcome,
			confidence = EXCLUDED.confidence,
			reply = EXCLUDED.reply,
			created_at = EXCLUDED.created_at
	`,
		prior.TicketID, prior.TenantID, prior.Fingerprint, prior.Category, prior.Sentiment,
		string(prior.Outcome), prior.Confidence, prior.Reply, prior.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record prior analysis for ticket %s: %w", prior.TicketID, err)
	}
	return nil
}

// ListPriorAnalyses returns a tenant's analyses recorded since the given time, newest first
func (p *PostgresStorage) ListPriorAnalyses(ctx context.Context, tenantID string, since time.Time, limit int) ([]*types.PriorAnalysis, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ticket_id, tenant_id, fingerprint, category, sentiment,
		       outcome, confidence, reply, created_at
		FROM prior_analyses
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prior analyses: %w", err)
	}
	defer rows.Close()

	var result []*types.PriorAnalysis
	for rows.Next() {
		var pa types.PriorAnalysis
		var outcome string
		if err := rows.Scan(&pa.TicketID, &pa.TenantID, &pa.Fingerprint, &pa.Category, &pa.Sentiment,
			&outcome, &pa.Confidence, &pa.Reply, &pa.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prior analysis: %w", err)
		}
		pa.Outcome = types.ResponseType(outcome)
		result = append(result, &pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prior analyses: %w", err)
	}
	return result, nil
}

// execer is satisfied by *pgxpool.Pool and pgx.Tx
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// RecordDecision stores a decision made outside the job queue
func (p *PostgresStorage) RecordDecision(ctx context.Context, rec *types.DecisionRecord) error {
	return insertDecision(ctx, p.pool, rec)
}

func insertDecision(ctx context.Context, db execer, rec *types.DecisionRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO decisions (
			ticket_id, tenant_id, conversation_ref, job_id, should_respond, reason,
			response_type, category, confidence, cost_usd, tokens_used, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.TicketID, rec.TenantID, rec.ConversationRef, rec.JobID, rec.ShouldRespond, string(rec.Reason),
		string(rec.ResponseType), rec.Category, rec.Confidence, rec.CostUSD, rec.TokensUsed, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for ticket %s: %w", rec.TicketID, err)
	}
	return nil
}

// GetLatestDecision returns the most recent decision for a ticket, or nil if none exists
func (p *PostgresStorage) GetLatestDecision(ctx context.Context, ticketID string) (*types.DecisionRecord, error) {
	var rec types.DecisionRecord
	var reason, responseType string
	err := p.pool.QueryRow(ctx, `
		SELECT ticket_id, tenant_id, conversation_ref, job_id, should_respond, reason,
		       response_type, category, confidence, cost_usd, tokens_used, decided_at
		FROM decisions
		WHERE ticket_id = $1
		ORDER BY decided_at DESC, id DESC
		LIMIT 1
	`, ticketID).Scan(
		&rec.TicketID, &rec.TenantID, &rec.ConversationRef, &rec.JobID, &rec.ShouldRespond, &reason,
		&responseType, &rec.Category, &rec.Confidence, &rec.CostUSD, &rec.TokensUsed, &rec.DecidedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision for ticket %s: %w", ticketID, err)
	}
	rec.Reason = types.SkipReason(reason)
	rec.ResponseType = types.ResponseType(responseType)
	return &rec, nil
}

// IsConversationAnswered reports whether another ticket in the same
// conversation already received an automated reply
func (p *PostgresStorage) IsConversationAnswered(ctx context.Context, tenantID, conversationRef, excludeTicketID string) (bool, error) {
	if conversationRef == "" {
		return false, nil
	}
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM decisions
			WHERE tenant_id = $1 AND conversation_ref = $2 AND ticket_id <> $3 AND should_respond
		)
	`, tenantID, conversationRef, excludeTicketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation %s: %w", conversationRef, err)
	}
	return exists, nil
}

// RecordFeedback stores feedback and folds it into the category aggregates
func (p *PostgresStorage) RecordFeedback(ctx context.Context, fb *types.Feedback) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO feedback (ticket_id, tenant_id, category, satisfied, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, fb.TicketID, fb.TenantID, fb.Category, fb.Satisfied, fb.Text, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	positive, negative := 0, 1
	if fb.Satisfied {
		positive, negative = 1, 0
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO category_stats (tenant_id, category, positive, negative, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, category) DO UPDATE SET
			positive = category_stats.positive + EXCLUDED.positive,
			negative = category_stats.negative + EXCLUDED.negative,
			updated_at = EXCLUDED.updated_at
	`, fb.TenantID, fb.Category, positive, negative, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update category stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}
	return nil
}

// GetCategoryStats returns the feedback aggregates for a tenant
func (p *PostgresStorage) GetCategoryStats(ctx context.Context, tenantID string) ([]*types.CategoryStats, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id, category, positive, negative, updated_at
		FROM category_stats
		WHERE tenant_id = $1
		ORDER BY category
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	defer rows.Close()

	var result []*types.CategoryStats
	for rows.Next() {
		var cs types.CategoryStats
		if err := rows.Scan(&cs.TenantID, &cs.Category, &cs.Positive, &cs.Negative, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		result = append(result, &cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category stats: %w", err)
	}
	return result, nil
}
