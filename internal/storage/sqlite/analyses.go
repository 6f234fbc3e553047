package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

// RecordPriorAnalysis stores (or replaces) the analysis of a ticket
func (s *SQLiteStorage) RecordPriorAnalysis(ctx context.Context, prior *types.PriorAnalysis) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prior_analyses (
			ticket_id, tenant_id, fingerprint, category, sentiment,
			outcome, confidence, reply, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, ticket_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			category = excluded.category,
			sentiment = excluded.sentiment,
			outcome = excluded.outcome,
			confidence = excluded.confidence,
			reply = excluded.reply,
			created_at = excluded.created_at
	`,
		prior.TicketID, prior.TenantID, prior.Fingerprint, prior.Category, prior.Sentiment,
		prior.Outcome, prior.Confidence, prior.Reply, toMillis(prior.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record prior analysis for ticket %s: %w", prior.TicketID, err)
	}
	return nil
}

// ListPriorAnalyses returns a tenant's analyses recorded since the given time, newest first
func (s *SQLiteStorage) ListPriorAnalyses(ctx context.Context, tenantID string, since time.Time, limit int) ([]*types.PriorAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, tenant_id, fingerprint, category, sentiment,
		       outcome, confidence, reply, created_at
		FROM prior_analyses
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`, tenantID, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prior analyses: %w", err)
	}
	defer rows.Close()

	var result []*types.PriorAnalysis
	for rows.Next() {
		var p types.PriorAnalysis
		var createdAt int64
		if err := rows.Scan(&p.TicketID, &p.TenantID, &p.Fingerprint, &p.Category, &p.Sentiment,
			&p.Outcome, &p.Confidence, &p.Reply, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan prior analysis: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prior analyses: %w", err)
	}
	return result, nil
}

// RecordDecision stores a decision made outside the job queue
func (s *SQLiteStorage) RecordDecision(ctx context.Context, rec *types.DecisionRecord) error {
	return insertDecision(ctx, s.db, rec)
}

func insertDecision(ctx context.Context, db execer, rec *types.DecisionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO decisions (
			ticket_id, tenant_id, conversation_ref, job_id, should_respond, reason,
			response_type, category, confidence, cost_usd, tokens_used, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TicketID, rec.TenantID, rec.ConversationRef, rec.JobID, boolToInt(rec.ShouldRespond), rec.Reason,
		rec.ResponseType, rec.Category, rec.Confidence, rec.CostUSD, rec.TokensUsed, toMillis(rec.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for ticket %s: %w", rec.TicketID, err)
	}
	return nil
}

// GetLatestDecision returns the most recent decision for a ticket, or nil if none exists
func (s *SQLiteStorage) GetLatestDecision(ctx context.Context, ticketID string) (*types.DecisionRecord, error) {
	var rec types.DecisionRecord
	var shouldRespond int
	var decidedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, tenant_id, conversation_ref, job_id, should_respond, reason,
		       response_type, category, confidence, cost_usd, tokens_used, decided_at
		FROM decisions
		WHERE ticket_id = ?
		ORDER BY decided_at DESC, id DESC
		LIMIT 1
	`, ticketID).Scan(
		&rec.TicketID, &rec.TenantID, &rec.ConversationRef, &rec.JobID, &shouldRespond, &rec.Reason,
		&rec.ResponseType, &rec.Category, &rec.Confidence, &rec.CostUSD, &rec.TokensUsed, &decidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision for ticket %s: %w", ticketID, err)
	}
	rec.ShouldRespond = shouldRespond != 0
	rec.DecidedAt = fromMillis(decidedAt)
	return &rec, nil
}

// IsConversationAnswered reports whether another ticket in the same
// conversation already received an automated reply
func (s *SQLiteStorage) IsConversationAnswered(ctx context.Context, tenantID, conversationRef, excludeTicketID string) (bool, error) {
	if conversationRef == "" {
		return false, nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM decisions
			WHERE tenant_id = ? AND conversation_ref = ? AND ticket_id != ? AND should_respond = 1
		)
	`, tenantID, conversationRef, excludeTicketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation %s: %w", conversationRef, err)
	}
	return exists == 1, nil
}

// RecordFeedback stores feedback and folds it into the category aggregates
func (s *SQLiteStorage) RecordFeedback(ctx context.Context, fb *types.Feedback) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := toMillis(fb.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback (ticket_id, tenant_id, category, satisfied, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fb.TicketID, fb.TenantID, fb.Category, boolToInt(fb.Satisfied), fb.Text, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	positive, negative := 0, 1
	if fb.Satisfied {
		positive, negative = 1, 0
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO category_stats (tenant_id, category, positive, negative, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, category) DO UPDATE SET
			positive = positive + excluded.positive,
			negative = negative + excluded.negative,
			updated_at = excluded.updated_at
	`, fb.TenantID, fb.Category, positive, negative, createdAt)
	if err != nil {
		return fmt.Errorf("failed to update category stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}
	return nil
}

// GetCategoryStats returns the feedback aggregates for a tenant
func (s *SQLiteStorage) GetCategoryStats(ctx context.Context, tenantID string) ([]*types.CategoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, category, positive, negative, updated_at
		FROM category_stats
		WHERE tenant_id = ?
		ORDER BY category
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	defer rows.Close()

	var result []*types.CategoryStats
	for rows.Next() {
		var cs types.CategoryStats
		var updatedAt int64
		if err := rows.Scan(&cs.TenantID, &cs.Category, &cs.Positive, &cs.Negative, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category stats: %w", err)
		}
		cs.UpdatedAt = fromMillis(updatedAt)
		result = append(result, &cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category stats: %w", err)
	}
	return result, nil
}
