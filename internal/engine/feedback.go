package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/deflect/internal/types"
)

// ErrNoDecision is returned when feedback names a ticket that was never decided
var ErrNoDecision = errors.New("no decision recorded for ticket")

// uncategorized collects feedback on tickets rejected before categorization
const uncategorized = "uncategorized"

// FeedbackStore persists feedback and the per-category aggregates it feeds
type FeedbackStore interface {
	GetLatestDecision(ctx context.Context, ticketID string) (*types.DecisionRecord, error)
	RecordFeedback(ctx context.Context, fb *types.Feedback) error
}

// LearnFromFeedback folds customer or agent feedback into the category
// success-rate statistics. Issued decisions are never modified.
func (e *Engine) LearnFromFeedback(ctx context.Context, ticketID string, satisfied bool, text string) (*types.Feedback, error) {
	if e.feedback == nil {
		return nil, fmt.Errorf("feedback store not configured")
	}
	if strings.TrimSpace(ticketID) == "" {
		return nil, fmt.Errorf("ticket id is required")
	}

	rec, err := e.feedback.GetLatestDecision(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up decision: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDecision, ticketID)
	}

	category := rec.Category
	if category == "" {
		category = uncategorized
	}

	fb := &types.Feedback{
		TicketID:  ticketID,
		TenantID:  rec.TenantID,
		Category:  category,
		Satisfied: satisfied,
		Text:      strings.TrimSpace(text),
		CreatedAt: e.now(),
	}
	if err := e.feedback.RecordFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	return fb, nil
}
