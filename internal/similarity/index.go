// Package similarity finds near-duplicate prior tickets whose analysis can be
// reused instead of calling the reasoning backend again.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

// Match is a prior ticket similar to the one being decided
type Match struct {
	TicketID   string             `json:"ticket_id"`
	Score      float64            `json:"score"`
	Category   string             `json:"category"`
	Sentiment  string             `json:"sentiment,omitempty"`
	Outcome    types.ResponseType `json:"outcome"`
	Confidence float64            `json:"confidence"`
	Reply      string             `json:"reply,omitempty"`
}

// Store is the subset of storage the index needs
type Store interface {
	RecordPriorAnalysis(ctx context.Context, prior *types.PriorAnalysis) error
	ListPriorAnalyses(ctx context.Context, tenantID string, since time.Time, limit int) ([]*types.PriorAnalysis, error)
}

// Index looks up prior analyses by fingerprint similarity, per tenant
type Index struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewIndex creates a similarity index over the given store
func NewIndex(store Store, cfg Config) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid similarity config: %w", err)
	}
	return &Index{store: store, config: cfg, now: time.Now}, nil
}

// Threshold returns the configured near-duplicate threshold
func (ix *Index) Threshold() float64 {
	return ix.config.Threshold
}

// Fingerprint computes the ticket fingerprint. ok is false when the ticket is
// too short to fingerprint meaningfully.
func (ix *Index) Fingerprint(ticket *types.TicketData) (fp Fingerprint, ok bool) {
	if distinctTokens(ticket.Subject, ticket.Content) < ix.config.MinTokens {
		return nil, false
	}
	return Compute(ticket.Subject, ticket.Content), true
}

// FindSimilar returns prior analyses of the ticket's tenant scoring at or above
// the threshold, best first. The ticket itself is never returned.
func (ix *Index) FindSimilar(ctx context.Context, ticket *types.TicketData, limit int) ([]Match, error) {
	fp, ok := ix.Fingerprint(ticket)
	if !ok {
		return nil, nil
	}

	since := ix.now().Add(-ix.config.LookbackWindow)
	priors, err := ix.store.ListPriorAnalyses(ctx, ticket.TenantID, since, ix.config.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to list prior analyses: %w", err)
	}

	var matches []Match
	for _, prior := range priors {
		if prior.TicketID == ticket.ID || prior.Category == "" {
			continue
		}
		score := Jaccard(fp, ParseFingerprint(prior.Fingerprint))
		if score < ix.config.Threshold {
			continue
		}
		matches = append(matches, Match{
			TicketID:   prior.TicketID,
			Score:      score,
			Category:   prior.Category,
			Sentiment:  prior.Sentiment,
			Outcome:    prior.Outcome,
			Confidence: prior.Confidence,
			Reply:      prior.Reply,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Record stores the analysis behind a decision so later tickets can reuse it.
// Decisions without a fresh backend analysis are not recorded.
func (ix *Index) Record(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision) error {
	if decision == nil || decision.Attempt == nil {
		return nil
	}
	attempt := decision.Attempt
	if attempt.ReusedFromTicketID != "" || attempt.Category == "" {
		return nil
	}
	fp, ok := ix.Fingerprint(ticket)
	if !ok {
		return nil
	}

	return ix.store.RecordPriorAnalysis(ctx, &types.PriorAnalysis{
		TicketID:    ticket.ID,
		TenantID:    ticket.TenantID,
		Fingerprint: fp.String(),
		Category:    attempt.Category,
		Sentiment:   attempt.Sentiment,
		Outcome:     attempt.ResponseType,
		Confidence:  attempt.ConfidenceScore,
		Reply:       attempt.Content,
		CreatedAt:   ix.now(),
	})
}
