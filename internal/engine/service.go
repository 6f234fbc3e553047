package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/steveyegge/deflect/internal/cost"
	"github.com/steveyegge/deflect/internal/settings"
	"github.com/steveyegge/deflect/internal/similarity"
	"github.com/steveyegge/deflect/internal/types"
)

// SimilarityIndex finds and records prior analyses. *similarity.Index implements it.
type SimilarityIndex interface {
	FindSimilar(ctx context.Context, ticket *types.TicketData, limit int) ([]similarity.Match, error)
	Record(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision) error
}

// DecisionRecorder stores decisions made outside the job queue
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, rec *types.DecisionRecord) error
}

// UsageRecorder accounts backend spend per tenant. *cost.Tracker implements it.
type UsageRecorder interface {
	RecordUsage(tenantID string, inputTokens, outputTokens int64, costUSD float64) cost.BudgetStatus
}

// maxMatches bounds the similarity candidates handed to the engine
const maxMatches = 5

// DecideOptions controls the side effects of Service.Decide
type DecideOptions struct {
	// DryRun computes the decision without writing anything
	DryRun bool
	// RecordDecision stores a decision record. Jobs leave this unset because
	// completing the job records the decision in the same transaction.
	RecordDecision bool
	// Deferred skips usage and similarity bookkeeping. The caller runs Commit
	// once the decision is durable.
	Deferred bool
}

// Service runs the full decision pipeline for a ticket: settings snapshot,
// similarity lookup, decision, and bookkeeping.
type Service struct {
	engine    *Engine
	settings  settings.Provider
	index     SimilarityIndex
	decisions DecisionRecorder
	usage     UsageRecorder
}

// ServiceConfig holds the collaborators of a Service. Index, Decisions and
// Usage are optional.
type ServiceConfig struct {
	Engine    *Engine
	Settings  settings.Provider
	Index     SimilarityIndex
	Decisions DecisionRecorder
	Usage     UsageRecorder
}

// NewService creates a decision service
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings provider is required")
	}
	return &Service{
		engine:    cfg.Engine,
		settings:  cfg.Settings,
		index:     cfg.Index,
		decisions: cfg.Decisions,
		usage:     cfg.Usage,
	}, nil
}

// Engine returns the underlying decision engine
func (s *Service) Engine() *Engine {
	return s.engine
}

// Decide makes a decision for a ticket using the tenant's current settings.
// A tenant without settings gets a settings_missing rejection, not an error.
func (s *Service) Decide(ctx context.Context, ticket *types.TicketData, opts DecideOptions) (*types.DeflectionDecision, error) {
	if err := ticket.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid ticket: %w", types.ErrInvalidInput, err)
	}

	snapshot, err := s.settings.GetSettings(ctx, ticket.TenantID)
	if err != nil && !errors.Is(err, settings.ErrSettingsNotFound) {
		return nil, fmt.Errorf("failed to load settings for tenant %s: %w", ticket.TenantID, err)
	}

	var prior []similarity.Match
	if s.index != nil && snapshot != nil && snapshot.AutoResponseEnabled && snapshot.SimilarityEnabled {
		prior, err = s.index.FindSimilar(ctx, ticket, maxMatches)
		if err != nil {
			// Similarity is an optimization; fall through to the backend
			fmt.Fprintf(os.Stderr, "warning: similarity lookup failed for ticket %s: %v\n", ticket.ID, err)
			prior = nil
		}
	}

	decision, err := s.engine.Decide(ctx, ticket, snapshot, prior)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return decision, nil
	}
	if !opts.Deferred {
		s.Commit(ctx, ticket, decision)
	}

	if opts.RecordDecision && s.decisions != nil {
		if err := s.decisions.RecordDecision(ctx, types.NewDecisionRecord(ticket, "", decision)); err != nil {
			return nil, fmt.Errorf("failed to record decision: %w", err)
		}
	}

	return decision, nil
}

// Commit records the cost usage and the reusable analysis behind an issued
// decision. Failures are logged; the decision itself stands.
func (s *Service) Commit(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision) {
	if a := decision.Attempt; a != nil && s.usage != nil && (a.CostUSD > 0 || a.TokensUsed > 0) {
		s.usage.RecordUsage(ticket.TenantID, a.InputTokens, a.OutputTokens, a.CostUSD)
	}

	if s.index != nil {
		if err := s.index.Record(ctx, ticket, decision); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record analysis of ticket %s: %v\n", ticket.ID, err)
		}
	}
}

// SubmitFeedback records feedback on a decided ticket
func (s *Service) SubmitFeedback(ctx context.Context, ticketID string, satisfied bool, text string) (*types.Feedback, error) {
	return s.engine.LearnFromFeedback(ctx, ticketID, satisfied, text)
}
