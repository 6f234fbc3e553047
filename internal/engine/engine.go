// Package engine decides, per ticket, whether an automated reply can safely
// resolve it, should ask for clarification, or must go to a human.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/similarity"
	"github.com/steveyegge/deflect/internal/types"
)

// Reasoner is the reasoning backend consulted when no prior analysis applies.
// *ai.Reasoner implements it.
type Reasoner interface {
	Categorize(ctx context.Context, req ai.CategorizeRequest) (*ai.Analysis, error)
}

// DuplicateChecker reports whether a conversation already got an automated reply
type DuplicateChecker interface {
	IsConversationAnswered(ctx context.Context, tenantID, conversationRef, excludeTicketID string) (bool, error)
}

// BudgetGuard gates backend calls on a tenant's spend. *cost.Tracker implements it.
type BudgetGuard interface {
	CanProceed(tenantID string) (bool, string)
}

// Engine makes deflection decisions. It holds no per-ticket state and is
// safe for concurrent use.
type Engine struct {
	config     Config
	reasoner   Reasoner
	duplicates DuplicateChecker
	budget     BudgetGuard
	feedback   FeedbackStore
	humanOnly  map[string]bool
	now        func() time.Time
}

// Option configures optional engine collaborators
type Option func(*Engine)

// WithDuplicateChecker enables the duplicate-conversation preflight check
func WithDuplicateChecker(d DuplicateChecker) Option {
	return func(e *Engine) { e.duplicates = d }
}

// WithBudget enables the budget preflight check
func WithBudget(b BudgetGuard) Option {
	return func(e *Engine) { e.budget = b }
}

// WithFeedbackStore enables LearnFromFeedback
func WithFeedbackStore(f FeedbackStore) Option {
	return func(e *Engine) { e.feedback = f }
}

// WithClock overrides the clock used to stamp decisions
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a decision engine
func New(cfg Config, reasoner Reasoner, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}

	e := &Engine{
		config:    cfg,
		reasoner:  reasoner,
		humanOnly: make(map[string]bool),
		now:       time.Now,
	}
	for _, c := range cfg.HumanOnlyCategories {
		e.humanOnly[normalizeCategory(c)] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decide produces a decision for one ticket under a settings snapshot.
//
// prior holds similarity matches for the ticket (may be nil). Backend
// failures are returned as errors, never as an escalate decision.
func (e *Engine) Decide(ctx context.Context, ticket *types.TicketData, settings *types.DeflectionSettings, prior []similarity.Match) (*types.DeflectionDecision, error) {
	if ticket == nil {
		return nil, fmt.Errorf("ticket is required")
	}

	reason, err := e.Preflight(ctx, ticket, settings)
	if err != nil {
		return nil, err
	}
	if reason != types.ReasonNone {
		return e.reject(reason, nil), nil
	}

	var attempt *types.ResponseAttempt
	if settings.SimilarityEnabled {
		attempt = e.reuse(ticket, settings, prior)
	}
	if attempt == nil {
		attempt, err = e.analyze(ctx, ticket, settings)
		if err != nil {
			return nil, err
		}
	}

	// The backend may land on a category the ticket was not labelled with
	if e.isHumanOnly(attempt.Category, settings) {
		attempt.ResponseType = types.ResponseEscalate
		return e.reject(types.ReasonHumanOnlyCategory, attempt), nil
	}

	attempt.ResponseType = SelectAction(attempt.ConfidenceScore, settings)
	decision := &types.DeflectionDecision{
		ShouldRespond: attempt.ResponseType != types.ResponseEscalate,
		Attempt:       attempt,
		DecidedAt:     e.now(),
	}
	if !decision.ShouldRespond {
		decision.Reason = types.ReasonLowConfidence
		attempt.Content = ""
	} else if strings.TrimSpace(attempt.Content) == "" {
		return nil, ai.Malformed("categorize", "no reply for %s decision on ticket %s", attempt.ResponseType, ticket.ID)
	}

	if err := decision.Validate(settings); err != nil {
		return nil, fmt.Errorf("decision for ticket %s failed validation: %w", ticket.ID, err)
	}
	return decision, nil
}

// Preflight runs the cheap checks that can reject a ticket before any
// analysis. It returns ReasonNone when the ticket may proceed.
func (e *Engine) Preflight(ctx context.Context, ticket *types.TicketData, settings *types.DeflectionSettings) (types.SkipReason, error) {
	if settings == nil {
		return types.ReasonSettingsMissing, nil
	}
	if !settings.AutoResponseEnabled {
		return types.ReasonAutoResponseDisabled, nil
	}
	if strings.TrimSpace(ticket.Content) == "" {
		return types.ReasonEmptyContent, nil
	}
	if utf8.RuneCountInString(ticket.Content) > e.contentCap(settings) {
		return types.ReasonContentTooLong, nil
	}
	if e.isHumanOnly(ticket.Category, settings) {
		return types.ReasonHumanOnlyCategory, nil
	}

	if e.duplicates != nil && ticket.ConversationRef != "" {
		answered, err := e.duplicates.IsConversationAnswered(ctx, ticket.TenantID, ticket.ConversationRef, ticket.ID)
		if err != nil {
			return types.ReasonNone, fmt.Errorf("failed to check conversation %s: %w", ticket.ConversationRef, err)
		}
		if answered {
			return types.ReasonDuplicateConversation, nil
		}
	}

	if e.budget != nil {
		if ok, why := e.budget.CanProceed(ticket.TenantID); !ok {
			fmt.Printf("⚠️  Budget exhausted for tenant %s: %s\n", ticket.TenantID, why)
			return types.ReasonBudgetExceeded, nil
		}
	}

	return types.ReasonNone, nil
}

// SelectAction maps a confidence score to an action.
//
// The confidence threshold is inclusive and the escalation threshold is
// strict: c == confidence_threshold auto-resolves, c == escalation_threshold
// lands in the follow-up band.
func SelectAction(confidence float64, settings *types.DeflectionSettings) types.ResponseType {
	switch {
	case confidence >= settings.ConfidenceThreshold:
		return types.ResponseAutoResolve
	case confidence < settings.EscalationThreshold:
		return types.ResponseEscalate
	case settings.FollowUpEnabled:
		return types.ResponseFollowUp
	default:
		return types.ResponseEscalate
	}
}

// reuse copies the categorization of the best near-duplicate, or returns nil.
// A match without a stored reply is only usable when it would escalate.
func (e *Engine) reuse(ticket *types.TicketData, settings *types.DeflectionSettings, prior []similarity.Match) *types.ResponseAttempt {
	var best *similarity.Match
	for i := range prior {
		m := &prior[i]
		if m.TicketID == ticket.ID || m.Category == "" || m.Score < e.config.SimilarityThreshold {
			continue
		}
		if strings.TrimSpace(m.Reply) == "" && !e.isHumanOnly(m.Category, settings) &&
			SelectAction(clamp01(m.Confidence), settings) != types.ResponseEscalate {
			continue
		}
		if best == nil || m.Score > best.Score {
			best = m
		}
	}
	if best == nil {
		return nil
	}

	fmt.Printf("♻️  Ticket %s reuses analysis of ticket %s (similarity %.2f, category %s)\n",
		ticket.ID, best.TicketID, best.Score, best.Category)

	return &types.ResponseAttempt{
		Content:            best.Reply,
		Category:           best.Category,
		Sentiment:          best.Sentiment,
		ConfidenceScore:    clamp01(best.Confidence),
		Reasoning:          fmt.Sprintf("reused analysis of ticket %s", best.TicketID),
		ReusedFromTicketID: best.TicketID,
		SimilarityScore:    best.Score,
	}
}

// analyze calls the reasoning backend and validates its confidence
func (e *Engine) analyze(ctx context.Context, ticket *types.TicketData, settings *types.DeflectionSettings) (*types.ResponseAttempt, error) {
	analysis, err := e.reasoner.Categorize(ctx, ai.CategorizeRequest{
		Ticket:     ticket,
		Categories: settings.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze ticket %s: %w", ticket.ID, err)
	}

	confidence, err := e.normalizeConfidence(analysis.Confidence)
	if err != nil {
		return nil, err
	}

	return &types.ResponseAttempt{
		Content:         analysis.Reply,
		Category:        analysis.Category,
		Sentiment:       analysis.Sentiment,
		ConfidenceScore: confidence,
		Reasoning:       analysis.Reasoning,
		CostUSD:         analysis.CostUSD,
		TokensUsed:      analysis.TokensUsed(),
		InputTokens:     analysis.InputTokens,
		OutputTokens:    analysis.OutputTokens,
		Model:           analysis.Model,
	}, nil
}

// normalizeConfidence clamps a slightly out-of-range confidence and rejects
// anything further out as a malformed backend response
func (e *Engine) normalizeConfidence(c float64) (float64, error) {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, ai.Malformed("categorize", "confidence is not a number")
	}
	tol := e.config.ConfidenceTolerance
	if c < -tol || c > 1+tol {
		return 0, ai.Malformed("categorize", "confidence %.3f outside [0,1]", c)
	}
	return clamp01(c), nil
}

func (e *Engine) reject(reason types.SkipReason, attempt *types.ResponseAttempt) *types.DeflectionDecision {
	return &types.DeflectionDecision{
		ShouldRespond: false,
		Reason:        reason,
		Attempt:       attempt,
		DecidedAt:     e.now(),
	}
}

func (e *Engine) contentCap(settings *types.DeflectionSettings) int {
	if settings.MaxContentLength > 0 {
		return settings.MaxContentLength
	}
	return e.config.MaxContentLength
}

func (e *Engine) isHumanOnly(category string, settings *types.DeflectionSettings) bool {
	category = normalizeCategory(category)
	if category == "" {
		return false
	}
	if e.humanOnly[category] {
		return true
	}
	for _, c := range settings.HumanOnlyCategories {
		if normalizeCategory(c) == category {
			return true
		}
	}
	return false
}

func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
