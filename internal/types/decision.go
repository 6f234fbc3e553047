package types

import (
	"fmt"
	"strings"
	"time"
)

// ResponseType is the action chosen for a ticket
type ResponseType string

const (
	ResponseAutoResolve ResponseType = "auto_resolve"
	ResponseFollowUp    ResponseType = "follow_up"
	ResponseEscalate    ResponseType = "escalate"
)

// IsValid checks if the response type value is valid
func (r ResponseType) IsValid() bool {
	switch r {
	case ResponseAutoResolve, ResponseFollowUp, ResponseEscalate:
		return true
	}
	return false
}

// SkipReason explains why a decision has ShouldRespond=false
type SkipReason string

const (
	ReasonNone                  SkipReason = ""
	ReasonSettingsMissing       SkipReason = "settings_missing"
	ReasonAutoResponseDisabled  SkipReason = "auto_response_disabled"
	ReasonEmptyContent          SkipReason = "empty_content"
	ReasonContentTooLong        SkipReason = "content_too_long"
	ReasonHumanOnlyCategory     SkipReason = "human_only_category"
	ReasonDuplicateConversation SkipReason = "duplicate_conversation"
	ReasonBudgetExceeded        SkipReason = "budget_exceeded"
	ReasonLowConfidence         SkipReason = "low_confidence"
)

// IsValid checks if the reason value is valid
func (r SkipReason) IsValid() bool {
	switch r {
	case ReasonNone, ReasonSettingsMissing, ReasonAutoResponseDisabled, ReasonEmptyContent,
		ReasonContentTooLong, ReasonHumanOnlyCategory, ReasonDuplicateConversation,
		ReasonBudgetExceeded, ReasonLowConfidence:
		return true
	}
	return false
}

// IsPreflight reports whether the reason comes from a preflight check
// (the reasoning backend was never consulted).
func (r SkipReason) IsPreflight() bool {
	return r != ReasonNone && r != ReasonLowConfidence
}

// ResponseAttempt is the generated response and the analysis behind it
type ResponseAttempt struct {
	Content         string       `json:"content"`
	ResponseType    ResponseType `json:"response_type"`
	Category        string       `json:"category,omitempty"`
	Sentiment       string       `json:"sentiment,omitempty"`
	ConfidenceScore float64      `json:"confidence_score"`
	Reasoning       string       `json:"reasoning,omitempty"`
	CostUSD         float64      `json:"cost_usd"`
	TokensUsed      int64        `json:"tokens_used"`
	InputTokens     int64        `json:"input_tokens,omitempty"`
	OutputTokens    int64        `json:"output_tokens,omitempty"`
	Model           string       `json:"model,omitempty"`

	// ReusedFromTicketID is set when the categorization was copied from a
	// near-duplicate prior ticket instead of calling the reasoning backend
	ReusedFromTicketID string  `json:"reused_from_ticket_id,omitempty"`
	SimilarityScore    float64 `json:"similarity_score,omitempty"`
}

// DeflectionDecision is the output of the decision engine
type DeflectionDecision struct {
	ShouldRespond bool             `json:"should_respond"`
	Reason        SkipReason       `json:"reason,omitempty"`
	Attempt       *ResponseAttempt `json:"attempt,omitempty"`
	DecidedAt     time.Time        `json:"decided_at"`
}

// CostUSD returns the monetary cost of the decision (0 when no backend call was made)
func (d *DeflectionDecision) CostUSD() float64 {
	if d == nil || d.Attempt == nil {
		return 0
	}
	return d.Attempt.CostUSD
}

// ResponseType returns the chosen action, or escalate when the decision
// was rejected before an attempt was produced.
func (d *DeflectionDecision) ResponseType() ResponseType {
	if d == nil || d.Attempt == nil {
		return ResponseEscalate
	}
	return d.Attempt.ResponseType
}

// Validate checks the decision invariants against the settings it was made with:
//   - auto_resolve only when confidence >= confidence_threshold
//   - escalate whenever confidence < escalation_threshold
//   - a rejected decision always carries a reason
func (d *DeflectionDecision) Validate(settings *DeflectionSettings) error {
	if !d.Reason.IsValid() {
		return fmt.Errorf("invalid reason: %s", d.Reason)
	}
	if !d.ShouldRespond && d.Reason == ReasonNone {
		return fmt.Errorf("reason is required when should_respond is false")
	}
	if d.ShouldRespond && d.Reason != ReasonNone {
		return fmt.Errorf("reason must be empty when should_respond is true (got %s)", d.Reason)
	}
	if d.ShouldRespond && d.Attempt == nil {
		return fmt.Errorf("attempt is required when should_respond is true")
	}
	if d.ShouldRespond && strings.TrimSpace(d.Attempt.Content) == "" {
		return fmt.Errorf("%s decision has no reply content", d.Attempt.ResponseType)
	}

	a := d.Attempt
	if a == nil {
		return nil
	}
	if !a.ResponseType.IsValid() {
		return fmt.Errorf("invalid response type: %s", a.ResponseType)
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score must be between 0 and 1 (got %.3f)", a.ConfidenceScore)
	}
	if a.CostUSD < 0 || a.TokensUsed < 0 {
		return fmt.Errorf("cost and token usage cannot be negative")
	}
	if settings == nil {
		return nil
	}
	if a.ResponseType == ResponseAutoResolve && a.ConfidenceScore < settings.ConfidenceThreshold {
		return fmt.Errorf("auto_resolve requires confidence >= %.2f (got %.3f)",
			settings.ConfidenceThreshold, a.ConfidenceScore)
	}
	if a.ConfidenceScore < settings.EscalationThreshold && a.ResponseType != ResponseEscalate {
		return fmt.Errorf("confidence %.3f is below escalation threshold %.2f but response type is %s",
			a.ConfidenceScore, settings.EscalationThreshold, a.ResponseType)
	}
	return nil
}

// PriorAnalysis is a stored categorization of an earlier ticket, used by the
// similarity index to short-circuit near-duplicates.
type PriorAnalysis struct {
	TicketID    string       `json:"ticket_id"`
	TenantID    string       `json:"tenant_id"`
	Fingerprint string       `json:"fingerprint"`
	Category    string       `json:"category"`
	Sentiment   string       `json:"sentiment,omitempty"`
	Outcome     ResponseType `json:"outcome"`
	Confidence  float64      `json:"confidence"`
	Reply       string       `json:"reply,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Feedback is post-hoc customer/agent feedback on an issued decision
type Feedback struct {
	TicketID  string    `json:"ticket_id"`
	TenantID  string    `json:"tenant_id"`
	Category  string    `json:"category"`
	Satisfied bool      `json:"satisfied"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryStats aggregates feedback per tenant and category.
// Consumed by external threshold tuning.
type CategoryStats struct {
	TenantID  string    `json:"tenant_id"`
	Category  string    `json:"category"`
	Positive  int       `json:"positive"`
	Negative  int       `json:"negative"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns positive / total, or 0 with no feedback
func (c *CategoryStats) SuccessRate() float64 {
	total := c.Positive + c.Negative
	if total == 0 {
		return 0
	}
	return float64(c.Positive) / float64(total)
}

// DecisionRecord is the persisted summary of an issued (non dry-run) decision.
// It backs duplicate-conversation detection and feedback attribution.
type DecisionRecord struct {
	TicketID        string       `json:"ticket_id"`
	TenantID        string       `json:"tenant_id"`
	ConversationRef string       `json:"conversation_ref,omitempty"`
	JobID           string       `json:"job_id,omitempty"` // Empty for synchronous decisions
	ShouldRespond   bool         `json:"should_respond"`
	Reason          SkipReason   `json:"reason,omitempty"`
	ResponseType    ResponseType `json:"response_type"`
	Category        string       `json:"category,omitempty"`
	Confidence      float64      `json:"confidence"`
	CostUSD         float64      `json:"cost_usd"`
	TokensUsed      int64        `json:"tokens_used"`
	DecidedAt       time.Time    `json:"decided_at"`
}

// NewDecisionRecord summarizes a decision made for a ticket
func NewDecisionRecord(ticket *TicketData, jobID string, d *DeflectionDecision) *DecisionRecord {
	rec := &DecisionRecord{
		TicketID:        ticket.ID,
		TenantID:        ticket.TenantID,
		ConversationRef: ticket.ConversationRef,
		JobID:           jobID,
		ShouldRespond:   d.ShouldRespond,
		Reason:          d.Reason,
		ResponseType:    d.ResponseType(),
		DecidedAt:       d.DecidedAt,
	}
	if d.Attempt != nil {
		rec.Category = d.Attempt.Category
		rec.Confidence = d.Attempt.ConfidenceScore
		rec.CostUSD = d.Attempt.CostUSD
		rec.TokensUsed = d.Attempt.TokensUsed
	}
	return rec
}
