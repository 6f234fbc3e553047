package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/deflect/internal/types"
)

// DefaultCategories is offered to the backend when a tenant has no taxonomy configured
var DefaultCategories = []string{"billing", "account", "technical", "shipping", "general"}

// CategorizeRequest is the input for one categorization call
type CategorizeRequest struct {
	Ticket     *types.TicketData
	Categories []string
}

// Analysis is the structured result of a categorization call.
// Confidence is returned exactly as the backend produced it; range
// validation happens in the decision engine.
type Analysis struct {
	Category     string  `json:"category"`
	Sentiment    string  `json:"sentiment"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Reply        string  `json:"reply"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Model        string  `json:"model"`
	CostUSD      float64 `json:"cost_usd"`
}

// TokensUsed returns input + output tokens
func (a *Analysis) TokensUsed() int64 {
	return a.InputTokens + a.OutputTokens
}

// categorizeResponse is the JSON shape requested from the backend.
// Confidence is a pointer so a missing value is distinguishable from 0.
type categorizeResponse struct {
	Category   string   `json:"category"`
	Sentiment  string   `json:"sentiment"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Reply      string   `json:"reply"`
}

// Categorize asks the backend to categorize a ticket, estimate its confidence
// that an automated reply resolves it, and draft that reply.
func (r *Reasoner) Categorize(ctx context.Context, req CategorizeRequest) (*Analysis, error) {
	if req.Ticket == nil {
		return nil, fmt.Errorf("ticket is required")
	}
	categories := req.Categories
	if len(categories) == 0 {
		categories = DefaultCategories
	}

	prompt := buildCategorizePrompt(req.Ticket, categories)

	resp, err := r.call(ctx, "categorize", prompt)
	if err != nil {
		return nil, err
	}

	parsed := Parse[categorizeResponse](resp.Text, ParseOptions{
		Context:   "categorize response",
		LogErrors: true,
	})
	if !parsed.Success {
		return nil, Malformed("categorize", "%s (response: %s)", parsed.Error, truncate(resp.Text, 200))
	}

	data := parsed.Data
	if strings.TrimSpace(data.Category) == "" {
		return nil, Malformed("categorize", "missing category")
	}
	if data.Confidence == nil {
		return nil, Malformed("categorize", "missing confidence")
	}
	if strings.TrimSpace(data.Reply) == "" {
		return nil, Malformed("categorize", "missing reply")
	}

	return &Analysis{
		Category:     normalizeLabel(data.Category),
		Sentiment:    normalizeLabel(data.Sentiment),
		Confidence:   *data.Confidence,
		Reasoning:    strings.TrimSpace(data.Reasoning),
		Reply:        strings.TrimSpace(data.Reply),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Model:        resp.Model,
		CostUSD:      r.cfg.Pricing.Cost(resp.InputTokens, resp.OutputTokens),
	}, nil
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func buildCategorizePrompt(ticket *types.TicketData, categories []string) string {
	customer := ticket.CustomerName
	if customer == "" {
		customer = "the customer"
	}

	return fmt.Sprintf(`You are the first-line responder for a customer support team.
Analyze the support ticket below and decide how confidently an automated reply can resolve it.

Ticket subject: %s
Ticket category hint: %s
Customer: %s

Ticket content:
%s

Choose exactly one category from: %s

Respond with a single JSON object and nothing else:
{
  "category": "one of the categories above",
  "sentiment": "positive | neutral | negative | frustrated",
  "confidence": 0.0,
  "reasoning": "one or two sentences explaining the confidence",
  "reply": "the reply to send to %s"
}

"confidence" is a number between 0 and 1: the probability that the reply fully resolves the
ticket without a human agent. Use a low value when the ticket needs account access, refunds,
policy exceptions, or information you do not have. If confidence is moderate, write the reply
as a clarifying follow-up question instead of a final answer.`,
		ticket.Subject,
		orNone(ticket.Category),
		customer,
		ticket.Content,
		strings.Join(categories, ", "),
		customer,
	)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
