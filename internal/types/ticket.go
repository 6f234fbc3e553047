// Package types is the data model shared by the decision engine, the job
// processor and storage.
package types

import (
	"fmt"
	"strings"
	"time"
)

// TicketData is an incoming support ticket as produced by the ingestion side.
// The deflection core treats it as immutable input.
type TicketData struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ConversationRef string    `json:"conversation_ref,omitempty"` // External helpdesk conversation/thread reference
	Subject         string    `json:"subject"`
	Content         string    `json:"content"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	CustomerName    string    `json:"customer_name,omitempty"`
	Category        string    `json:"category,omitempty"`
	Priority        Priority  `json:"priority,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the fields required to schedule work for a ticket.
// Empty content is deliberately allowed here: the decision engine rejects it
// with an explicit reason instead of failing the request.
func (t *TicketData) Validate() error {
	if t == nil {
		return fmt.Errorf("ticket is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("ticket id is required")
	}
	if strings.TrimSpace(t.TenantID) == "" {
		return fmt.Errorf("ticket tenant_id is required")
	}
	if t.Priority != "" && !t.Priority.IsValid() {
		return fmt.Errorf("invalid ticket priority: %s", t.Priority)
	}
	return nil
}

// Priority is the scheduling priority of a ticket or job.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities for claiming. Higher ranks are claimed first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority parses a priority string. An empty string means normal.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityNormal, nil
	}
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority %q (expected high, normal, or low)", s)
	}
	return p, nil
}
