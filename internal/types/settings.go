package types

import (
	"fmt"
	"strings"
	"time"
)

// DeflectionSettings is the per-tenant deflection policy.
//
// A job reads settings exactly once and works on a Snapshot, so a policy
// change made while a job is running only affects jobs claimed afterwards.
type DeflectionSettings struct {
	TenantID            string `json:"tenant_id" yaml:"-"`
	AutoResponseEnabled bool   `json:"auto_response_enabled" yaml:"auto_response_enabled"`

	// ConfidenceThreshold is the minimum confidence to auto-resolve (inclusive)
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// EscalationThreshold is the confidence below which a ticket goes to a human (exclusive)
	EscalationThreshold float64 `json:"escalation_threshold" yaml:"escalation_threshold"`

	// Feature toggles
	SimilarityEnabled bool `json:"similarity_enabled" yaml:"similarity_enabled"`
	FollowUpEnabled   bool `json:"follow_up_enabled" yaml:"follow_up_enabled"` // false = the follow-up band escalates

	HumanOnlyCategories []string `json:"human_only_categories,omitempty" yaml:"human_only_categories"`
	Categories          []string `json:"categories,omitempty" yaml:"categories"`     // Category taxonomy offered to the reasoning backend
	MaxContentLength    int      `json:"max_content_length,omitempty" yaml:"max_content_length"` // 0 = engine default

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// DefaultDeflectionSettings returns a conservative policy for a tenant.
// Auto response stays disabled until a tenant opts in.
func DefaultDeflectionSettings(tenantID string) *DeflectionSettings {
	return &DeflectionSettings{
		TenantID:            tenantID,
		AutoResponseEnabled: false,
		ConfidenceThreshold: 0.85,
		EscalationThreshold: 0.5,
		SimilarityEnabled:   true,
		FollowUpEnabled:     true,
		Categories:          []string{"billing", "account", "technical", "shipping", "general"},
	}
}

// Validate checks if the settings have valid field values
func (s *DeflectionSettings) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1 (got %.2f)", s.ConfidenceThreshold)
	}
	if s.EscalationThreshold < 0 || s.EscalationThreshold > 1 {
		return fmt.Errorf("escalation_threshold must be between 0 and 1 (got %.2f)", s.EscalationThreshold)
	}
	if s.EscalationThreshold > s.ConfidenceThreshold {
		return fmt.Errorf("escalation_threshold (%.2f) cannot exceed confidence_threshold (%.2f)",
			s.EscalationThreshold, s.ConfidenceThreshold)
	}
	if s.MaxContentLength < 0 {
		return fmt.Errorf("max_content_length cannot be negative (got %d)", s.MaxContentLength)
	}
	return nil
}

// Snapshot returns a deep copy of the settings.
func (s *DeflectionSettings) Snapshot() *DeflectionSettings {
	if s == nil {
		return nil
	}
	cp := *s
	cp.HumanOnlyCategories = append([]string(nil), s.HumanOnlyCategories...)
	cp.Categories = append([]string(nil), s.Categories...)
	return &cp
}
