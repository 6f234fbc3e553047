package similarity

import (
	"fmt"
	"time"
)

// Config holds configuration for the similarity index
type Config struct {
	// Threshold is the minimum similarity score (0.0-1.0) for a prior ticket
	// to count as a near-duplicate whose analysis is reused
	// Default: 0.9
	Threshold float64 `yaml:"threshold"`

	// LookbackWindow is how far back to search for prior analyses
	// Default: 30 days
	LookbackWindow time.Duration `yaml:"lookback_window"`

	// MaxCandidates is the maximum number of prior analyses compared per lookup
	// Default: 200
	MaxCandidates int `yaml:"max_candidates"`

	// MinTokens is the minimum number of distinct tokens a ticket needs before
	// it is fingerprinted. Very short tickets ("help", "refund?") match too easily.
	// Default: 4
	MinTokens int `yaml:"min_tokens"`
}

// DefaultConfig returns the default similarity configuration
func DefaultConfig() Config {
	return Config{
		Threshold:      0.9,
		LookbackWindow: 30 * 24 * time.Hour,
		MaxCandidates:  200,
		MinTokens:      4,
	}
}

// Validate checks that the configuration values are valid
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1] (got %.2f)", c.Threshold)
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive (got %v)", c.LookbackWindow)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be at least 1 (got %d)", c.MaxCandidates)
	}
	if c.MinTokens < 1 {
		return fmt.Errorf("min_tokens must be at least 1 (got %d)", c.MinTokens)
	}
	return nil
}
