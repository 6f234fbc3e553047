package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds decision engine configuration
type Config struct {
	// SimilarityThreshold is the minimum similarity score for a prior ticket's
	// categorization to be reused instead of calling the reasoning backend
	// Default: 0.9
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MaxContentLength is the safety cap on ticket content, in characters.
	// A tenant's own max_content_length takes precedence when set.
	// Default: 10000
	MaxContentLength int `yaml:"max_content_length"`

	// HumanOnlyCategories are always routed to a human, for every tenant
	// Default: legal, security
	HumanOnlyCategories []string `yaml:"human_only_categories"`

	// ConfidenceTolerance is how far outside [0,1] a backend confidence may
	// fall and still be clamped. Anything further is a malformed response.
	// Default: 0.05
	ConfidenceTolerance float64 `yaml:"confidence_tolerance"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.9,
		MaxContentLength:    10000,
		HumanOnlyCategories: []string{"legal", "security"},
		ConfidenceTolerance: 0.05,
	}
}

// LoadFromEnv applies DEFLECT_ENGINE_* overrides to cfg.
// Invalid values are ignored.
func LoadFromEnv(cfg Config) Config {
	if val := os.Getenv("DEFLECT_ENGINE_SIMILARITY_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 && f <= 1 {
			cfg.SimilarityThreshold = f
		}
	}

	if val := os.Getenv("DEFLECT_ENGINE_MAX_CONTENT_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.MaxContentLength = n
		}
	}

	if val := os.Getenv("DEFLECT_ENGINE_HUMAN_ONLY_CATEGORIES"); val != "" {
		var cats []string
		for _, c := range strings.Split(val, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cats = append(cats, c)
			}
		}
		cfg.HumanOnlyCategories = cats
	}

	if val := os.Getenv("DEFLECT_ENGINE_CONFIDENCE_TOLERANCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 && f < 1 {
			cfg.ConfidenceTolerance = f
		}
	}

	return cfg
}

// Validate checks that the configuration values are valid
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1] (got %.2f)", c.SimilarityThreshold)
	}
	if c.MaxContentLength < 1 {
		return fmt.Errorf("max_content_length must be positive (got %d)", c.MaxContentLength)
	}
	if c.ConfidenceTolerance < 0 || c.ConfidenceTolerance >= 1 {
		return fmt.Errorf("confidence_tolerance must be in [0, 1) (got %.2f)", c.ConfidenceTolerance)
	}
	return nil
}
