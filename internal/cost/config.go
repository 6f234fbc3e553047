package cost

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds cost accounting and per-tenant budgeting configuration
type Config struct {
	// Enabled controls whether budgets are enforced. Cost is always computed.
	// Default: true
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxTokensPerHour is the per-tenant token budget (input + output) per window
	// 0 = unlimited
	MaxTokensPerHour int64 `json:"max_tokens_per_hour" yaml:"max_tokens_per_hour"`

	// MaxCostPerHour is the per-tenant cost budget in USD per window
	// 0.0 = unlimited
	// Default: 2.00
	MaxCostPerHour float64 `json:"max_cost_per_hour" yaml:"max_cost_per_hour"`

	// AlertThreshold is the fraction of budget usage that triggers a warning
	// Default: 0.80
	AlertThreshold float64 `json:"alert_threshold" yaml:"alert_threshold"`

	// BudgetResetInterval is how often the budget window resets
	// Default: 1 hour
	BudgetResetInterval time.Duration `json:"budget_reset_interval" yaml:"budget_reset_interval"`

	// PersistStatePath is where budget state is persisted for restart recovery
	// Empty disables persistence
	PersistStatePath string `json:"persist_state_path" yaml:"persist_state_path"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $3.00 for Claude Sonnet
	InputTokenCost float64 `json:"input_token_cost" yaml:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $15.00 for Claude Sonnet
	OutputTokenCost float64 `json:"output_token_cost" yaml:"output_token_cost"`
}

// DefaultConfig returns default cost configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		MaxTokensPerHour:    0,
		MaxCostPerHour:      2.00,
		AlertThreshold:      0.80,
		BudgetResetInterval: time.Hour,
		InputTokenCost:      3.00,
		OutputTokenCost:     15.00,
	}
}

// Pricing returns the token prices from the config
func (c *Config) Pricing() Pricing {
	return Pricing{InputPerMillion: c.InputTokenCost, OutputPerMillion: c.OutputTokenCost}
}

// LoadFromEnv loads cost configuration from environment variables
// Environment variables override values already in cfg (defaults when cfg is nil)
// Prefix: DEFLECT_COST_
func LoadFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	fallback := *cfg

	if val := os.Getenv("DEFLECT_COST_ENABLED"); val != "" {
		cfg.Enabled = parseBool(val)
	}

	if val := os.Getenv("DEFLECT_COST_MAX_TOKENS_PER_HOUR"); val != "" {
		if tokens, err := strconv.ParseInt(val, 10, 64); err == nil && tokens >= 0 {
			cfg.MaxTokensPerHour = tokens
		}
	}

	if val := os.Getenv("DEFLECT_COST_MAX_COST_PER_HOUR"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.MaxCostPerHour = cost
		}
	}

	if val := os.Getenv("DEFLECT_COST_ALERT_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil && threshold > 0 && threshold <= 1.0 {
			cfg.AlertThreshold = threshold
		}
	}

	if val := os.Getenv("DEFLECT_COST_BUDGET_RESET_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil && duration > 0 {
			cfg.BudgetResetInterval = duration
		}
	}

	if val := os.Getenv("DEFLECT_COST_PERSIST_STATE_PATH"); val != "" {
		cfg.PersistStatePath = val
	}

	if val := os.Getenv("DEFLECT_COST_INPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.InputTokenCost = cost
		}
	}

	if val := os.Getenv("DEFLECT_COST_OUTPUT_TOKEN_COST"); val != "" {
		if cost, err := strconv.ParseFloat(val, 64); err == nil && cost >= 0 {
			cfg.OutputTokenCost = cost
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid cost config from environment: %v (ignoring overrides)\n", err)
		*cfg = fallback
	}

	return cfg
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}

	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}

	if c.BudgetResetInterval <= 0 {
		return fmt.Errorf("budget_reset_interval must be positive, got %v", c.BudgetResetInterval)
	}

	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}

	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}

	return nil
}

// parseBool parses a boolean string
func parseBool(val string) bool {
	switch val {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}
