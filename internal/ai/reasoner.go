// Package ai wraps the reasoning backend used to categorize tickets and draft replies.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/steveyegge/deflect/internal/cost"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelSonnet is the default model for ticket categorization
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for high-volume tenants
	ModelHaiku = "claude-3-5-haiku-20241022"

	// MaxCallTimeout is the upper bound for a single backend call
	MaxCallTimeout = 30 * time.Second
)

// GetDefaultModel returns the default model, checking DEFLECT_MODEL env var first
func GetDefaultModel() string {
	if model := os.Getenv("DEFLECT_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Config holds reasoning backend configuration
type Config struct {
	APIKey    string `yaml:"-"`        // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string `yaml:"model"`    // Model to use (default: GetDefaultModel())
	BaseURL   string `yaml:"base_url"` // Override API endpoint (proxies, tests)
	MaxTokens int64  `yaml:"max_tokens"`

	// Timeout is the hard deadline for one backend call (default and max: 30s)
	Timeout time.Duration `yaml:"timeout"`

	MaxConcurrentCalls int     `yaml:"max_concurrent_calls"` // 0 = unlimited
	RequestsPerSecond  float64 `yaml:"requests_per_second"`  // 0 = unlimited
	Burst              int     `yaml:"burst"`

	Breaker BreakerConfig `yaml:"circuit_breaker"`

	Pricing cost.Pricing `yaml:"-"`
}

// DefaultConfig returns the default reasoning backend configuration
func DefaultConfig() *Config {
	return &Config{
		Model:              GetDefaultModel(),
		MaxTokens:          1024,
		Timeout:            MaxCallTimeout,
		MaxConcurrentCalls: 5,
		RequestsPerSecond:  10,
		Burst:              5,
		Breaker:            DefaultBreakerConfig(),
		Pricing:            cost.DefaultConfig().Pricing(),
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	if c.Timeout <= 0 || c.Timeout > MaxCallTimeout {
		return fmt.Errorf("timeout must be in (0, %v], got %v", MaxCallTimeout, c.Timeout)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls must be non-negative, got %d", c.MaxConcurrentCalls)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be non-negative, got %.2f", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting, got %d", c.Burst)
	}
	if c.Breaker.Enabled && (c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 || c.Breaker.OpenTimeout <= 0) {
		return fmt.Errorf("circuit breaker thresholds and open_timeout must be positive")
	}
	return nil
}

// Reasoner calls the reasoning backend. Each call is a single attempt:
// retry scheduling belongs to the job processor.
type Reasoner struct {
	client         *anthropic.Client
	model          string
	cfg            Config
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted // Limits concurrent backend calls
	limiter        *rate.Limiter
}

// NewReasoner creates a new reasoning backend client
func NewReasoner(cfg *Config) (*Reasoner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ai config: %w", err)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	r := &Reasoner{
		client: &client,
		model:  model,
		cfg:    *cfg,
	}

	if cfg.Breaker.Enabled {
		r.circuitBreaker = NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.OpenTimeout)
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.concurrencySem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return r, nil
}

// Model returns the model used for backend calls
func (r *Reasoner) Model() string {
	return r.model
}

// HealthCheck returns an error if the circuit breaker is open
func (r *Reasoner) HealthCheck(ctx context.Context) error {
	if r.circuitBreaker == nil {
		return nil
	}
	state, failures, _ := r.circuitBreaker.GetMetrics()
	if state == CircuitOpen {
		return fmt.Errorf("reasoning backend unavailable: %w (failures=%d, probe in %v)",
			ErrCircuitOpen, failures, r.cfg.Breaker.OpenTimeout)
	}
	return nil
}

// completion is the raw result of one backend call
type completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Model        string
	Duration     time.Duration
}

// call makes exactly one backend request under the concurrency, rate and
// circuit breaker limits. Failures come back as *BackendError.
func (r *Reasoner) call(ctx context.Context, operation, prompt string) (*completion, error) {
	if r.concurrencySem != nil {
		if err := r.concurrencySem.Acquire(ctx, 1); err != nil {
			return nil, NewBackendError(operation, fmt.Errorf("acquire concurrency slot: %w", err))
		}
		defer r.concurrencySem.Release(1)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &BackendError{Op: operation, Type: ErrorRateLimit, Err: fmt.Errorf("local rate limit: %w", err)}
		}
	}

	if r.circuitBreaker != nil {
		if err := r.circuitBreaker.Allow(); err != nil {
			state, failures, _ := r.circuitBreaker.GetMetrics()
			fmt.Fprintf(os.Stderr, "AI %s blocked by circuit breaker (state=%s, failures=%d)\n",
				operation, state, failures)
			return nil, &BackendError{Op: operation, Type: ErrorTransient, Err: err}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	startTime := time.Now()
	response, err := r.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		backendErr := NewBackendError(operation, err)
		// Credential and request errors say nothing about backend health
		if r.circuitBreaker != nil && backendErr.Type.Retriable() {
			r.circuitBreaker.RecordFailure()
		}
		fmt.Fprintf(os.Stderr, "AI %s call failed (%s) after %v: %v\n",
			operation, backendErr.Type, time.Since(startTime).Round(time.Millisecond), err)
		return nil, backendErr
	}

	if r.circuitBreaker != nil {
		r.circuitBreaker.RecordSuccess()
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	duration := time.Since(startTime)
	fmt.Printf("AI %s call: input=%d tokens, output=%d tokens, duration=%v\n",
		operation, response.Usage.InputTokens, response.Usage.OutputTokens, duration.Round(time.Millisecond))

	model := string(response.Model)
	if model == "" {
		model = r.model
	}

	return &completion{
		Text:         text.String(),
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		Model:        model,
		Duration:     duration,
	}, nil
}
