package processor

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds job processor configuration
type Config struct {
	// InstanceID identifies this processor in claims and events.
	// Empty = a random id is generated.
	InstanceID string `yaml:"instance_id"`

	// PollInterval is how often the processor looks for eligible jobs
	// Default: 10s
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchSize is the maximum number of jobs claimed (and run concurrently) per poll
	// Default: 5
	BatchSize int `yaml:"batch_size"`

	// MaxRetries is the attempt limit for jobs enqueued without one
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay and MaxDelay bound the retry backoff: min(BaseDelay * 2^retry, MaxDelay)
	// Default: 30s, 10m
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`

	// JitterFraction adds a random [0, JitterFraction * delay) to each retry delay
	// Default: 0.2
	JitterFraction float64 `yaml:"jitter_fraction"`

	// JobTimeout bounds the decision for one job. Recording the outcome runs
	// on its own deadline.
	// Default: 60s
	JobTimeout time.Duration `yaml:"job_timeout"`

	// StaleTimeout is how long a job may stay processing before the reaper requeues it
	// Default: 10m
	StaleTimeout time.Duration `yaml:"stale_timeout"`

	// CleanupInterval is how often the reaper and retention cleanup run
	// Default: 1h
	CleanupInterval time.Duration `yaml:"-"`

	// JobRetention is how long terminal jobs are kept
	// Default: 7 days
	JobRetention time.Duration `yaml:"-"`

	// EventRetention and CriticalEventRetention are how long events are kept
	// Default: 30 days, 90 days
	EventRetention         time.Duration `yaml:"-"`
	CriticalEventRetention time.Duration `yaml:"-"`

	// StatsWindow is the window of the queue statistics projection
	// Default: 24h
	StatsWindow time.Duration `yaml:"stats_window"`
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:           10 * time.Second,
		BatchSize:              5,
		MaxRetries:             3,
		BaseDelay:              30 * time.Second,
		MaxDelay:               10 * time.Minute,
		JitterFraction:         0.2,
		JobTimeout:             60 * time.Second,
		StaleTimeout:           10 * time.Minute,
		CleanupInterval:        time.Hour,
		JobRetention:           7 * 24 * time.Hour,
		EventRetention:         30 * 24 * time.Hour,
		CriticalEventRetention: 90 * 24 * time.Hour,
		StatsWindow:            24 * time.Hour,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %v)", c.PollInterval)
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("batch_size must be between 1 and 100 (got %d)", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative (got %d)", c.MaxRetries)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive (got %v)", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("max_delay (%v) must be >= base_delay (%v)", c.MaxDelay, c.BaseDelay)
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return fmt.Errorf("jitter_fraction must be between 0 and 1 (got %.2f)", c.JitterFraction)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive (got %v)", c.JobTimeout)
	}
	if c.StaleTimeout <= c.JobTimeout {
		return fmt.Errorf("stale_timeout (%v) must exceed job_timeout (%v)", c.StaleTimeout, c.JobTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive (got %v)", c.CleanupInterval)
	}
	if c.JobRetention <= 0 || c.EventRetention <= 0 {
		return fmt.Errorf("retention periods must be positive")
	}
	if c.CriticalEventRetention < c.EventRetention {
		return fmt.Errorf("critical_event_retention (%v) must be >= event_retention (%v)",
			c.CriticalEventRetention, c.EventRetention)
	}
	if c.StatsWindow <= 0 {
		return fmt.Errorf("stats_window must be positive (got %v)", c.StatsWindow)
	}
	return nil
}

// LoadFromEnv applies DEFLECT_PROCESSOR_* overrides to cfg.
// Unparseable values are ignored; if the result is invalid, cfg is returned unchanged.
func LoadFromEnv(cfg Config) Config {
	out := cfg

	if val := os.Getenv("DEFLECT_PROCESSOR_INSTANCE_ID"); val != "" {
		out.InstanceID = val
	}
	envDuration("DEFLECT_PROCESSOR_POLL_INTERVAL", &out.PollInterval)
	envInt("DEFLECT_PROCESSOR_BATCH_SIZE", &out.BatchSize)
	envInt("DEFLECT_PROCESSOR_MAX_RETRIES", &out.MaxRetries)
	envDuration("DEFLECT_PROCESSOR_BASE_DELAY", &out.BaseDelay)
	envDuration("DEFLECT_PROCESSOR_MAX_DELAY", &out.MaxDelay)
	if val := os.Getenv("DEFLECT_PROCESSOR_JITTER_FRACTION"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			out.JitterFraction = f
		}
	}
	envDuration("DEFLECT_PROCESSOR_JOB_TIMEOUT", &out.JobTimeout)
	envDuration("DEFLECT_PROCESSOR_STALE_TIMEOUT", &out.StaleTimeout)
	envDuration("DEFLECT_PROCESSOR_STATS_WINDOW", &out.StatsWindow)

	if err := out.Validate(); err != nil {
		fmt.Printf("Warning: invalid processor config from environment: %v (ignoring overrides)\n", err)
		return cfg
	}
	return out
}

func envInt(key string, dest *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dest = n
		}
	}
}

func envDuration(key string, dest *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dest = d
		}
	}
}
