package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/steveyegge/deflect/internal/processor"
)

// RetentionConfig holds configuration for job and event retention
type RetentionConfig struct {
	// JobRetentionDays is how long completed and failed jobs are kept (in days)
	// Pending, processing and retrying jobs are never deleted
	// Default: 7, Range: 1-365
	JobRetentionDays int `yaml:"job_retention_days"`

	// EventRetentionDays is the retention period for regular events (in days)
	// Default: 30, Range: 1-365
	EventRetentionDays int `yaml:"event_retention_days"`

	// CriticalEventRetentionDays is the retention period for critical events
	// (terminal job failures). Kept longer for failure analysis.
	// Must be >= EventRetentionDays
	// Default: 90, Range: 1-730
	CriticalEventRetentionDays int `yaml:"critical_event_retention_days"`

	// CleanupIntervalHours is how often cleanup and the stale-job reaper run (in hours)
	// Default: 1, Range: 1-168 (1 week)
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`
}

// DefaultRetentionConfig returns the default retention configuration
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		JobRetentionDays:           7,
		EventRetentionDays:         30,
		CriticalEventRetentionDays: 90,
		CleanupIntervalHours:       1,
	}
}

// Validate checks if the configuration has valid values
func (c RetentionConfig) Validate() error {
	if c.JobRetentionDays < 1 || c.JobRetentionDays > 365 {
		return fmt.Errorf("job_retention_days must be between 1 and 365 (got %d)", c.JobRetentionDays)
	}

	if c.EventRetentionDays < 1 || c.EventRetentionDays > 365 {
		return fmt.Errorf("event_retention_days must be between 1 and 365 (got %d)", c.EventRetentionDays)
	}

	if c.CriticalEventRetentionDays < 1 || c.CriticalEventRetentionDays > 730 {
		return fmt.Errorf("critical_event_retention_days must be between 1 and 730 (got %d)",
			c.CriticalEventRetentionDays)
	}
	if c.CriticalEventRetentionDays < c.EventRetentionDays {
		return fmt.Errorf("critical_event_retention_days (%d) must be >= event_retention_days (%d)",
			c.CriticalEventRetentionDays, c.EventRetentionDays)
	}

	if c.CleanupIntervalHours < 1 {
		return fmt.Errorf("cleanup_interval_hours must be at least 1 (got %d)",
			c.CleanupIntervalHours)
	}
	if c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours too large (got %d, max 168)",
			c.CleanupIntervalHours)
	}

	return nil
}

// String returns a human-readable representation of the config
func (c RetentionConfig) String() string {
	return fmt.Sprintf(
		"RetentionConfig{Jobs: %dd, Events: %dd, CriticalEvents: %dd, CleanupInterval: %dh}",
		c.JobRetentionDays, c.EventRetentionDays, c.CriticalEventRetentionDays, c.CleanupIntervalHours,
	)
}

// ApplyTo copies the retention periods onto a processor configuration
func (c RetentionConfig) ApplyTo(p *processor.Config) {
	day := 24 * time.Hour
	p.JobRetention = time.Duration(c.JobRetentionDays) * day
	p.EventRetention = time.Duration(c.EventRetentionDays) * day
	p.CriticalEventRetention = time.Duration(c.CriticalEventRetentionDays) * day
	p.CleanupInterval = time.Duration(c.CleanupIntervalHours) * time.Hour
}

// RetentionConfigFromEnv applies environment overrides to cfg.
//
// Environment variables:
//   - DEFLECT_RETENTION_JOB_DAYS: Retention for completed and failed jobs (default: 7)
//   - DEFLECT_RETENTION_EVENT_DAYS: Retention for regular events (default: 30)
//   - DEFLECT_RETENTION_CRITICAL_EVENT_DAYS: Retention for critical events (default: 90)
//   - DEFLECT_RETENTION_CLEANUP_INTERVAL_HOURS: How often cleanup runs (default: 1)
//
// Returns an error if any environment variable has an invalid value.
func RetentionConfigFromEnv(cfg RetentionConfig) (RetentionConfig, error) {
	if err := parseEnvInt("DEFLECT_RETENTION_JOB_DAYS", &cfg.JobRetentionDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEFLECT_RETENTION_EVENT_DAYS", &cfg.EventRetentionDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEFLECT_RETENTION_CRITICAL_EVENT_DAYS", &cfg.CriticalEventRetentionDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("DEFLECT_RETENTION_CLEANUP_INTERVAL_HOURS", &cfg.CleanupIntervalHours); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid retention configuration from environment: %w", err)
	}

	return cfg, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
