// Package config assembles the service configuration from a YAML file and
// DEFLECT_* environment overrides. Each component owns its own section and
// defaults; this package only layers them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/cost"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/similarity"
	"github.com/steveyegge/deflect/internal/storage"
)

// DefaultPath is where Load looks when no config file is given
const DefaultPath = ".deflect/config.yaml"

// Config is the complete service configuration
type Config struct {
	Storage    storage.Config    `yaml:"storage"`
	AI         ai.Config         `yaml:"ai"`
	Cost       cost.Config       `yaml:"cost"`
	Engine     engine.Config     `yaml:"engine"`
	Similarity similarity.Config `yaml:"similarity"`
	Processor  processor.Config  `yaml:"processor"`
	Retention  RetentionConfig   `yaml:"retention"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	API        APIConfig         `yaml:"api"`
	Control    ControlConfig     `yaml:"control"`

	// SettingsFile is an optional YAML file of per-tenant deflection settings,
	// synced into storage at startup
	SettingsFile string `yaml:"settings_file"`
}

// KafkaConfig configures ticket ingestion and result publishing
type KafkaConfig struct {
	// Enabled turns on the ticket consumer and the result producer
	// Default: false
	Enabled bool `yaml:"enabled"`

	Brokers []string `yaml:"brokers"`

	// TicketsTopic carries inbound ticket events to enqueue
	// Default: deflect-tickets
	TicketsTopic string `yaml:"tickets_topic"`

	// ResultsTopic receives one message per completed or failed job.
	// Empty = results are only logged.
	// Default: deflect-results
	ResultsTopic string `yaml:"results_topic"`

	// GroupID is the consumer group shared by all replicas
	// Default: deflect-processors
	GroupID string `yaml:"group_id"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	// Addr is the listen address. Empty disables the HTTP API.
	// Default: :8080
	Addr string `yaml:"addr"`
}

// ControlConfig configures the local operator control socket
type ControlConfig struct {
	// SocketPath is the unix socket used by `deflect pause/resume/status`
	// Default: .deflect/processor.sock
	SocketPath string `yaml:"socket_path"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	cfg := &Config{
		Storage:    *storage.DefaultConfig(),
		AI:         *ai.DefaultConfig(),
		Cost:       *cost.DefaultConfig(),
		Engine:     engine.DefaultConfig(),
		Similarity: similarity.DefaultConfig(),
		Processor:  processor.DefaultConfig(),
		Retention:  DefaultRetentionConfig(),
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			TicketsTopic: "deflect-tickets",
			ResultsTopic: "deflect-results",
			GroupID:      "deflect-processors",
		},
		API:     APIConfig{Addr: ":8080"},
		Control: ControlConfig{SocketPath: ".deflect/processor.sock"},
	}
	cfg.Retention.ApplyTo(&cfg.Processor)
	return cfg
}

// Load reads the configuration file at path (DefaultPath when empty), then
// applies environment overrides and validates the result. A missing file at
// the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv layers DEFLECT_* environment variables over the file values and
// derives the settings that are shared between sections
func (c *Config) applyEnv() error {
	if err := parseEnvString("DEFLECT_DB_DRIVER", &c.Storage.Driver); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_DB_PATH", &c.Storage.Path); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_POSTGRES_DSN", &c.Storage.PostgresDSN); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_AI_BASE_URL", &c.AI.BaseURL); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_SETTINGS_FILE", &c.SettingsFile); err != nil {
		return err
	}

	if err := parseEnvBool("DEFLECT_KAFKA_ENABLED", &c.Kafka.Enabled); err != nil {
		return err
	}
	var brokers string
	if err := parseEnvString("DEFLECT_KAFKA_BROKERS", &brokers); err != nil {
		return err
	}
	if brokers != "" {
		c.Kafka.Brokers = splitCSV(brokers)
	}
	if err := parseEnvString("DEFLECT_KAFKA_TICKETS_TOPIC", &c.Kafka.TicketsTopic); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_KAFKA_RESULTS_TOPIC", &c.Kafka.ResultsTopic); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_KAFKA_GROUP_ID", &c.Kafka.GroupID); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_API_ADDR", &c.API.Addr); err != nil {
		return err
	}
	if err := parseEnvString("DEFLECT_CONTROL_SOCKET", &c.Control.SocketPath); err != nil {
		return err
	}

	retention, err := RetentionConfigFromEnv(c.Retention)
	if err != nil {
		return err
	}
	c.Retention = retention

	c.Engine = engine.LoadFromEnv(c.Engine)
	c.Processor = processor.LoadFromEnv(c.Processor)
	c.Cost = *cost.LoadFromEnv(&c.Cost)

	c.Retention.ApplyTo(&c.Processor)
	c.AI.Pricing = c.Cost.Pricing()
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("ai: %w", err)
	}
	if err := c.Cost.Validate(); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Similarity.Validate(); err != nil {
		return fmt.Errorf("similarity: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if err := c.Processor.Validate(); err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	if c.Processor.JobTimeout <= c.AI.Timeout {
		return fmt.Errorf("processor: job_timeout (%v) must exceed ai.timeout (%v)", c.Processor.JobTimeout, c.AI.Timeout)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka: brokers are required when kafka is enabled")
		}
		if c.Kafka.TicketsTopic == "" || c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka: tickets_topic and group_id are required when kafka is enabled")
		}
	}
	if c.Control.SocketPath == "" {
		return fmt.Errorf("control: socket_path is required")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
