package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/deflect/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if cfg.Processor.JobRetention != 7*24*time.Hour {
		t.Errorf("JobRetention = %v, want 7 days", cfg.Processor.JobRetention)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka should be disabled by default")
	}
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Storage.Driver != storage.DriverSQLite {
		t.Errorf("Driver = %q, want sqlite", cfg.Storage.Driver)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() of a missing explicit path should fail")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: postgres
  postgres_dsn: postgres://deflect@db/deflect
engine:
  similarity_threshold: 0.95
  human_only_categories: [legal, security, privacy]
processor:
  poll_interval: 2s
  batch_size: 10
  base_delay: 5s
  max_delay: 1m
retention:
  job_retention_days: 3
  event_retention_days: 10
  critical_event_retention_days: 45
  cleanup_interval_hours: 2
kafka:
  enabled: true
  brokers: [kafka-1:9092, kafka-2:9092]
api:
  addr: 127.0.0.1:9000
settings_file: tenants.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Storage.Driver != storage.DriverPostgres || cfg.Storage.PostgresDSN != "postgres://deflect@db/deflect" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Engine.SimilarityThreshold != 0.95 {
		t.Errorf("SimilarityThreshold = %v, want 0.95", cfg.Engine.SimilarityThreshold)
	}
	if len(cfg.Engine.HumanOnlyCategories) != 3 {
		t.Errorf("HumanOnlyCategories = %v", cfg.Engine.HumanOnlyCategories)
	}
	// Unset fields keep their defaults
	if cfg.Engine.MaxContentLength != 10000 {
		t.Errorf("MaxContentLength = %v, want default 10000", cfg.Engine.MaxContentLength)
	}
	if cfg.Processor.PollInterval != 2*time.Second || cfg.Processor.BatchSize != 10 {
		t.Errorf("processor = %+v", cfg.Processor)
	}
	if cfg.Processor.MaxDelay != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", cfg.Processor.MaxDelay)
	}
	if cfg.Processor.JobRetention != 72*time.Hour {
		t.Errorf("JobRetention = %v, want 72h", cfg.Processor.JobRetention)
	}
	if cfg.Processor.CriticalEventRetention != 45*24*time.Hour {
		t.Errorf("CriticalEventRetention = %v, want 45 days", cfg.Processor.CriticalEventRetention)
	}
	if cfg.Processor.CleanupInterval != 2*time.Hour {
		t.Errorf("CleanupInterval = %v, want 2h", cfg.Processor.CleanupInterval)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Kafka.TicketsTopic != "deflect-tickets" {
		t.Errorf("TicketsTopic = %q, want default", cfg.Kafka.TicketsTopic)
	}
	if cfg.API.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.API.Addr)
	}
	if cfg.SettingsFile != "tenants.yaml" {
		t.Errorf("SettingsFile = %q", cfg.SettingsFile)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: from-file.db
processor:
  batch_size: 10
`)
	t.Setenv("DEFLECT_DB_PATH", "from-env.db")
	t.Setenv("DEFLECT_PROCESSOR_BATCH_SIZE", "20")
	t.Setenv("DEFLECT_KAFKA_BROKERS", " a:9092, b:9092 ,,")
	t.Setenv("DEFLECT_RETENTION_JOB_DAYS", "1")
	t.Setenv("DEFLECT_COST_INPUT_TOKEN_COST", "1.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Storage.Path != "from-env.db" {
		t.Errorf("Path = %q, want from-env.db", cfg.Storage.Path)
	}
	if cfg.Processor.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want 20", cfg.Processor.BatchSize)
	}
	if got := strings.Join(cfg.Kafka.Brokers, ","); got != "a:9092,b:9092" {
		t.Errorf("Brokers = %q", got)
	}
	if cfg.Processor.JobRetention != 24*time.Hour {
		t.Errorf("JobRetention = %v, want 24h", cfg.Processor.JobRetention)
	}
	if cfg.AI.Pricing.InputPerMillion != 1.5 {
		t.Errorf("AI pricing not derived from cost config: %+v", cfg.AI.Pricing)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			body:    "processor: [",
			wantErr: "parsing config file",
		},
		{
			name:    "unknown storage driver",
			body:    "storage:\n  driver: mysql\n",
			wantErr: "storage:",
		},
		{
			name:    "stale timeout below job timeout",
			body:    "processor:\n  job_timeout: 20m\n",
			wantErr: "processor:",
		},
		{
			name:    "job timeout not above backend timeout",
			body:    "processor:\n  job_timeout: 20s\n",
			wantErr: "must exceed ai.timeout",
		},
		{
			name:    "kafka without brokers",
			body:    "kafka:\n  enabled: true\n  brokers: []\n",
			wantErr: "brokers are required",
		},
		{
			name:    "bad retention env",
			body:    "",
			env:     map[string]string{"DEFLECT_RETENTION_EVENT_DAYS": "x"},
			wantErr: "DEFLECT_RETENTION_EVENT_DAYS",
		},
		{
			name:    "bad kafka flag",
			body:    "",
			env:     map[string]string{"DEFLECT_KAFKA_ENABLED": "maybe"},
			wantErr: "DEFLECT_KAFKA_ENABLED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
