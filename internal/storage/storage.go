package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/deflect/internal/events"
	"github.com/steveyegge/deflect/internal/storage/postgres"
	"github.com/steveyegge/deflect/internal/storage/sqlite"
	"github.com/steveyegge/deflect/internal/types"
)

// Storage defines the interface for deflection storage backends
type Storage interface {
	// Jobs
	CreateJob(ctx context.Context, job *types.DeflectionJob) error
	GetJob(ctx context.Context, id string) (*types.DeflectionJob, error)
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error)

	// Claiming - every state change is a single conditional update
	ClaimJobs(ctx context.Context, instanceID string, now time.Time, limit int) ([]*types.DeflectionJob, error)
	ClaimJob(ctx context.Context, jobID, instanceID string, now time.Time) (*types.DeflectionJob, error)
	CompleteJob(ctx context.Context, jobID, instanceID string, result *types.DeflectionDecision, completedAt time.Time) error
	ScheduleRetry(ctx context.Context, jobID, instanceID string, retryCount int, scheduledAt time.Time, errKind, errMsg string) error
	FailJob(ctx context.Context, jobID, instanceID string, retryCount int, errKind, errMsg string, completedAt time.Time) error

	// Maintenance
	RequeueStaleJobs(ctx context.Context, startedBefore time.Time) ([]string, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetQueueStats(ctx context.Context, since time.Time) (*types.QueueStats, error)

	// Tenant settings (nil, nil when a tenant has none)
	GetTenantSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error)
	UpsertTenantSettings(ctx context.Context, settings *types.DeflectionSettings) error

	// Similarity
	RecordPriorAnalysis(ctx context.Context, prior *types.PriorAnalysis) error
	ListPriorAnalyses(ctx context.Context, tenantID string, since time.Time, limit int) ([]*types.PriorAnalysis, error)

	// Decisions and feedback
	RecordDecision(ctx context.Context, rec *types.DecisionRecord) error
	GetLatestDecision(ctx context.Context, ticketID string) (*types.DecisionRecord, error)
	IsConversationAnswered(ctx context.Context, tenantID, conversationRef, excludeTicketID string) (bool, error)
	RecordFeedback(ctx context.Context, fb *types.Feedback) error
	GetCategoryStats(ctx context.Context, tenantID string) ([]*types.CategoryStats, error)

	// Job events
	StoreEvent(ctx context.Context, event *events.JobEvent) error
	GetEvents(ctx context.Context, filter events.EventFilter) ([]*events.JobEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff, criticalCutoff time.Time) (int, error)

	// Lifecycle
	Close() error
}

// Driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Driver selects the backend: "sqlite" (default) or "postgres"
	Driver string `yaml:"driver"`

	// Path is the SQLite database file path
	// Default: ".deflect/deflect.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string `yaml:"path"`

	// PostgresDSN is a postgres:// connection URL. When empty the discrete
	// postgres settings are used.
	PostgresDSN string `yaml:"postgres_dsn"`

	Postgres *postgres.Config `yaml:"-"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverSQLite,
		Path:   ".deflect/deflect.db",
	}
}

// Validate checks that the configuration values are valid
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverSQLite:
		return nil
	case DriverPostgres:
		if c.PostgresDSN == "" && c.Postgres == nil {
			return fmt.Errorf("postgres driver requires postgres_dsn")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q (expected sqlite or postgres)", c.Driver)
	}
}

// NewStorage creates the storage backend selected by cfg.Driver
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Driver == DriverPostgres {
		pgCfg := cfg.Postgres
		if pgCfg == nil {
			pgCfg = postgres.DefaultConfig()
		}
		if cfg.PostgresDSN != "" {
			pgCfg.DSN = cfg.PostgresDSN
		}
		return postgres.New(ctx, pgCfg)
	}

	// Default to standard path if not specified
	if cfg.Path == "" {
		cfg.Path = ".deflect/deflect.db"
	}

	return sqlite.New(cfg.Path)
}
