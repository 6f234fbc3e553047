// Package processor runs deflection decisions as durable background jobs:
// it claims eligible jobs in priority order, runs them concurrently, and
// owns all retry and failure bookkeeping.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/events"
	"github.com/steveyegge/deflect/internal/notify"
	"github.com/steveyegge/deflect/internal/types"
)

// Store is the persistence the processor needs. storage.Storage implements it.
type Store interface {
	CreateJob(ctx context.Context, job *types.DeflectionJob) error
	GetJob(ctx context.Context, id string) (*types.DeflectionJob, error)
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error)
	ClaimJobs(ctx context.Context, instanceID string, now time.Time, limit int) ([]*types.DeflectionJob, error)
	CompleteJob(ctx context.Context, jobID, instanceID string, result *types.DeflectionDecision, completedAt time.Time) error
	ScheduleRetry(ctx context.Context, jobID, instanceID string, retryCount int, scheduledAt time.Time, errKind, errMsg string) error
	FailJob(ctx context.Context, jobID, instanceID string, retryCount int, errKind, errMsg string, completedAt time.Time) error
	RequeueStaleJobs(ctx context.Context, startedBefore time.Time) ([]string, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetQueueStats(ctx context.Context, since time.Time) (*types.QueueStats, error)
	StoreEvent(ctx context.Context, event *events.JobEvent) error
	DeleteEventsBefore(ctx context.Context, cutoff, criticalCutoff time.Time) (int, error)
}

// Decider makes the decision for one ticket. *engine.Service implements it.
// Jobs decide with deferred bookkeeping and call Commit only after the job
// completes, so a lost claim is not counted twice.
type Decider interface {
	Decide(ctx context.Context, ticket *types.TicketData, opts engine.DecideOptions) (*types.DeflectionDecision, error)
	Commit(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision)
}

// Processor claims and executes deflection jobs. Construct with New; several
// processors (in one process or across replicas) may share a store.
type Processor struct {
	config     Config
	store      Store
	decider    Decider
	sink       notify.Sink
	instanceID string
	now        func() time.Time
	jitter     func() float64

	mu                sync.RWMutex
	running           bool
	stopCh            chan struct{}
	doneCh            chan struct{}
	maintenanceStopCh chan struct{}
	maintenanceDoneCh chan struct{}

	paused   atomic.Bool
	inFlight atomic.Int64
}

// Option configures optional processor collaborators
type Option func(*Processor)

// WithSink sets where terminal job results are published
func WithSink(s notify.Sink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithClock overrides the processor clock
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithJitterSource overrides the random source for retry jitter.
// f must return values in [0, 1).
func WithJitterSource(f func() float64) Option {
	return func(p *Processor) { p.jitter = f }
}

// New creates a processor. It does not start polling until Start is called.
func New(cfg Config, store Store, decider Decider, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if decider == nil {
		return nil, fmt.Errorf("decider is required")
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	p := &Processor{
		config:     cfg,
		store:      store,
		decider:    decider,
		sink:       notify.NopSink{},
		instanceID: instanceID,
		now:        time.Now,
		jitter:     rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// InstanceID returns the id this processor claims jobs under
func (p *Processor) InstanceID() string {
	return p.instanceID
}

// EnqueueRequest describes a job to create
type EnqueueRequest struct {
	TenantID     string
	Ticket       *types.TicketData
	EventPayload json.RawMessage
	// Priority defaults to the ticket's priority, then normal
	Priority types.Priority
	// MaxRetries defaults to the processor's configured limit when 0
	MaxRetries int
}

// Enqueue validates a ticket and creates a pending job for it.
// Invalid input is rejected before anything is written.
func (p *Processor) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := req.Ticket.Validate(); err != nil {
		return "", fmt.Errorf("%w: invalid ticket: %w", types.ErrInvalidInput, err)
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = req.Ticket.TenantID
	}
	if tenantID != req.Ticket.TenantID {
		return "", fmt.Errorf("%w: ticket %s belongs to tenant %s, not %s", types.ErrInvalidInput, req.Ticket.ID, req.Ticket.TenantID, tenantID)
	}

	priority := req.Priority
	if priority == "" {
		priority = req.Ticket.Priority
	}
	if priority == "" {
		priority = types.PriorityNormal
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.config.MaxRetries
	}

	now := p.now()
	job := &types.DeflectionJob{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Ticket:       *req.Ticket,
		EventPayload: req.EventPayload,
		Priority:     priority,
		MaxRetries:   maxRetries,
		Status:       types.JobPending,
		CreatedAt:    now,
		ScheduledAt:  now,
	}
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	p.logEvent(ctx, events.NewJobEvent(events.EventTypeJobEnqueued, job.ID, tenantID, p.instanceID, events.SeverityInfo,
		fmt.Sprintf("Enqueued ticket %s (priority %s)", job.Ticket.ID, priority)))
	return job.ID, nil
}

// GetJob returns a job by id
func (p *Processor) GetJob(ctx context.Context, id string) (*types.DeflectionJob, error) {
	return p.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching the filter, newest first
func (p *Processor) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error) {
	return p.store.ListJobs(ctx, filter)
}

// Decide runs a decision synchronously, bypassing the queue. No job is
// created. With dryRun set nothing at all is written; otherwise the decision
// is recorded so later duplicate checks and feedback can see it.
func (p *Processor) Decide(ctx context.Context, ticket *types.TicketData, dryRun bool) (*types.DeflectionDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()
	return p.decider.Decide(ctx, ticket, engine.DecideOptions{DryRun: dryRun, RecordDecision: !dryRun})
}

// Stats returns the queue projection over the configured window
func (p *Processor) Stats(ctx context.Context) (*types.QueueStats, error) {
	stats, err := p.store.GetQueueStats(ctx, p.now().Add(-p.config.StatsWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return stats, nil
}

// Status is a point-in-time view of the processor for operators
type Status struct {
	InstanceID string `json:"instance_id"`
	Running    bool   `json:"running"`
	Paused     bool   `json:"paused"`
	InFlight   int64  `json:"in_flight"`
}

// Status returns the processor's current state
func (p *Processor) Status() Status {
	return Status{
		InstanceID: p.instanceID,
		Running:    p.IsRunning(),
		Paused:     p.IsPaused(),
		InFlight:   p.inFlight.Load(),
	}
}

// logEvent stores an event; failures are logged and never fail the caller
func (p *Processor) logEvent(ctx context.Context, event *events.JobEvent) {
	if event == nil {
		return
	}
	if err := p.store.StoreEvent(context.WithoutCancel(ctx), event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to store %s event: %v\n", event.Type, err)
	}
}

// publish sends a terminal job result to the sink
func (p *Processor) publish(ctx context.Context, result notify.Result) {
	if err := p.sink.Publish(ctx, result); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to publish result for job %s: %v\n", result.JobID, err)
	}
}
