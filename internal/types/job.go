package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxRetries is used when a job is enqueued without an explicit limit
const DefaultMaxRetries = 3

var (
	// ErrJobNotFound is returned when a job ID does not exist
	ErrJobNotFound = errors.New("job not found")
	// ErrNotClaimable is returned when a job is not in a state this caller may change
	// (already claimed by someone else, already terminal, or not yet due)
	ErrNotClaimable = errors.New("job is not claimable")

	// ErrInvalidInput marks errors caused by a bad request rather than a failure
	ErrInvalidInput = errors.New("invalid input")
)

// JobStatus is the lifecycle state of a deflection job
//
// State flow:
//
//	pending ──claim──► processing ──ok──► completed
//	   ▲                  │  │
//	   │ (stale requeue)  │  └──exhausted/auth──► failed
//	   └──────────────────┤
//	retrying ◄──retry─────┘
//	   └──claim──► processing
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

// AllJobStatuses lists every status, in lifecycle order
var AllJobStatuses = []JobStatus{JobPending, JobProcessing, JobRetrying, JobCompleted, JobFailed}

// IsValid checks if the status value is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobRetrying:
		return true
	}
	return false
}

// IsTerminal returns true for statuses that never change again
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsClaimable returns true for statuses the scheduler may claim
func (s JobStatus) IsClaimable() bool {
	return s == JobPending || s == JobRetrying
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending, JobRetrying:
		return next == JobProcessing
	case JobProcessing:
		// pending is only reachable through the stale-job reaper
		return next == JobCompleted || next == JobFailed || next == JobRetrying || next == JobPending
	default:
		return false
	}
}

// DeflectionJob is one durable unit of scheduled deflection work
type DeflectionJob struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Ticket       TicketData      `json:"ticket"`
	EventPayload json.RawMessage `json:"event_payload,omitempty"` // Originating event, stored verbatim
	Priority     Priority        `json:"priority"`
	MaxRetries   int             `json:"max_retries"`
	RetryCount   int             `json:"retry_count"`
	Status       JobStatus       `json:"status"`
	ClaimedBy    string          `json:"claimed_by,omitempty"` // Processor instance holding the claim

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt time.Time  `json:"scheduled_at"` // Earliest eligible execution time
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"` // Set for both completed and failed

	ErrorKind    string              `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Result       *DeflectionDecision `json:"result,omitempty"`
}

// Validate checks if the job has valid field values
func (j *DeflectionJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := j.Ticket.Validate(); err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}
	if j.Ticket.TenantID != j.TenantID {
		return fmt.Errorf("ticket tenant %s does not match job tenant %s", j.Ticket.TenantID, j.TenantID)
	}
	if !j.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", j.Priority)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", j.Status)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative (got %d)", j.MaxRetries)
	}
	if j.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative (got %d)", j.RetryCount)
	}
	if len(j.EventPayload) > 0 && !json.Valid(j.EventPayload) {
		return fmt.Errorf("event_payload is not valid JSON")
	}
	return nil
}

// JobFilter narrows job listings
type JobFilter struct {
	TenantID string
	Status   *JobStatus
	Limit    int
}

// QueueStats is a read-only projection of the job queue for dashboards
type QueueStats struct {
	Since  time.Time         `json:"since"`
	Counts map[JobStatus]int `json:"counts"`
	Total  int               `json:"total"`

	// Averages over jobs completed within the window
	CompletedSamples     int           `json:"completed_samples"`
	AvgCompletionLatency time.Duration `json:"avg_completion_latency"` // created_at -> completed_at
	AvgProcessingLatency time.Duration `json:"avg_processing_latency"` // started_at -> completed_at
}
