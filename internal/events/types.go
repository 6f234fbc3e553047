package events

import (
	"context"
	"time"
)

// EventType represents the type of event recorded during job processing.
type EventType string

const (
	// Job lifecycle events
	// EventTypeJobEnqueued indicates a job was created with status pending
	EventTypeJobEnqueued EventType = "job_enqueued"
	// EventTypeJobClaimed indicates a processor instance claimed a job
	EventTypeJobClaimed EventType = "job_claimed"
	// EventTypeJobCompleted indicates a job reached the completed state
	EventTypeJobCompleted EventType = "job_completed"
	// EventTypeJobRetryScheduled indicates a failed attempt was rescheduled
	EventTypeJobRetryScheduled EventType = "job_retry_scheduled"
	// EventTypeJobFailed indicates a job reached the failed state.
	// Emitted with SeverityCritical exactly once per job.
	EventTypeJobFailed EventType = "job_failed"
	// EventTypeJobRequeued indicates the stale-job reaper returned a stuck job to pending
	EventTypeJobRequeued EventType = "job_requeued"

	// Decision events
	// EventTypeDecisionMade indicates the engine produced a decision
	EventTypeDecisionMade EventType = "decision_made"
	// EventTypeSimilarityReused indicates a prior analysis was reused instead of calling the backend
	EventTypeSimilarityReused EventType = "similarity_reused"
	// EventTypeFeedbackRecorded indicates feedback updated category statistics
	EventTypeFeedbackRecorded EventType = "feedback_recorded"

	// Maintenance events
	// EventTypeCleanupCompleted indicates a retention cleanup cycle completed
	EventTypeCleanupCompleted EventType = "cleanup_completed"
	// EventTypeProcessorPaused indicates new claims were halted by an operator
	EventTypeProcessorPaused EventType = "processor_paused"
	// EventTypeProcessorResumed indicates claiming resumed
	EventTypeProcessorResumed EventType = "processor_resumed"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring operator attention
	SeverityCritical EventSeverity = "critical"
)

// IsValid checks if the severity value is valid
func (s EventSeverity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// JobEvent is a persisted, queryable record of something that happened to a job.
type JobEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// JobID is the job this event is about (empty for processor-level events)
	JobID string `json:"job_id,omitempty"`
	// TenantID owns the job
	TenantID string `json:"tenant_id,omitempty"`
	// InstanceID is the processor instance that recorded the event
	InstanceID string `json:"instance_id,omitempty"`
	// Severity is the severity level of this event
	Severity EventSeverity `json:"severity"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
}

// JobFailedData contains structured data for the critical failure record.
type JobFailedData struct {
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	ErrorKind    string `json:"error_kind"`
	ErrorMessage string `json:"error_message"`
	// Exhausted is false when the job failed on a non-retryable error
	Exhausted bool `json:"exhausted"`
}

// JobRetryData contains structured data for retry scheduling events.
type JobRetryData struct {
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	ErrorKind    string    `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	DelayMs      int64     `json:"delay_ms"`
}

// DecisionData contains structured data for decision events.
type DecisionData struct {
	TicketID           string  `json:"ticket_id"`
	ShouldRespond      bool    `json:"should_respond"`
	Reason             string  `json:"reason,omitempty"`
	ResponseType       string  `json:"response_type,omitempty"`
	Category           string  `json:"category,omitempty"`
	Confidence         float64 `json:"confidence"`
	CostUSD            float64 `json:"cost_usd"`
	TokensUsed         int64   `json:"tokens_used"`
	ReusedFromTicketID string  `json:"reused_from_ticket_id,omitempty"`
	SimilarityScore    float64 `json:"similarity_score,omitempty"`
}

// CleanupCompletedData contains structured data for cleanup events.
type CleanupCompletedData struct {
	JobsDeleted      int    `json:"jobs_deleted"`
	EventsDeleted    int    `json:"events_deleted"`
	RetentionSeconds int64  `json:"retention_seconds"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// EventStore defines the interface for storing and retrieving job events.
type EventStore interface {
	// StoreEvent stores a new event in the event store
	StoreEvent(ctx context.Context, event *JobEvent) error

	// GetEvents retrieves events matching the given filter, newest first
	GetEvents(ctx context.Context, filter EventFilter) ([]*JobEvent, error)
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// JobID filters events by job ID
	JobID string
	// TenantID filters events by tenant
	TenantID string
	// Type filters events by event type
	Type EventType
	// Severity filters events by severity level
	Severity EventSeverity
	// AfterTime filters events that occurred after this time
	AfterTime time.Time
	// Limit limits the number of events returned
	Limit int
}
