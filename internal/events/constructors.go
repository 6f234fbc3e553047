package events

import (
	"time"

	"github.com/google/uuid"
)

// NewJobEvent creates a JobEvent with a fresh ID and the current time.
func NewJobEvent(eventType EventType, jobID, tenantID, instanceID string, severity EventSeverity, message string) *JobEvent {
	return &JobEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now(),
		JobID:      jobID,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Severity:   severity,
		Message:    message,
	}
}

// NewJobFailedEvent creates the critical failure record for a job that reached failed.
func NewJobFailedEvent(jobID, tenantID, instanceID, message string, data JobFailedData) (*JobEvent, error) {
	event := NewJobEvent(EventTypeJobFailed, jobID, tenantID, instanceID, SeverityCritical, message)
	if err := event.SetJobFailedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewJobRetryEvent creates an event for a rescheduled attempt.
// Routine retries are recorded at info severity; they need no operator attention.
func NewJobRetryEvent(jobID, tenantID, instanceID, message string, data JobRetryData) (*JobEvent, error) {
	event := NewJobEvent(EventTypeJobRetryScheduled, jobID, tenantID, instanceID, SeverityInfo, message)
	if err := event.SetJobRetryData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewDecisionEvent creates an event describing an engine decision.
// Similarity reuse gets its own event type so the reused source is queryable.
func NewDecisionEvent(jobID, tenantID, instanceID, message string, data DecisionData) (*JobEvent, error) {
	eventType := EventTypeDecisionMade
	if data.ReusedFromTicketID != "" {
		eventType = EventTypeSimilarityReused
	}
	event := NewJobEvent(eventType, jobID, tenantID, instanceID, SeverityInfo, message)
	if err := event.SetDecisionData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewCleanupCompletedEvent creates an event for a finished retention cleanup.
func NewCleanupCompletedEvent(instanceID string, data CleanupCompletedData) (*JobEvent, error) {
	severity := SeverityInfo
	message := "Retention cleanup completed"
	if !data.Success {
		severity = SeverityError
		message = "Retention cleanup failed"
	}
	event := NewJobEvent(EventTypeCleanupCompleted, "", "", instanceID, severity, message)
	if err := event.SetCleanupCompletedData(data); err != nil {
		return nil, err
	}
	return event, nil
}
