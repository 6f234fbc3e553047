// Package notify publishes job outcomes to downstream consumers
// (notification, metrics). Delivery is best effort: a sink failure never
// changes job state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

// Result is the outcome of a job that reached a terminal state
type Result struct {
	JobID        string                    `json:"job_id"`
	TenantID     string                    `json:"tenant_id"`
	TicketID     string                    `json:"ticket_id"`
	Status       types.JobStatus           `json:"status"`
	Decision     *types.DeflectionDecision `json:"decision,omitempty"`
	RetryCount   int                       `json:"retry_count"`
	ErrorKind    string                    `json:"error_kind,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	// Critical marks a failure that needs operator attention
	Critical bool      `json:"critical,omitempty"`
	At       time.Time `json:"at"`
}

// NewResult builds the result for a job in its final state
func NewResult(job *types.DeflectionJob, at time.Time) Result {
	return Result{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		TicketID:     job.Ticket.ID,
		Status:       job.Status,
		Decision:     job.Result,
		RetryCount:   job.RetryCount,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		Critical:     job.Status == types.JobFailed,
		At:           at,
	}
}

// Sink accepts job results
type Sink interface {
	Publish(ctx context.Context, result Result) error
	Close() error
}

// LogSink writes one JSON line per result
type LogSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogSink creates a sink writing to out (stdout when nil)
func NewLogSink(out io.Writer) *LogSink {
	if out == nil {
		out = os.Stdout
	}
	return &LogSink{out: out}
}

// Publish writes the result
func (s *LogSink) Publish(ctx context.Context, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error { return nil }

// NopSink drops every result
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, result Result) error { return nil }
func (NopSink) Close() error                                     { return nil }
