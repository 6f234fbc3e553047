// Package ingest feeds ticket events from Kafka into the job queue.
//
// Offsets are committed only after a job exists for the message, so a crash
// between fetch and enqueue redelivers the ticket. Messages that can never
// become a job (undecodable, invalid ticket) are committed and skipped.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/types"
)

// TicketMessage is the wire format of the tickets topic
type TicketMessage struct {
	// TenantID defaults to the ticket's tenant
	TenantID   string           `json:"tenant_id,omitempty"`
	Priority   types.Priority   `json:"priority,omitempty"`
	MaxRetries int              `json:"max_retries,omitempty"`
	Ticket     types.TicketData `json:"ticket"`
	// Event is the originating helpdesk event, stored on the job verbatim
	Event json.RawMessage `json:"event,omitempty"`
}

// Enqueuer creates jobs. *processor.Processor implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req processor.EnqueueRequest) (string, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Stats counts consumer outcomes since start
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Skipped  int64 `json:"skipped"`
}

// Consumer reads ticket messages and enqueues a job for each
type Consumer struct {
	reader     messageReader
	enqueuer   Enqueuer
	retryDelay time.Duration

	enqueued atomic.Int64
	skipped  atomic.Int64
}

// NewConsumer creates a consumer in the given group. Commits are manual.
func NewConsumer(brokers []string, topic, groupID string, enqueuer Enqueuer) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" || groupID == "" {
		return nil, fmt.Errorf("topic and group id are required")
	}
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	return newConsumer(r, enqueuer), nil
}

func newConsumer(r messageReader, enqueuer Enqueuer) *Consumer {
	return &Consumer{reader: r, enqueuer: enqueuer, retryDelay: 2 * time.Second}
}

// Close closes the underlying reader
func (c *Consumer) Close() error { return c.reader.Close() }

// Stats returns the consumer counters
func (c *Consumer) Stats() Stats {
	return Stats{Enqueued: c.enqueued.Load(), Skipped: c.skipped.Load()}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	fmt.Printf("Ingest: Consuming ticket events\n")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "ingest: read error: %v\n", err)
			if !sleep(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, m); err != nil {
			// Only cancellation leaves a message uncommitted; it is redelivered
			// to whichever consumer owns the partition next
			return nil
		}
	}
}

// handle turns one message into a job and commits it.
// It returns an error only when ctx was cancelled before the job existed.
func (c *Consumer) handle(ctx context.Context, m kgo.Message) error {
	req, err := decode(m.Value)
	if err != nil {
		c.skipped.Add(1)
		fmt.Fprintf(os.Stderr, "warning: skipping message at %s/%d offset %d: %v\n", m.Topic, m.Partition, m.Offset, err)
		c.commit(ctx, m)
		return nil
	}

	for {
		jobID, err := c.enqueuer.Enqueue(ctx, req)
		if err == nil {
			c.enqueued.Add(1)
			fmt.Printf("Ingest: Enqueued job %s for ticket %s (tenant %s)\n", jobID, req.Ticket.ID, req.Ticket.TenantID)
			break
		}
		fmt.Fprintf(os.Stderr, "ingest: failed to enqueue ticket %s, will retry: %v\n", req.Ticket.ID, err)
		if !sleep(ctx, c.retryDelay) {
			return ctx.Err()
		}
	}

	c.commit(ctx, m)
	return nil
}

func (c *Consumer) commit(ctx context.Context, m kgo.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, m); err != nil {
		// The job exists; a redelivery would only create a duplicate job
		fmt.Fprintf(os.Stderr, "warning: failed to commit offset %d: %v\n", m.Offset, err)
	}
}

// decode parses and validates a message. Errors here are permanent.
func decode(value []byte) (processor.EnqueueRequest, error) {
	var msg TicketMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return processor.EnqueueRequest{}, fmt.Errorf("invalid message: %w", err)
	}
	if err := msg.Ticket.Validate(); err != nil {
		return processor.EnqueueRequest{}, fmt.Errorf("invalid ticket: %w", err)
	}
	if msg.TenantID != "" && msg.TenantID != msg.Ticket.TenantID {
		return processor.EnqueueRequest{}, fmt.Errorf("tenant %s does not match ticket tenant %s", msg.TenantID, msg.Ticket.TenantID)
	}
	if msg.Priority != "" && !msg.Priority.IsValid() {
		return processor.EnqueueRequest{}, fmt.Errorf("invalid priority: %s", msg.Priority)
	}
	if len(msg.Event) > 0 && !json.Valid(msg.Event) {
		return processor.EnqueueRequest{}, errors.New("event is not valid JSON")
	}
	if msg.MaxRetries < 0 {
		return processor.EnqueueRequest{}, fmt.Errorf("max_retries cannot be negative (got %d)", msg.MaxRetries)
	}

	ticket := msg.Ticket
	return processor.EnqueueRequest{
		TenantID:     msg.TenantID,
		Ticket:       &ticket,
		EventPayload: msg.Event,
		Priority:     msg.Priority,
		MaxRetries:   msg.MaxRetries,
	}, nil
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
