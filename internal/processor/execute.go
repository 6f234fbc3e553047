package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/events"
	"github.com/steveyegge/deflect/internal/notify"
	"github.com/steveyegge/deflect/internal/types"
)

// ProcessBatch runs one poll cycle: it atomically claims up to BatchSize
// eligible jobs, runs them concurrently, and waits for all of them.
// A paused processor claims nothing. Returns the number of jobs claimed.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	if p.paused.Load() {
		return 0, nil
	}

	jobs, err := p.store.ClaimJobs(ctx, p.instanceID, p.now(), p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		p.logEvent(ctx, events.NewJobEvent(events.EventTypeJobClaimed, job.ID, job.TenantID, p.instanceID, events.SeverityInfo,
			fmt.Sprintf("Claimed job (attempt %d/%d, priority %s)", job.RetryCount+1, job.MaxRetries, job.Priority)))

		wg.Add(1)
		p.inFlight.Add(1)
		go func(job *types.DeflectionJob) {
			defer wg.Done()
			defer p.inFlight.Add(-1)
			p.runJob(ctx, job)
		}(job)
	}
	wg.Wait()

	return len(jobs), nil
}

// persistTimeout bounds the writes that record a job's outcome
const persistTimeout = 10 * time.Second

// runJob executes one claimed job and records its outcome.
// A claimed job is never cancelled mid-flight: it runs on a context detached
// from the caller and bounded only by JobTimeout. The outcome is written on
// its own context so an expired job deadline cannot block the write.
func (p *Processor) runJob(ctx context.Context, job *types.DeflectionJob) {
	base := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			outCtx, cancel := context.WithTimeout(base, persistTimeout)
			defer cancel()
			p.handleFailure(outCtx, job, fmt.Errorf("panic while processing job: %v", r))
		}
	}()

	decision, err := p.decideJob(base, job)

	outCtx, cancel := context.WithTimeout(base, persistTimeout)
	defer cancel()
	if err != nil {
		p.handleFailure(outCtx, job, err)
		return
	}
	p.complete(outCtx, job, decision)
}

func (p *Processor) decideJob(ctx context.Context, job *types.DeflectionJob) (*types.DeflectionDecision, error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()
	return p.decider.Decide(jobCtx, &job.Ticket, engine.DecideOptions{Deferred: true})
}

// complete marks a job completed and records the decision
func (p *Processor) complete(ctx context.Context, job *types.DeflectionJob, decision *types.DeflectionDecision) {
	completedAt := p.now()
	if err := p.store.CompleteJob(ctx, job.ID, p.instanceID, decision, completedAt); err != nil {
		p.reportTransitionError(job, "complete", err)
		return
	}

	job.Status = types.JobCompleted
	job.Result = decision
	job.CompletedAt = &completedAt
	p.decider.Commit(ctx, &job.Ticket, decision)

	data := events.DecisionData{
		TicketID:      job.Ticket.ID,
		ShouldRespond: decision.ShouldRespond,
		Reason:        string(decision.Reason),
		ResponseType:  string(decision.ResponseType()),
	}
	if a := decision.Attempt; a != nil {
		data.Category = a.Category
		data.Confidence = a.ConfidenceScore
		data.CostUSD = a.CostUSD
		data.TokensUsed = a.TokensUsed
		data.ReusedFromTicketID = a.ReusedFromTicketID
		data.SimilarityScore = a.SimilarityScore
	}
	msg := fmt.Sprintf("Decided %s for ticket %s", decision.ResponseType(), job.Ticket.ID)
	if data.ReusedFromTicketID != "" {
		msg = fmt.Sprintf("%s (reused analysis of ticket %s)", msg, data.ReusedFromTicketID)
	}
	if event, err := events.NewDecisionEvent(job.ID, job.TenantID, p.instanceID, msg, data); err == nil {
		p.logEvent(ctx, event)
	}
	p.logEvent(ctx, events.NewJobEvent(events.EventTypeJobCompleted, job.ID, job.TenantID, p.instanceID, events.SeverityInfo,
		fmt.Sprintf("Completed in %v", completedAt.Sub(job.CreatedAt).Round(time.Millisecond))))

	fmt.Printf("✓ Job %s: %s (ticket %s, cost $%.4f)\n", job.ID, decision.ResponseType(), job.Ticket.ID, decision.CostUSD())
	p.publish(ctx, notify.NewResult(job, completedAt))
}

// handleFailure applies the retry policy to a failed attempt.
//
// The attempt count becomes retry_count+1. Non-retryable errors (auth,
// invalid request) fail the job at once; otherwise the job is retried while
// the count is below max_retries and fails when it reaches it.
func (p *Processor) handleFailure(ctx context.Context, job *types.DeflectionJob, cause error) {
	errType, retryAfter := ai.ClassifyError(cause)
	kind := strings.ToLower(errType.String())
	msg := cause.Error()
	retryCount := job.RetryCount + 1

	if !errType.Retriable() || retryCount >= job.MaxRetries {
		p.fail(ctx, job, retryCount, kind, msg, errType.Retriable())
		return
	}

	delay := p.retryDelay(retryCount)
	if retryAfter > delay {
		delay = retryAfter
	}
	scheduledAt := p.now().Add(delay)

	if err := p.store.ScheduleRetry(ctx, job.ID, p.instanceID, retryCount, scheduledAt, kind, msg); err != nil {
		p.reportTransitionError(job, "schedule retry for", err)
		return
	}

	// Malformed responses point at backend instability, not the network
	label := "transient failure"
	if errType == ai.ErrorMalformed {
		label = "malformed backend response"
	}
	fmt.Printf("Job %s: %s (%s) on attempt %d/%d, retrying in %v\n",
		job.ID, label, kind, retryCount, job.MaxRetries, delay.Round(time.Second))

	event, err := events.NewJobRetryEvent(job.ID, job.TenantID, p.instanceID,
		fmt.Sprintf("Retry %d/%d scheduled after %s", retryCount, job.MaxRetries, label),
		events.JobRetryData{
			RetryCount:   retryCount,
			MaxRetries:   job.MaxRetries,
			ErrorKind:    kind,
			ErrorMessage: msg,
			ScheduledAt:  scheduledAt,
			DelayMs:      delay.Milliseconds(),
		})
	if err == nil {
		p.logEvent(ctx, event)
	}
}

// fail marks a job failed and emits the critical-failure record. The guarded
// transition succeeds at most once per job, so the record is emitted once.
func (p *Processor) fail(ctx context.Context, job *types.DeflectionJob, retryCount int, kind, msg string, exhausted bool) {
	completedAt := p.now()
	if err := p.store.FailJob(ctx, job.ID, p.instanceID, retryCount, kind, msg, completedAt); err != nil {
		p.reportTransitionError(job, "fail", err)
		return
	}

	job.Status = types.JobFailed
	job.RetryCount = retryCount
	job.ErrorKind = kind
	job.ErrorMessage = msg
	job.CompletedAt = &completedAt

	summary := fmt.Sprintf("Job failed after %d attempt(s): %s", retryCount, msg)
	if !exhausted {
		summary = fmt.Sprintf("Job failed on non-retryable %s error: %s", kind, msg)
	}
	fmt.Fprintf(os.Stderr, "✗ Job %s (ticket %s): %s\n", job.ID, job.Ticket.ID, summary)

	event, err := events.NewJobFailedEvent(job.ID, job.TenantID, p.instanceID, summary, events.JobFailedData{
		RetryCount:   retryCount,
		MaxRetries:   job.MaxRetries,
		ErrorKind:    kind,
		ErrorMessage: msg,
		Exhausted:    exhausted,
	})
	if err == nil {
		p.logEvent(ctx, event)
	}
	p.publish(ctx, notify.NewResult(job, completedAt))
}

// reportTransitionError logs a status write that did not happen. The job
// keeps its visible status; a lost claim means the reaper already requeued it.
func (p *Processor) reportTransitionError(job *types.DeflectionJob, action string, err error) {
	if errors.Is(err, types.ErrNotClaimable) {
		fmt.Fprintf(os.Stderr, "warning: could not %s job %s: claim lost (requeued by another instance?)\n", action, job.ID)
		return
	}
	// Store errors already name the job and the operation
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// Backoff returns the un-jittered retry delay after retryCount failed
// attempts: min(BaseDelay * 2^retryCount, MaxDelay). It is non-decreasing
// in retryCount.
func (p *Processor) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := p.config.BaseDelay
	for i := 0; i < retryCount; i++ {
		if delay >= p.config.MaxDelay/2 {
			return p.config.MaxDelay
		}
		delay *= 2
	}
	if delay > p.config.MaxDelay {
		return p.config.MaxDelay
	}
	return delay
}

// retryDelay is Backoff plus random jitter in [0, JitterFraction * delay)
func (p *Processor) retryDelay(retryCount int) time.Duration {
	delay := p.Backoff(retryCount)
	jitter := time.Duration(p.jitter() * p.config.JitterFraction * float64(delay))
	return delay + jitter
}
