package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/deflect/internal/events"
)

// RecoverStale returns jobs stuck in processing for longer than StaleTimeout
// to pending. Their retry count is unchanged: the attempt never finished.
func (p *Processor) RecoverStale(ctx context.Context) (int, error) {
	ids, err := p.store.RequeueStaleJobs(ctx, p.now().Add(-p.config.StaleTimeout))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	for _, id := range ids {
		p.logEvent(ctx, events.NewJobEvent(events.EventTypeJobRequeued, id, "", p.instanceID, events.SeverityWarning,
			fmt.Sprintf("Requeued after processing longer than %v", p.config.StaleTimeout)))
	}
	return len(ids), nil
}

// CleanupResult summarizes one retention cleanup run
type CleanupResult struct {
	JobsDeleted   int `json:"jobs_deleted"`
	EventsDeleted int `json:"events_deleted"`
}

// Cleanup deletes terminal jobs older than JobRetention and events past
// their retention. Pending, processing and retrying jobs are never deleted,
// however old. Safe to run repeatedly.
func (p *Processor) Cleanup(ctx context.Context) (*CleanupResult, error) {
	start := p.now()
	result := &CleanupResult{}

	jobs, err := p.store.DeleteTerminalJobsBefore(ctx, start.Add(-p.config.JobRetention))
	if err != nil {
		err = fmt.Errorf("failed to delete old jobs: %w", err)
		p.logCleanup(ctx, result, start, err)
		return nil, err
	}
	result.JobsDeleted = jobs

	evts, err := p.store.DeleteEventsBefore(ctx,
		start.Add(-p.config.EventRetention), start.Add(-p.config.CriticalEventRetention))
	if err != nil {
		err = fmt.Errorf("failed to delete old events: %w", err)
		p.logCleanup(ctx, result, start, err)
		return nil, err
	}
	result.EventsDeleted = evts

	p.logCleanup(ctx, result, start, nil)
	if result.JobsDeleted > 0 || result.EventsDeleted > 0 {
		fmt.Printf("Cleanup: Deleted %d job(s) older than %v and %d event(s)\n",
			result.JobsDeleted, p.config.JobRetention, result.EventsDeleted)
	}
	return result, nil
}

func (p *Processor) logCleanup(ctx context.Context, result *CleanupResult, start time.Time, cleanupErr error) {
	data := events.CleanupCompletedData{
		JobsDeleted:      result.JobsDeleted,
		EventsDeleted:    result.EventsDeleted,
		RetentionSeconds: int64(p.config.JobRetention.Seconds()),
		ProcessingTimeMs: p.now().Sub(start).Milliseconds(),
		Success:          cleanupErr == nil,
	}
	if cleanupErr != nil {
		data.Error = cleanupErr.Error()
	}
	if event, err := events.NewCleanupCompletedEvent(p.instanceID, data); err == nil {
		p.logEvent(ctx, event)
	}
}
