package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/deflect/internal/events"
)

// Start recovers stale jobs and begins the polling and maintenance loops.
// The loops stop when Stop is called or ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.maintenanceStopCh = make(chan struct{})
	p.maintenanceDoneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	maintenanceStopCh, maintenanceDoneCh := p.maintenanceStopCh, p.maintenanceDoneCh
	p.mu.Unlock()

	// Requeue jobs abandoned by a crashed processor before claiming anything
	if n, err := p.RecoverStale(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to recover stale jobs on startup: %v\n", err)
	} else if n > 0 {
		fmt.Printf("Recovery: Requeued %d stale job(s) on startup\n", n)
	}

	go p.eventLoop(ctx, stopCh, doneCh)
	go p.maintenanceLoop(ctx, maintenanceStopCh, maintenanceDoneCh)

	fmt.Printf("Processor %s: Started (poll_interval=%v, batch_size=%d, max_retries=%d)\n",
		p.instanceID, p.config.PollInterval, p.config.BatchSize, p.config.MaxRetries)
	return nil
}

// Stop halts new claims and waits for in-flight jobs to finish.
// If ctx expires first, Stop returns ctx.Err(); the loops still exit once
// their current batch finishes, and jobs that never finish are left for the
// stale-job reaper.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor is not running")
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	maintenanceStopCh, maintenanceDoneCh := p.maintenanceStopCh, p.maintenanceDoneCh
	p.mu.Unlock()

	close(stopCh)
	close(maintenanceStopCh)

	eventDone, maintenanceDone := false, false
	for !eventDone || !maintenanceDone {
		select {
		case <-doneCh:
			eventDone = true
		case <-maintenanceDoneCh:
			maintenanceDone = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fmt.Printf("Processor %s: Stopped\n", p.instanceID)
	return nil
}

// IsRunning returns whether the processor loops are running
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Pause halts new claims. In-flight jobs run to completion.
// Returns false if the processor was already paused.
func (p *Processor) Pause() bool {
	if !p.paused.CompareAndSwap(false, true) {
		return false
	}
	p.logEvent(context.Background(), events.NewJobEvent(events.EventTypeProcessorPaused, "", "", p.instanceID,
		events.SeverityWarning, "Claiming paused by operator"))
	fmt.Printf("Processor %s: Paused (in-flight: %d)\n", p.instanceID, p.inFlight.Load())
	return true
}

// Resume re-enables claiming. Returns false if the processor was not paused.
func (p *Processor) Resume() bool {
	if !p.paused.CompareAndSwap(true, false) {
		return false
	}
	p.logEvent(context.Background(), events.NewJobEvent(events.EventTypeProcessorResumed, "", "", p.instanceID,
		events.SeverityInfo, "Claiming resumed by operator"))
	fmt.Printf("Processor %s: Resumed\n", p.instanceID)
	return true
}

// IsPaused returns whether claiming is paused
func (p *Processor) IsPaused() bool {
	return p.paused.Load()
}

// eventLoop polls for eligible jobs until stopped.
// Each poll runs one batch to completion, so returning drains in-flight work.
func (p *Processor) eventLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// A tick may race with Stop; don't claim after a stop request
			select {
			case <-stopCh:
				return
			default:
			}

			if _, err := p.ProcessBatch(ctx); err != nil {
				// Claim failures leave job state unchanged; the next tick retries
				fmt.Fprintf(os.Stderr, "error processing batch: %v\n", err)
			}
		}
	}
}

// maintenanceLoop runs the stale-job reaper and retention cleanup
func (p *Processor) maintenanceLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if n, err := p.RecoverStale(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "recovery: error requeuing stale jobs: %v\n", err)
			} else if n > 0 {
				fmt.Printf("Recovery: Requeued %d stale job(s)\n", n)
			}

			if _, err := p.Cleanup(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "cleanup: error during retention cleanup: %v\n", err)
			}
		}
	}
}
