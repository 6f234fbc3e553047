package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/deflect/internal/types"
)

var baseTime = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "deflect.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJob(id string, priority types.Priority, createdAt time.Time) *types.DeflectionJob {
	return &types.DeflectionJob{
		ID:       id,
		TenantID: "acme",
		Ticket: types.TicketData{
			ID:              "ticket-" + id,
			TenantID:        "acme",
			ConversationRef: "conv-" + id,
			Subject:         "Charged twice",
			Content:         "My card was charged twice.",
		},
		Priority:    priority,
		MaxRetries:  types.DefaultMaxRetries,
		Status:      types.JobPending,
		CreatedAt:   createdAt,
		ScheduledAt: createdAt,
	}
}

func mustCreate(t *testing.T, store *SQLiteStorage, job *types.DeflectionJob) {
	t.Helper()
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to create job %s: %v", job.ID, err)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1", types.PriorityHigh, baseTime)
	job.EventPayload = []byte(`{"source":"zendesk","event":"ticket.created"}`)
	mustCreate(t, store, job)

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.Priority != types.PriorityHigh {
		t.Errorf("Expected priority high, got %s", got.Priority)
	}
	if got.Ticket.Content != job.Ticket.Content {
		t.Errorf("Ticket content not round-tripped: %q", got.Ticket.Content)
	}
	if string(got.EventPayload) != string(job.EventPayload) {
		t.Errorf("Event payload not round-tripped: %s", got.EventPayload)
	}
	if !got.CreatedAt.Equal(baseTime) {
		t.Errorf("Expected created_at %v, got %v", baseTime, got.CreatedAt)
	}
	if got.StartedAt != nil || got.CompletedAt != nil || got.Result != nil {
		t.Errorf("New job should have no start, completion, or result")
	}

	_, err = store.GetJob(ctx, "missing")
	if !errors.Is(err, types.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	// Invalid jobs are rejected before anything is written
	bad := newTestJob("job-2", types.PriorityNormal, baseTime)
	bad.Ticket.TenantID = "globex"
	if err := store.CreateJob(ctx, bad); err == nil {
		t.Error("Expected validation error for tenant mismatch")
	}
}

func TestClaimJobsPriorityOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestJob("low", types.PriorityLow, baseTime))
	mustCreate(t, store, newTestJob("high", types.PriorityHigh, baseTime.Add(1*time.Second)))
	mustCreate(t, store, newTestJob("normal", types.PriorityNormal, baseTime.Add(2*time.Second)))
	mustCreate(t, store, newTestJob("high-later", types.PriorityHigh, baseTime.Add(3*time.Second)))

	jobs, err := store.ClaimJobs(ctx, "proc-1", baseTime.Add(time.Minute), 5)
	if err != nil {
		t.Fatalf("ClaimJobs failed: %v", err)
	}

	want := []string{"high", "high-later", "normal", "low"}
	if len(jobs) != len(want) {
		t.Fatalf("Expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, id := range want {
		if jobs[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, jobs[i].ID)
		}
		if jobs[i].Status != types.JobProcessing {
			t.Errorf("Job %s: expected processing, got %s", jobs[i].ID, jobs[i].Status)
		}
		if jobs[i].ClaimedBy != "proc-1" {
			t.Errorf("Job %s: expected claimed_by proc-1, got %q", jobs[i].ID, jobs[i].ClaimedBy)
		}
		if jobs[i].StartedAt == nil {
			t.Errorf("Job %s: started_at not set", jobs[i].ID)
		}
	}

	// Nothing left to claim
	again, err := store.ClaimJobs(ctx, "proc-2", baseTime.Add(time.Minute), 5)
	if err != nil {
		t.Fatalf("ClaimJobs failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected empty claim, got %d jobs", len(again))
	}
}

func TestClaimJobsBatchLimitPrefersPriority(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustCreate(t, store, newTestJob(fmt.Sprintf("low-%d", i), types.PriorityLow, baseTime.Add(time.Duration(i)*time.Second)))
	}
	mustCreate(t, store, newTestJob("urgent", types.PriorityHigh, baseTime.Add(time.Hour)))

	jobs, err := store.ClaimJobs(ctx, "proc-1", baseTime.Add(2*time.Hour), 2)
	if err != nil {
		t.Fatalf("ClaimJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "urgent" || jobs[1].ID != "low-0" {
		t.Errorf("Expected [urgent low-0], got [%s %s]", jobs[0].ID, jobs[1].ID)
	}
}

func TestClaimJobsRespectsScheduledAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	future := newTestJob("future", types.PriorityHigh, baseTime)
	future.ScheduledAt = baseTime.Add(time.Hour)
	mustCreate(t, store, future)

	jobs, err := store.ClaimJobs(ctx, "proc-1", baseTime.Add(time.Minute), 5)
	if err != nil {
		t.Fatalf("ClaimJobs failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("Job scheduled in the future must not be claimed")
	}

	if _, err := store.ClaimJob(ctx, "future", "proc-1", baseTime.Add(time.Minute)); !errors.Is(err, types.ErrNotClaimable) {
		t.Errorf("Expected ErrNotClaimable, got %v", err)
	}

	jobs, err = store.ClaimJobs(ctx, "proc-1", baseTime.Add(time.Hour), 5)
	if err != nil {
		t.Fatalf("ClaimJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected job to be claimable once due, got %d", len(jobs))
	}
}

// TestConcurrentClaimSingleJob verifies exactly one of many concurrent
// claimers wins a job
func TestConcurrentClaimSingleJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, newTestJob("contested", types.PriorityNormal, baseTime))

	const claimers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.ClaimJob(ctx, "contested", fmt.Sprintf("proc-%d", i), baseTime.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, types.ErrNotClaimable):
				losers++
			default:
				t.Errorf("Unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly 1 successful claim, got %d", winners)
	}
	if losers != claimers-1 {
		t.Errorf("Expected %d rejected claims, got %d", claimers-1, losers)
	}
}

// TestConcurrentClaimJobsNoDoubleClaim runs several pollers against one queue
// and checks every job is claimed exactly once
func TestConcurrentClaimJobsNoDoubleClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		mustCreate(t, store, newTestJob(fmt.Sprintf("job-%02d", i), types.PriorityNormal, baseTime.Add(time.Duration(i)*time.Millisecond)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]string)

	for p := 0; p < 6; p++ {
		wg.Add(1)
		go func(instance string) {
			defer wg.Done()
			for {
				jobs, err := store.ClaimJobs(ctx, instance, baseTime.Add(time.Minute), 3)
				if err != nil {
					t.Errorf("ClaimJobs failed: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					if prev, ok := claimed[j.ID]; ok {
						t.Errorf("Job %s claimed by both %s and %s", j.ID, prev, instance)
					}
					claimed[j.ID] = instance
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("proc-%d", p))
	}
	wg.Wait()

	if len(claimed) != total {
		t.Errorf("Expected %d claimed jobs, got %d", total, len(claimed))
	}
}

func TestGuardedTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, newTestJob("job-1", types.PriorityNormal, baseTime))

	if _, err := store.ClaimJob(ctx, "job-1", "proc-1", baseTime); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	decision := &types.DeflectionDecision{
		ShouldRespond: true,
		Attempt: &types.ResponseAttempt{
			Content:         "Refund issued.",
			ResponseType:    types.ResponseAutoResolve,
			Category:        "billing",
			ConfidenceScore: 0.93,
			CostUSD:         0.006,
			TokensUsed:      1200,
		},
		DecidedAt: baseTime.Add(time.Second),
	}

	// Another instance cannot finish a job it does not hold
	err := store.CompleteJob(ctx, "job-1", "proc-2", decision, baseTime.Add(time.Second))
	if !errors.Is(err, types.ErrNotClaimable) {
		t.Fatalf("Expected ErrNotClaimable for foreign instance, got %v", err)
	}

	if err := store.CompleteJob(ctx, "job-1", "proc-1", decision, baseTime.Add(time.Second)); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	// Terminal jobs are append-only
	if err := store.CompleteJob(ctx, "job-1", "proc-1", decision, baseTime.Add(2*time.Second)); !errors.Is(err, types.ErrNotClaimable) {
		t.Errorf("Expected ErrNotClaimable on second completion, got %v", err)
	}
	if err := store.FailJob(ctx, "job-1", "proc-1", 1, "transient", "boom", baseTime.Add(2*time.Second)); !errors.Is(err, types.ErrNotClaimable) {
		t.Errorf("Expected ErrNotClaimable failing a completed job, got %v", err)
	}
	if err := store.ScheduleRetry(ctx, "job-1", "proc-1", 1, baseTime, "transient", "boom"); !errors.Is(err, types.ErrNotClaimable) {
		t.Errorf("Expected ErrNotClaimable retrying a completed job, got %v", err)
	}
	if err := store.FailJob(ctx, "missing", "proc-1", 1, "transient", "boom", baseTime); !errors.Is(err, types.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Attempt == nil || got.Result.Attempt.Category != "billing" {
		t.Fatalf("Result not persisted: %+v", got.Result)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(baseTime.Add(time.Second)) {
		t.Errorf("Unexpected completed_at: %v", got.CompletedAt)
	}

	// Completion also records the decision
	rec, err := store.GetLatestDecision(ctx, "ticket-job-1")
	if err != nil {
		t.Fatalf("GetLatestDecision failed: %v", err)
	}
	if rec == nil || rec.JobID != "job-1" || rec.Category != "billing" || !rec.ShouldRespond {
		t.Errorf("Unexpected decision record: %+v", rec)
	}
}

func TestScheduleRetryAndFail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, newTestJob("job-1", types.PriorityNormal, baseTime))

	if _, err := store.ClaimJob(ctx, "job-1", "proc-1", baseTime); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	retryAt := baseTime.Add(4 * time.Second)
	if err := store.ScheduleRetry(ctx, "job-1", "proc-1", 1, retryAt, "rate_limit", "429 too many requests"); err != nil {
		t.Fatalf("ScheduleRetry failed: %v", err)
	}

	got, _ := store.GetJob(ctx, "job-1")
	if got.Status != types.JobRetrying || got.RetryCount != 1 || got.ClaimedBy != "" {
		t.Fatalf("Unexpected job after retry: status=%s retry=%d claimed_by=%q", got.Status, got.RetryCount, got.ClaimedBy)
	}
	if got.ErrorKind != "rate_limit" || got.ErrorMessage != "429 too many requests" {
		t.Errorf("Error not recorded: %s %s", got.ErrorKind, got.ErrorMessage)
	}

	// Not due yet
	jobs, _ := store.ClaimJobs(ctx, "proc-1", baseTime.Add(time.Second), 5)
	if len(jobs) != 0 {
		t.Fatalf("Retrying job claimed before scheduled_at")
	}

	jobs, err := store.ClaimJobs(ctx, "proc-2", retryAt, 5)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Expected retrying job to be reclaimed, got %d jobs, err=%v", len(jobs), err)
	}

	if err := store.FailJob(ctx, "job-1", "proc-2", 2, "auth", "invalid x-api-key", retryAt.Add(time.Second)); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	got, _ = store.GetJob(ctx, "job-1")
	if got.Status != types.JobFailed || got.RetryCount != 2 || got.CompletedAt == nil {
		t.Errorf("Unexpected failed job: status=%s retry=%d completed_at=%v", got.Status, got.RetryCount, got.CompletedAt)
	}
}

func TestRequeueStaleJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestJob("stale", types.PriorityNormal, baseTime))
	mustCreate(t, store, newTestJob("fresh", types.PriorityNormal, baseTime))

	if _, err := store.ClaimJob(ctx, "stale", "crashed", baseTime); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if _, err := store.ClaimJob(ctx, "fresh", "alive", baseTime.Add(20*time.Minute)); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	ids, err := store.RequeueStaleJobs(ctx, baseTime.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleJobs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" {
		t.Fatalf("Expected [stale] requeued, got %v", ids)
	}

	got, _ := store.GetJob(ctx, "stale")
	if got.Status != types.JobPending || got.ClaimedBy != "" || got.StartedAt != nil || got.RetryCount != 0 {
		t.Errorf("Unexpected requeued job: %+v", got)
	}

	// The crashed instance can no longer complete it
	err = store.CompleteJob(ctx, "stale", "crashed", &types.DeflectionDecision{Reason: types.ReasonEmptyContent}, baseTime.Add(time.Hour))
	if !errors.Is(err, types.ErrNotClaimable) {
		t.Errorf("Expected ErrNotClaimable, got %v", err)
	}
}

func TestDeleteTerminalJobsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := baseTime.Add(-10 * 24 * time.Hour)

	for _, id := range []string{"done-old", "failed-old", "retrying-old", "pending-old", "processing-old", "done-new"} {
		mustCreate(t, store, newTestJob(id, types.PriorityNormal, old))
	}
	for _, id := range []string{"done-old", "failed-old", "retrying-old", "processing-old"} {
		if _, err := store.ClaimJob(ctx, id, "proc-1", old); err != nil {
			t.Fatalf("ClaimJob %s failed: %v", id, err)
		}
	}
	decision := &types.DeflectionDecision{Reason: types.ReasonAutoResponseDisabled, DecidedAt: old}
	if err := store.CompleteJob(ctx, "done-old", "proc-1", decision, old); err != nil {
		t.Fatal(err)
	}
	if err := store.FailJob(ctx, "failed-old", "proc-1", 3, "transient", "boom", old); err != nil {
		t.Fatal(err)
	}
	if err := store.ScheduleRetry(ctx, "retrying-old", "proc-1", 1, old, "transient", "boom"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimJob(ctx, "done-new", "proc-1", old); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteJob(ctx, "done-new", "proc-1", decision, baseTime); err != nil {
		t.Fatal(err)
	}

	cutoff := baseTime.Add(-7 * 24 * time.Hour)
	n, err := store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteTerminalJobsBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted jobs, got %d", n)
	}

	for _, id := range []string{"retrying-old", "pending-old", "processing-old", "done-new"} {
		if _, err := store.GetJob(ctx, id); err != nil {
			t.Errorf("Job %s should survive cleanup: %v", id, err)
		}
	}

	// Idempotent
	n, err = store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil || n != 0 {
		t.Errorf("Expected second cleanup to delete nothing, got %d (err=%v)", n, err)
	}
}

func TestGetQueueStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestJob("a", types.PriorityNormal, baseTime))
	mustCreate(t, store, newTestJob("b", types.PriorityNormal, baseTime))
	mustCreate(t, store, newTestJob("c", types.PriorityNormal, baseTime))
	mustCreate(t, store, newTestJob("ancient", types.PriorityNormal, baseTime.Add(-48*time.Hour)))

	decision := &types.DeflectionDecision{Reason: types.ReasonAutoResponseDisabled}
	for i, id := range []string{"a", "b"} {
		started := baseTime.Add(time.Duration(i+1) * time.Second)
		if _, err := store.ClaimJob(ctx, id, "proc-1", started); err != nil {
			t.Fatal(err)
		}
		if err := store.CompleteJob(ctx, id, "proc-1", decision, started.Add(2*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.GetQueueStats(ctx, baseTime.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetQueueStats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Expected 3 jobs in window, got %d", stats.Total)
	}
	if stats.Counts[types.JobCompleted] != 2 || stats.Counts[types.JobPending] != 1 || stats.Counts[types.JobFailed] != 0 {
		t.Errorf("Unexpected counts: %v", stats.Counts)
	}
	if stats.CompletedSamples != 2 {
		t.Errorf("Expected 2 completed samples, got %d", stats.CompletedSamples)
	}
	// a: 3s end-to-end, b: 4s end-to-end; both 2s of processing
	if stats.AvgCompletionLatency != 3500*time.Millisecond {
		t.Errorf("Expected avg completion latency 3.5s, got %v", stats.AvgCompletionLatency)
	}
	if stats.AvgProcessingLatency != 2*time.Second {
		t.Errorf("Expected avg processing latency 2s, got %v", stats.AvgProcessingLatency)
	}
}
