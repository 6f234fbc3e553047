package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/events"
	"github.com/steveyegge/deflect/internal/notify"
	"github.com/steveyegge/deflect/internal/storage/sqlite"
	"github.com/steveyegge/deflect/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDecider records the tickets it sees and answers with fn, or with ctxFn
// when set
type fakeDecider struct {
	mu        sync.Mutex
	seen      []string
	committed []string
	opts      []engine.DecideOptions
	fn        func(ticket *types.TicketData) (*types.DeflectionDecision, error)
	ctxFn     func(ctx context.Context, ticket *types.TicketData) (*types.DeflectionDecision, error)
}

func (f *fakeDecider) Decide(ctx context.Context, ticket *types.TicketData, opts engine.DecideOptions) (*types.DeflectionDecision, error) {
	f.mu.Lock()
	f.seen = append(f.seen, ticket.ID)
	f.opts = append(f.opts, opts)
	fn, ctxFn := f.fn, f.ctxFn
	f.mu.Unlock()
	if ctxFn != nil {
		return ctxFn(ctx, ticket)
	}
	return fn(ticket)
}

func (f *fakeDecider) Commit(ctx context.Context, ticket *types.TicketData, decision *types.DeflectionDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, ticket.ID)
}

func (f *fakeDecider) Committed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.committed...)
}

func (f *fakeDecider) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func autoResolve(ticket *types.TicketData) (*types.DeflectionDecision, error) {
	return &types.DeflectionDecision{
		ShouldRespond: true,
		Attempt: &types.ResponseAttempt{
			Content:         "Here is how to fix it.",
			ResponseType:    types.ResponseAutoResolve,
			Category:        "billing",
			ConfidenceScore: 0.93,
			CostUSD:         0.004,
			TokensUsed:      900,
		},
		DecidedAt: time.Now(),
	}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	results []notify.Result
}

func (s *recordingSink) Publish(ctx context.Context, r notify.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Results() []notify.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Result(nil), s.results...)
}

type fixture struct {
	store   *sqlite.SQLiteStorage
	clock   *testClock
	decider *fakeDecider
	sink    *recordingSink
	proc    *Processor
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "deflect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.InstanceID = "proc-test"
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		store:   store,
		clock:   newTestClock(),
		decider: &fakeDecider{fn: autoResolve},
		sink:    &recordingSink{},
	}
	f.proc, err = New(cfg, store, f.decider,
		WithClock(f.clock.Now),
		WithSink(f.sink),
		WithJitterSource(func() float64 { return 0.5 }),
	)
	require.NoError(t, err)
	return f
}

func ticket(id string, priority types.Priority) *types.TicketData {
	return &types.TicketData{
		ID:              id,
		TenantID:        "acme",
		ConversationRef: "conv-" + id,
		Subject:         "Refund status",
		Content:         "When will my refund arrive?",
		Priority:        priority,
	}
}

func (f *fixture) enqueue(t *testing.T, tk *types.TicketData) string {
	t.Helper()
	id, err := f.proc.Enqueue(context.Background(), EnqueueRequest{Ticket: tk})
	require.NoError(t, err)
	return id
}

func (f *fixture) job(t *testing.T, id string) *types.DeflectionJob {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.proc.Enqueue(ctx, EnqueueRequest{
		TenantID:     "acme",
		Ticket:       ticket("t-1", ""),
		EventPayload: []byte(`{"source":"helpdesk"}`),
	})
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, types.JobPending, job.Status)
	assert.Equal(t, types.PriorityNormal, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.RetryCount)
	assert.True(t, job.ScheduledAt.Equal(f.clock.Now()))
	assert.JSONEq(t, `{"source":"helpdesk"}`, string(job.EventPayload))

	evts, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Type: events.EventTypeJobEnqueued})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestEnqueuePriorityPrecedence(t *testing.T) {
	f := newFixture(t, nil)

	fromTicket := f.enqueue(t, ticket("t-1", types.PriorityHigh))
	assert.Equal(t, types.PriorityHigh, f.job(t, fromTicket).Priority)

	id, err := f.proc.Enqueue(context.Background(), EnqueueRequest{Ticket: ticket("t-2", types.PriorityHigh), Priority: types.PriorityLow, MaxRetries: 5})
	require.NoError(t, err)
	job := f.job(t, id)
	assert.Equal(t, types.PriorityLow, job.Priority)
	assert.Equal(t, 5, job.MaxRetries)
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  EnqueueRequest
	}{
		{"nil ticket", EnqueueRequest{}},
		{"missing ticket id", EnqueueRequest{Ticket: &types.TicketData{TenantID: "acme"}}},
		{"tenant mismatch", EnqueueRequest{TenantID: "globex", Ticket: ticket("t-1", "")}},
		{"bad priority", EnqueueRequest{Ticket: ticket("t-1", ""), Priority: "urgent"}},
		{"bad payload", EnqueueRequest{Ticket: ticket("t-1", ""), EventPayload: []byte(`{not json`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Enqueue(ctx, tt.req)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}

	jobs, err := f.store.ListJobs(ctx, types.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "invalid input must not create a job")
}

func TestProcessBatchPriorityOrder(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.BatchSize = 1 })
	ctx := context.Background()

	f.enqueue(t, ticket("low", types.PriorityLow))
	f.clock.Advance(time.Second)
	f.enqueue(t, ticket("high", types.PriorityHigh))
	f.clock.Advance(time.Second)
	f.enqueue(t, ticket("normal", types.PriorityNormal))
	f.clock.Advance(time.Second)
	f.enqueue(t, ticket("high-later", types.PriorityHigh))

	for i := 0; i < 4; i++ {
		n, err := f.proc.ProcessBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	assert.Equal(t, []string{"high", "high-later", "normal", "low"}, f.decider.Seen())

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "idle poll is a no-op")
}

func TestProcessBatchCompletesJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.enqueue(t, ticket("t-1", ""))

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := f.job(t, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, types.ResponseAutoResolve, job.Result.ResponseType())
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	rec, err := f.store.GetLatestDecision(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.JobID)

	results := f.sink.Results()
	require.Len(t, results, 1)
	assert.Equal(t, types.JobCompleted, results[0].Status)
	assert.False(t, results[0].Critical)

	// Jobs defer bookkeeping until the completion is durable, and never ask
	// the service to record the decision themselves
	assert.Equal(t, engine.DecideOptions{Deferred: true}, f.decider.opts[0])
	assert.Equal(t, []string{"t-1"}, f.decider.Committed())

	decided, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Type: events.EventTypeDecisionMade})
	require.NoError(t, err)
	assert.Len(t, decided, 1)
}

func TestProcessBatchIndependentFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.decider.fn = func(tk *types.TicketData) (*types.DeflectionDecision, error) {
		if tk.ID == "t-bad" {
			return nil, errors.New("503 service unavailable")
		}
		return autoResolve(tk)
	}

	good1 := f.enqueue(t, ticket("t-good-1", ""))
	bad := f.enqueue(t, ticket("t-bad", ""))
	good2 := f.enqueue(t, ticket("t-good-2", ""))

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, types.JobCompleted, f.job(t, good1).Status)
	assert.Equal(t, types.JobCompleted, f.job(t, good2).Status)
	assert.Equal(t, types.JobRetrying, f.job(t, bad).Status)
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, &ai.BackendError{Op: "categorize", Type: ai.ErrorTransient, Err: errors.New("connection reset by peer")}
	}
	id := f.enqueue(t, ticket("t-1", ""))

	for attempt := 1; attempt <= 3; attempt++ {
		n, err := f.proc.ProcessBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d", attempt)

		job := f.job(t, id)
		assert.Equal(t, attempt, job.RetryCount)
		if attempt < 3 {
			assert.Equal(t, types.JobRetrying, job.Status)
			assert.Equal(t, "transient", job.ErrorKind)

			// Not eligible before its backoff elapses
			n, err = f.proc.ProcessBatch(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			f.clock.Advance(f.proc.config.MaxDelay * 2)
		}
	}

	job := f.job(t, id)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Contains(t, job.ErrorMessage, "connection reset by peer")

	// Failed exactly once, never retried again
	f.clock.Advance(time.Hour)
	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.decider.Seen(), 3)

	critical, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Severity: events.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, events.EventTypeJobFailed, critical[0].Type)
	data, err := critical[0].GetJobFailedData()
	require.NoError(t, err)
	assert.True(t, data.Exhausted)
	assert.Equal(t, 3, data.RetryCount)

	retries, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Type: events.EventTypeJobRetryScheduled})
	require.NoError(t, err)
	assert.Len(t, retries, 2)

	results := f.sink.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Critical)
}

func TestJobTimeoutSchedulesRetry(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.JobTimeout = 50 * time.Millisecond })
	ctx := context.Background()
	f.decider.ctxFn = func(ctx context.Context, _ *types.TicketData) (*types.DeflectionDecision, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	id := f.enqueue(t, ticket("t-1", ""))

	for attempt := 1; attempt <= 3; attempt++ {
		n, err := f.proc.ProcessBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "attempt %d", attempt)

		job := f.job(t, id)
		assert.Equal(t, attempt, job.RetryCount)
		assert.Equal(t, "timeout", job.ErrorKind)
		if attempt < 3 {
			assert.Equal(t, types.JobRetrying, job.Status)
			f.clock.Advance(f.proc.config.MaxDelay * 2)
		}
	}

	assert.Equal(t, types.JobFailed, f.job(t, id).Status)
	critical, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Severity: events.SeverityCritical})
	require.NoError(t, err)
	assert.Len(t, critical, 1)
	assert.Empty(t, f.decider.Committed())
}

func TestLostClaimSkipsBookkeeping(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.enqueue(t, ticket("t-1", ""))

	// The reaper requeues the job while its decision is still running
	f.decider.fn = func(tk *types.TicketData) (*types.DeflectionDecision, error) {
		_, err := f.store.RequeueStaleJobs(ctx, f.clock.Now().Add(time.Hour))
		assert.NoError(t, err)
		return autoResolve(tk)
	}

	_, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, types.JobPending, f.job(t, id).Status)
	assert.Empty(t, f.decider.Committed())
	assert.Empty(t, f.sink.Results())
}

// captureStderr returns what fn writes to os.Stderr
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w
	fn()
	os.Stderr = orig
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestTransitionErrorLoggedOnce(t *testing.T) {
	f := newFixture(t, nil)
	job := &types.DeflectionJob{ID: "j-1"}
	storeErr := fmt.Errorf("failed to schedule retry for job j-1: %w", errors.New("disk I/O error"))

	out := captureStderr(t, func() { f.proc.reportTransitionError(job, "schedule retry for", storeErr) })
	assert.Equal(t, 1, strings.Count(out, "failed to schedule retry for job j-1"), out)
	assert.Contains(t, out, "disk I/O error")

	lost := fmt.Errorf("%w: job j-1 is pending", types.ErrNotClaimable)
	out = captureStderr(t, func() { f.proc.reportTransitionError(job, "complete", lost) })
	assert.Contains(t, out, "claim lost")
}

func TestAuthErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, &ai.BackendError{Op: "categorize", Type: ai.ErrorAuth, Err: errors.New("401 invalid x-api-key")}
	}
	id := f.enqueue(t, ticket("t-1", ""))

	_, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "auth", job.ErrorKind)

	critical, err := f.store.GetEvents(ctx, events.EventFilter{JobID: id, Type: events.EventTypeJobFailed})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	data, err := critical[0].GetJobFailedData()
	require.NoError(t, err)
	assert.False(t, data.Exhausted)
}

func TestMalformedResponseIsRetriedAndLabelled(t *testing.T) {
	f := newFixture(t, nil)
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, fmt.Errorf("failed to analyze ticket: %w", ai.Malformed("categorize", "confidence 4.000 outside [0,1]"))
	}
	id := f.enqueue(t, ticket("t-1", ""))

	_, err := f.proc.ProcessBatch(context.Background())
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, types.JobRetrying, job.Status)
	assert.Equal(t, "malformed", job.ErrorKind)
}

func TestRetryScheduleUsesBackoff(t *testing.T) {
	f := newFixture(t, nil)
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, errors.New("503 service unavailable")
	}
	id := f.enqueue(t, ticket("t-1", ""))
	start := f.clock.Now()

	_, err := f.proc.ProcessBatch(context.Background())
	require.NoError(t, err)

	// retry 1: 30s * 2^1 = 60s, plus 0.5 * 0.2 * 60s jitter
	job := f.job(t, id)
	assert.True(t, job.ScheduledAt.Equal(start.Add(66*time.Second)), "scheduled at %v", job.ScheduledAt)
}

func TestRetryHonorsServerRetryAfter(t *testing.T) {
	f := newFixture(t, nil)
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, &ai.BackendError{Op: "categorize", Type: ai.ErrorRateLimit, RetryAfter: 20 * time.Minute, Err: errors.New("429")}
	}
	id := f.enqueue(t, ticket("t-1", ""))
	start := f.clock.Now()

	_, err := f.proc.ProcessBatch(context.Background())
	require.NoError(t, err)

	job := f.job(t, id)
	assert.Equal(t, types.JobRetrying, job.Status)
	assert.True(t, job.ScheduledAt.Equal(start.Add(20*time.Minute)), "scheduled at %v", job.ScheduledAt)
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	f := newFixture(t, nil)
	cfg := f.proc.config

	prev := time.Duration(0)
	for n := 0; n <= 64; n++ {
		b := f.proc.Backoff(n)
		assert.GreaterOrEqual(t, b, prev, "retry %d", n)
		assert.LessOrEqual(t, b, cfg.MaxDelay, "retry %d", n)

		d := f.proc.retryDelay(n)
		assert.GreaterOrEqual(t, d, b)
		assert.Less(t, d, b+time.Duration(cfg.JitterFraction*float64(b))+1)
		prev = b
	}
	assert.Equal(t, cfg.BaseDelay, f.proc.Backoff(0))
	assert.Equal(t, 4*cfg.BaseDelay, f.proc.Backoff(2))
	assert.Equal(t, cfg.MaxDelay, f.proc.Backoff(64))
}

func TestDecideDryRunCreatesNoJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	d, err := f.proc.Decide(ctx, ticket("t-1", ""), true)
	require.NoError(t, err)
	assert.True(t, d.ShouldRespond)
	assert.Equal(t, engine.DecideOptions{DryRun: true}, f.decider.opts[0])

	_, err = f.proc.Decide(ctx, ticket("t-2", ""), false)
	require.NoError(t, err)
	assert.Equal(t, engine.DecideOptions{RecordDecision: true}, f.decider.opts[1])

	jobs, err := f.store.ListJobs(ctx, types.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDecidePropagatesFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.decider.fn = func(*types.TicketData) (*types.DeflectionDecision, error) {
		return nil, errors.New("backend down")
	}

	_, err := f.proc.Decide(context.Background(), ticket("t-1", ""), true)
	assert.EqualError(t, err, "backend down")
}

func TestPauseHaltsClaims(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.enqueue(t, ticket("t-1", ""))

	assert.True(t, f.proc.Pause())
	assert.False(t, f.proc.Pause())
	assert.True(t, f.proc.IsPaused())

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, types.JobPending, f.job(t, id).Status)

	assert.True(t, f.proc.Resume())
	assert.False(t, f.proc.Resume())

	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	paused, err := f.store.GetEvents(ctx, events.EventFilter{Type: events.EventTypeProcessorPaused})
	require.NoError(t, err)
	assert.Len(t, paused, 1)
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.enqueue(t, ticket("t-1", ""))

	// Another instance claims the job and dies
	claimed, err := f.store.ClaimJobs(ctx, "proc-crashed", f.clock.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := f.proc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "not stale yet")

	f.clock.Advance(f.proc.config.StaleTimeout + time.Second)
	n, err = f.proc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := f.job(t, id)
	assert.Equal(t, types.JobPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)

	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.JobCompleted, f.job(t, id).Status)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	done := f.enqueue(t, ticket("t-done", ""))
	_, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	waiting := f.enqueue(t, ticket("t-waiting", ""))
	_, err = f.store.ClaimJobs(ctx, "proc-other", f.clock.Now(), 1)
	require.NoError(t, err)
	old := f.enqueue(t, ticket("t-old-pending", ""))

	f.clock.Advance(8 * 24 * time.Hour)
	res, err := f.proc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.JobsDeleted)

	_, err = f.store.GetJob(ctx, done)
	assert.ErrorIs(t, err, types.ErrJobNotFound)
	assert.Equal(t, types.JobProcessing, f.job(t, waiting).Status)
	assert.Equal(t, types.JobPending, f.job(t, old).Status)

	// Idempotent
	res, err = f.proc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.JobsDeleted)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.enqueue(t, ticket("t-1", ""))
	f.enqueue(t, ticket("t-2", ""))
	_, err := f.store.ClaimJobs(ctx, "proc-other", f.clock.Now(), 1)
	require.NoError(t, err)

	stats, err := f.proc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Counts[types.JobPending])
	assert.Equal(t, 1, stats.Counts[types.JobProcessing])
	assert.True(t, stats.Since.Equal(f.clock.Now().Add(-24*time.Hour)))
}

func TestStartStopDrainsInFlight(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PollInterval = 10 * time.Millisecond })

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.decider.fn = func(tk *types.TicketData) (*types.DeflectionDecision, error) {
		once.Do(func() { close(started) })
		<-release
		return autoResolve(tk)
	}
	id := f.enqueue(t, ticket("t-1", ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.proc.Start(ctx))
	assert.Error(t, f.proc.Start(ctx), "double start")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job was never picked up")
	}
	assert.Equal(t, int64(1), f.proc.Status().InFlight)

	stopped := make(chan error, 1)
	go func() { stopped <- f.proc.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}

	assert.False(t, f.proc.IsRunning())
	assert.Equal(t, types.JobCompleted, f.job(t, id).Status)
	assert.Error(t, f.proc.Stop(context.Background()), "double stop")
}

func TestStopTimeoutLeavesJobProcessing(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PollInterval = 10 * time.Millisecond })

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.decider.fn = func(tk *types.TicketData) (*types.DeflectionDecision, error) {
		once.Do(func() { close(started) })
		<-release
		return autoResolve(tk)
	}
	id := f.enqueue(t, ticket("t-1", ""))

	require.NoError(t, f.proc.Start(context.Background()))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.proc.Stop(stopCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Visible to the reaper, not lost
	assert.Equal(t, types.JobProcessing, f.job(t, id).Status)
	assert.False(t, f.proc.IsRunning())
	assert.Error(t, f.proc.Stop(context.Background()), "already stopping")

	close(release)
	assert.Eventually(t, func() bool {
		job, err := f.store.GetJob(context.Background(), id)
		return err == nil && job.Status == types.JobCompleted && f.proc.Status().InFlight == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewValidation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeDecider{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	_, err = New(cfg, nil, &fakeDecider{})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.StaleTimeout = cfg.JobTimeout
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEFLECT_PROCESSOR_BATCH_SIZE", "8")
	t.Setenv("DEFLECT_PROCESSOR_POLL_INTERVAL", "2s")
	t.Setenv("DEFLECT_PROCESSOR_MAX_DELAY", "garbage")

	cfg := LoadFromEnv(DefaultConfig())
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.MaxDelay)

	t.Setenv("DEFLECT_PROCESSOR_BATCH_SIZE", "0")
	cfg = LoadFromEnv(DefaultConfig())
	assert.Equal(t, 5, cfg.BatchSize, "invalid result falls back")
}
