package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/deflect/internal/cost"
	"github.com/steveyegge/deflect/internal/settings"
	"github.com/steveyegge/deflect/internal/similarity"
	"github.com/steveyegge/deflect/internal/storage/sqlite"
	"github.com/steveyegge/deflect/internal/types"
)

type serviceFixture struct {
	store    *sqlite.SQLiteStorage
	reasoner *fakeReasoner
	tracker  *cost.Tracker
	service  *Service
}

func newServiceFixture(t *testing.T, s *types.DeflectionSettings) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "deflect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if s != nil {
		require.NoError(t, store.UpsertTenantSettings(ctx, s))
	}

	index, err := similarity.NewIndex(store, similarity.DefaultConfig())
	require.NoError(t, err)

	costCfg := cost.DefaultConfig()
	tracker, err := cost.NewTracker(costCfg)
	require.NoError(t, err)

	r := &fakeReasoner{analysis: analysisWith(0.92)}
	e, err := New(DefaultConfig(), r,
		WithDuplicateChecker(store),
		WithBudget(tracker),
		WithFeedbackStore(store),
	)
	require.NoError(t, err)

	svc, err := NewService(ServiceConfig{
		Engine:    e,
		Settings:  settings.NewStoreProvider(store),
		Index:     index,
		Decisions: store,
		Usage:     tracker,
	})
	require.NoError(t, err)

	return &serviceFixture{store: store, reasoner: r, tracker: tracker, service: svc}
}

func TestServiceDryRunWritesNothing(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()
	ticket := testTicket()

	d, err := f.service.Decide(ctx, ticket, DecideOptions{DryRun: true, RecordDecision: true})
	require.NoError(t, err)
	assert.True(t, d.ShouldRespond)

	rec, err := f.store.GetLatestDecision(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, rec, "dry run must not record a decision")

	priors, err := f.store.ListPriorAnalyses(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, priors, "dry run must not record an analysis")

	jobs, err := f.store.ListJobs(ctx, types.JobFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.Zero(t, f.tracker.GetStats("acme").CostUsed)
}

func TestServiceRecordsDecisionAndAnalysis(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()
	ticket := testTicket()

	d, err := f.service.Decide(ctx, ticket, DecideOptions{RecordDecision: true})
	require.NoError(t, err)
	require.True(t, d.ShouldRespond)

	rec, err := f.store.GetLatestDecision(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "billing", rec.Category)
	assert.Equal(t, types.ResponseAutoResolve, rec.ResponseType)
	assert.Empty(t, rec.JobID)

	priors, err := f.store.ListPriorAnalyses(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, priors, 1)
	assert.Equal(t, ticket.ID, priors[0].TicketID)

	assert.InDelta(t, 0.0081, f.tracker.GetStats("acme").CostUsed, 1e-9)
}

func TestServiceDeferredBookkeeping(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()
	ticket := testTicket()

	d, err := f.service.Decide(ctx, ticket, DecideOptions{Deferred: true})
	require.NoError(t, err)
	require.True(t, d.ShouldRespond)

	priors, err := f.store.ListPriorAnalyses(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, priors)
	assert.Zero(t, f.tracker.GetStats("acme").CostUsed)

	f.service.Commit(ctx, ticket, d)

	priors, err = f.store.ListPriorAnalyses(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, priors, 1)
	assert.InDelta(t, 0.0081, f.tracker.GetStats("acme").CostUsed, 1e-9)
}

func TestServiceSecondTicketInConversationIsDuplicate(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()

	_, err := f.service.Decide(ctx, testTicket(), DecideOptions{RecordDecision: true})
	require.NoError(t, err)

	followUp := testTicket()
	followUp.ID = "t-2"
	followUp.Content = "Also, can you resend the receipt to my other address please?"

	d, err := f.service.Decide(ctx, followUp, DecideOptions{RecordDecision: true})
	require.NoError(t, err)
	assert.False(t, d.ShouldRespond)
	assert.Equal(t, types.ReasonDuplicateConversation, d.Reason)
	assert.Equal(t, 1, f.reasoner.Calls())
}

func TestServiceReusesNearDuplicate(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()

	_, err := f.service.Decide(ctx, testTicket(), DecideOptions{RecordDecision: true})
	require.NoError(t, err)

	dup := testTicket()
	dup.ID = "t-3"
	dup.ConversationRef = "conv-3"

	d, err := f.service.Decide(ctx, dup, DecideOptions{RecordDecision: true})
	require.NoError(t, err)
	require.NotNil(t, d.Attempt)
	assert.Equal(t, "t-1", d.Attempt.ReusedFromTicketID)
	assert.Equal(t, "billing", d.Attempt.Category)
	assert.Zero(t, d.Attempt.CostUSD)
	assert.Zero(t, d.Attempt.TokensUsed)
	assert.Equal(t, 1, f.reasoner.Calls())
}

func TestServiceMissingSettings(t *testing.T) {
	f := newServiceFixture(t, nil)

	d, err := f.service.Decide(context.Background(), testTicket(), DecideOptions{})
	require.NoError(t, err)
	assert.False(t, d.ShouldRespond)
	assert.Equal(t, types.ReasonSettingsMissing, d.Reason)
	assert.Equal(t, 0, f.reasoner.Calls())
}

func TestServiceInvalidTicket(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ticket := testTicket()
	ticket.TenantID = ""

	_, err := f.service.Decide(context.Background(), ticket, DecideOptions{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestServiceBackendFailureRecordsNothing(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	f.reasoner.err = errors.New("connection reset by peer")
	ctx := context.Background()

	_, err := f.service.Decide(ctx, testTicket(), DecideOptions{RecordDecision: true})
	require.Error(t, err)

	rec, err := f.store.GetLatestDecision(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSubmitFeedback(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())
	ctx := context.Background()

	_, err := f.service.Decide(ctx, testTicket(), DecideOptions{RecordDecision: true})
	require.NoError(t, err)

	fb, err := f.service.SubmitFeedback(ctx, "t-1", true, "  worked, thanks ")
	require.NoError(t, err)
	assert.Equal(t, "billing", fb.Category)
	assert.Equal(t, "acme", fb.TenantID)
	assert.Equal(t, "worked, thanks", fb.Text)

	_, err = f.service.SubmitFeedback(ctx, "t-1", false, "")
	require.NoError(t, err)

	stats, err := f.store.GetCategoryStats(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Positive)
	assert.Equal(t, 1, stats[0].Negative)
	assert.InDelta(t, 0.5, stats[0].SuccessRate(), 1e-9)

	// The issued decision is untouched
	rec, err := f.store.GetLatestDecision(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, types.ResponseAutoResolve, rec.ResponseType)
}

func TestSubmitFeedbackRejectedTicket(t *testing.T) {
	s := enabledSettings()
	s.AutoResponseEnabled = false
	f := newServiceFixture(t, s)
	ctx := context.Background()

	_, err := f.service.Decide(ctx, testTicket(), DecideOptions{RecordDecision: true})
	require.NoError(t, err)

	fb, err := f.service.SubmitFeedback(ctx, "t-1", false, "nobody answered")
	require.NoError(t, err)
	assert.Equal(t, "uncategorized", fb.Category)
}

func TestSubmitFeedbackUnknownTicket(t *testing.T) {
	f := newServiceFixture(t, enabledSettings())

	_, err := f.service.SubmitFeedback(context.Background(), "nope", true, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDecision)
}
