// Package api is the HTTP surface of the deflection service: enqueueing
// tickets, synchronous decisions, job inspection, feedback and maintenance.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/types"
)

// Processor is the job processor surface the API needs.
// *processor.Processor implements it.
type Processor interface {
	Enqueue(ctx context.Context, req processor.EnqueueRequest) (string, error)
	GetJob(ctx context.Context, id string) (*types.DeflectionJob, error)
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.DeflectionJob, error)
	Decide(ctx context.Context, ticket *types.TicketData, dryRun bool) (*types.DeflectionDecision, error)
	Stats(ctx context.Context) (*types.QueueStats, error)
	Cleanup(ctx context.Context) (*processor.CleanupResult, error)
	RecoverStale(ctx context.Context) (int, error)
	Status() processor.Status
}

// FeedbackRecorder records customer feedback. *engine.Service implements it.
type FeedbackRecorder interface {
	SubmitFeedback(ctx context.Context, ticketID string, satisfied bool, text string) (*types.Feedback, error)
}

// HealthChecker reports whether the reasoning backend is usable.
// *ai.Reasoner implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// App holds the API dependencies. Backend is optional.
type App struct {
	Processor Processor
	Feedback  FeedbackRecorder
	Backend   HealthChecker
}

// NewRouter builds the HTTP handler
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	RegisterRoutes(r, app)
	return r
}

// RegisterRoutes mounts the API on r
func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/healthz", app.healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", app.enqueueHandler)
		r.Get("/jobs", app.listJobsHandler)
		r.Get("/jobs/{job_id}", app.getJobHandler)
		r.Post("/decide", app.decideHandler)
		r.Post("/feedback", app.feedbackHandler)
		r.Get("/stats", app.statsHandler)
		r.Post("/maintenance/cleanup", app.cleanupHandler)
		r.Post("/maintenance/recover", app.recoverHandler)
	})
}
