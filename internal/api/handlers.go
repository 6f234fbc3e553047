package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/steveyegge/deflect/internal/ai"
	"github.com/steveyegge/deflect/internal/engine"
	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/types"
)

// maxBodyBytes bounds request bodies; ticket content is capped well below this
const maxBodyBytes = 1 << 20

// EnqueueRequest is the body of POST /v1/jobs
type EnqueueRequest struct {
	TenantID   string            `json:"tenant_id,omitempty"`
	Priority   types.Priority    `json:"priority,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Ticket     *types.TicketData `json:"ticket"`
	Event      json.RawMessage   `json:"event,omitempty"`
}

// EnqueueResponse is returned for an accepted job
type EnqueueResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
}

// DecideRequest is the body of POST /v1/decide
type DecideRequest struct {
	Ticket *types.TicketData `json:"ticket"`
	// DryRun defaults to true: nothing is recorded unless it is explicitly false
	DryRun *bool `json:"dry_run,omitempty"`
}

// FeedbackRequest is the body of POST /v1/feedback
type FeedbackRequest struct {
	TicketID  string `json:"ticket_id"`
	Satisfied *bool  `json:"satisfied"`
	Text      string `json:"text,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps an operation error to a status code. Internal details
// are logged, not returned.
func writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrNoDecision):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, new(*ai.BackendError)):
		fmt.Fprintf(os.Stderr, "api: %s %s: %s failed: %v\n", r.Method, r.URL.Path, op, err)
		writeError(w, http.StatusBadGateway, "reasoning backend unavailable")
	default:
		fmt.Fprintf(os.Stderr, "api: %s %s: %s failed: %v\n", r.Method, r.URL.Path, op, err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// healthHandler returns 503 while the reasoning backend circuit is open
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"ok":        true,
		"processor": a.Processor.Status(),
	}
	status := http.StatusOK
	if a.Backend != nil {
		if err := a.Backend.HealthCheck(r.Context()); err != nil {
			body["ok"] = false
			body["backend"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (a *App) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	jobID, err := a.Processor.Enqueue(r.Context(), processor.EnqueueRequest{
		TenantID:     req.TenantID,
		Ticket:       req.Ticket,
		EventPayload: req.Event,
		Priority:     req.Priority,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		writeFailure(w, r, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{JobID: jobID, Status: types.JobPending})
}

func (a *App) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := a.Processor.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeFailure(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *App) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.JobFilter{TenantID: q.Get("tenant_id"), Limit: 50}

	if s := q.Get("status"); s != "" {
		status := types.JobStatus(s)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status: %s", s))
			return
		}
		filter.Status = &status
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	jobs, err := a.Processor.ListJobs(r.Context(), filter)
	if err != nil {
		writeFailure(w, r, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*types.DeflectionJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

func (a *App) decideHandler(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dryRun := req.DryRun == nil || *req.DryRun

	decision, err := a.Processor.Decide(r.Context(), req.Ticket, dryRun)
	if err != nil {
		writeFailure(w, r, "decide", err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *App) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" || req.Satisfied == nil {
		writeError(w, http.StatusBadRequest, "ticket_id and satisfied are required")
		return
	}

	fb, err := a.Feedback.SubmitFeedback(r.Context(), req.TicketID, *req.Satisfied, req.Text)
	if err != nil {
		writeFailure(w, r, "record feedback", err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Processor.Stats(r.Context())
	if err != nil {
		writeFailure(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *App) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	res, err := a.Processor.Cleanup(r.Context())
	if err != nil {
		writeFailure(w, r, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) recoverHandler(w http.ResponseWriter, r *http.Request) {
	n, err := a.Processor.RecoverStale(r.Context())
	if err != nil {
		writeFailure(w, r, "recover", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}
