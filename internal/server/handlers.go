package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mbari-org/pbp-sub000/internal/catalog"
	"github.com/mbari-org/pbp-sub000/internal/job"
)

// RunService starts runs and reports their jobs.
type RunService interface {
	StartRun(ctx context.Context, dates []time.Time) (string, []*job.Job, error)
	ListRun(ctx context.Context, runID string) ([]*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
}

var _ RunService = (*job.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	// runCtx bounds background runs. Request contexts end with the response.
	runCtx    context.Context
	service   RunService
	validator *validator.Validate
	logger    *slog.Logger
	version   string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// NewHandlers creates a new Handlers instance. Runs started through the API
// are canceled when runCtx is done.
func NewHandlers(runCtx context.Context, service RunService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		runCtx:    runCtx,
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// CreateRun handles POST /runs requests.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	dates := make([]time.Time, 0, len(req.Dates))
	for _, s := range req.Dates {
		d, err := catalog.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	runID, jobs, err := h.service.StartRun(h.runCtx, dates)
	if err != nil {
		h.logger.Error("failed to start run",
			slog.Int("days", len(dates)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start run", "RUN_START_FAILED")
		return
	}

	h.logger.Info("run started",
		slog.String("run_id", runID),
		slog.Int("days", len(jobs)),
	)

	w.Header().Set("Location", "/runs/"+runID)
	writeJSON(w, http.StatusAccepted, newRunResponse(runID, jobs))
}

// GetRun handles GET /runs/{id} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_ID")
		return
	}

	jobs, err := h.service.ListRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to list run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list run", "RUN_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newRunResponse(runID, jobs))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(found))
}

func newRunResponse(runID string, jobs []*job.Job) RunResponse {
	resp := RunResponse{RunID: runID, Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	return resp
}

func newJobResponse(j *job.Job) JobResponse {
	snap := j.Clone()
	resp := JobResponse{
		ID:     snap.ID,
		RunID:  snap.RunID,
		Date:   snap.Date.UTC().Format("20060102"),
		Status: string(snap.Status),
		Error:  snap.Error,
		Files:  snap.Files,
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = snap.StartedAt.UTC().Format(time.RFC3339)
	}
	if !snap.CompletedAt.IsZero() {
		resp.CompletedAt = snap.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
