// Package server provides the HTTP API for starting day runs and following
// their jobs. It includes handlers, middleware, routes, and DTOs separated
// from domain types.
package server

// CreateRunRequest is the HTTP request body for starting a run.
type CreateRunRequest struct {
	// Dates are the days to process, as YYYYMMDD.
	Dates []string `json:"dates" validate:"required,min=1,max=366,unique,dive,datetime=20060102"`
}

// RunResponse lists the jobs of a run.
type RunResponse struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Jobs has one entry per day, in date order.
	Jobs []JobResponse `json:"jobs"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"`
	Date   string `json:"date"`
	Status string `json:"status"`
	// Error is the failure message, or the reason a day was skipped.
	Error string `json:"error,omitempty"`
	// Files are the product locations of a completed day.
	Files       []string `json:"files,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is an optional machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the response for health check endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
