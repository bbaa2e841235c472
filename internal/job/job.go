// Package job tracks the processing of days. A Job is one day of one run,
// with a small state machine, and a repository interface for persistence.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the day is waiting for a free worker.
	StatusPending Status = "PENDING"
	// StatusRunning indicates the day is being processed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the day's product was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates processing stopped with an error.
	StatusFailed Status = "FAILED"
	// StatusSkipped indicates there was nothing to process: no catalog or
	// no audio for the day.
	StatusSkipped Status = "SKIPPED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// A pending job may fail without running when the run is canceled.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusSkipped},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusSkipped:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Job is the processing record of one day.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// RunID groups the jobs started together.
	RunID string
	// Date is the UTC day being processed.
	Date time.Time
	// Status is the current job state.
	Status Status
	// Error contains the error message if the job failed, or the reason it
	// was skipped.
	Error string
	// Files are the product locations written by a completed job.
	Files []string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a PENDING job for date within run runID.
// The job ID is the run ID followed by the date.
func New(runID string, date time.Time) *Job {
	return NewWithID(runID+"-"+date.UTC().Format("20060102"), runID, date)
}

// NewWithID creates a PENDING job with the specified ID.
func NewWithID(jobID, runID string, date time.Time) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		RunID:     runID,
		Date:      date,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusSkipped:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from PENDING to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and records the written files.
func (j *Job) Complete(files []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Files = slices.Clone(files)
	return nil
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Skip transitions the job to SKIPPED with the reason.
func (j *Job) Skip(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSkipped); err != nil {
		return err
	}
	j.Error = reason
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		RunID:       j.RunID,
		Date:        j.Date,
		Status:      j.Status,
		Error:       j.Error,
		Files:       slices.Clone(j.Files),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
