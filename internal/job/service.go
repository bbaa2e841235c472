package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbari-org/pbp-sub000/internal/day"
	"github.com/mbari-org/pbp-sub000/internal/job/id"
)

// DayProcessor processes one day.
type DayProcessor interface {
	ProcessDay(ctx context.Context, date time.Time) (*day.Result, error)
}

// Compile-time check that the day orchestrator is a DayProcessor.
var _ DayProcessor = (*day.Orchestrator)(nil)

// Summary is the outcome of one day of a run.
type Summary struct {
	JobID  string
	Date   time.Time
	Status Status
	Files  []string
	Error  string
}

// Service runs days as jobs, several at a time.
type Service struct {
	repo      Repository
	processor DayProcessor
	logger    *slog.Logger
	// maxConcurrentDays limits days processed in parallel.
	maxConcurrentDays int
}

// NewService creates a new Service that processes one day at a time.
func NewService(repo Repository, processor DayProcessor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:              repo,
		processor:         processor,
		logger:            logger,
		maxConcurrentDays: 1,
	}
}

// SetMaxConcurrentDays configures the maximum number of days that can be
// processed in parallel.
func (s *Service) SetMaxConcurrentDays(n int) {
	if n > 0 {
		s.maxConcurrentDays = n
	}
}

// CreateJobs creates one PENDING job per date under a new run ID and
// persists them.
func (s *Service) CreateJobs(ctx context.Context, dates []time.Time) (string, []*Job, error) {
	runID := id.Generate("run")
	jobs := make([]*Job, len(dates))
	for i, d := range dates {
		jobs[i] = New(runID, d)
		if err := s.repo.Save(ctx, jobs[i]); err != nil {
			s.logger.Error("failed to save job",
				slog.String("job_id", jobs[i].ID),
				slog.String("error", err.Error()),
			)
			return "", nil, err
		}
	}
	s.logger.Info("run created",
		slog.String("run_id", runID),
		slog.Int("days", len(dates)),
		slog.Int("max_concurrent_days", s.maxConcurrentDays),
	)
	return runID, jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// RunDays processes dates and returns one summary per date, in the order
// given. A failing day does not stop the others. Days without a catalog or
// without audio are SKIPPED. The returned error is non-nil only when the
// context was canceled or a job could not be saved.
func (s *Service) RunDays(ctx context.Context, dates []time.Time) ([]Summary, error) {
	runID, jobs, err := s.CreateJobs(ctx, dates)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, runID, jobs)
}

// StartRun creates the jobs for dates and processes them in the background
// until ctx is done. Progress is visible through GetJob and ListRun.
func (s *Service) StartRun(ctx context.Context, dates []time.Time) (string, []*Job, error) {
	runID, jobs, err := s.CreateJobs(ctx, dates)
	if err != nil {
		return "", nil, err
	}
	snapshot := make([]*Job, len(jobs))
	for i, j := range jobs {
		snapshot[i] = j.Clone()
	}
	go func() {
		if _, err := s.process(ctx, runID, jobs); err != nil {
			s.logger.Error("background run failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return runID, snapshot, nil
}

// ListRun returns the jobs of a run in date order.
func (s *Service) ListRun(ctx context.Context, runID string) ([]*Job, error) {
	jobs, err := s.repo.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}
	return jobs, nil
}

func (s *Service) process(ctx context.Context, runID string, jobs []*Job) ([]Summary, error) {
	var g errgroup.Group
	g.SetLimit(s.maxConcurrentDays)
	for _, j := range jobs {
		g.Go(func() error {
			return s.runJob(ctx, j)
		})
	}
	runErr := g.Wait()

	summaries := make([]Summary, len(jobs))
	counts := make(map[Status]int)
	for i, j := range jobs {
		c := j.Clone()
		summaries[i] = Summary{
			JobID:  c.ID,
			Date:   c.Date,
			Status: c.Status,
			Files:  c.Files,
			Error:  c.Error,
		}
		counts[c.Status]++
	}
	s.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("completed", counts[StatusCompleted]),
		slog.Int("skipped", counts[StatusSkipped]),
		slog.Int("failed", counts[StatusFailed]),
	)

	if runErr != nil {
		return summaries, runErr
	}
	return summaries, ctx.Err()
}

func (s *Service) runJob(ctx context.Context, j *Job) error {
	logger := s.logger.With(slog.String("job_id", j.ID))

	if err := ctx.Err(); err != nil {
		_ = j.Fail(err.Error())
		return s.save(ctx, j)
	}
	if err := j.Start(); err != nil {
		return fmt.Errorf("start job %s: %w", j.ID, err)
	}
	if err := s.save(ctx, j); err != nil {
		return err
	}

	res, err := s.processor.ProcessDay(ctx, j.Date)
	switch {
	case err == nil:
		_ = j.Complete(res.Files)
		logger.Info("day completed", slog.Any("files", res.Files))
	case day.IsSkipped(err):
		_ = j.Skip(err.Error())
		logger.Warn("day skipped", slog.String("reason", err.Error()))
	default:
		_ = j.Fail(err.Error())
		logger.Error("day failed", slog.String("error", err.Error()))
	}
	return s.save(ctx, j)
}

// save persists j even after ctx is canceled.
func (s *Service) save(ctx context.Context, j *Job) error {
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// Failed reports whether any summary is FAILED.
func Failed(summaries []Summary) bool {
	for _, s := range summaries {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// ErrRunFailed is returned by callers that turn a run with failed days into
// an error.
var ErrRunFailed = errors.New("one or more days failed")
