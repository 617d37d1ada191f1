package scheduler

import (
	"context"
	"fmt"
	"time"

	"anoa.com/refurnish/pkg/apperror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of background work.
type Job interface {
	// GetName returns the unique job name used for logging and on-demand runs.
	GetName() string

	// GetSchedule returns a cron spec (e.g. "0 3 * * *" or "@every 6h").
	// An empty schedule registers the job for on-demand runs only.
	GetSchedule() string

	Execute(ctx context.Context) error
}

// Scheduler runs registered jobs on their cron schedules. A job never overlaps
// with itself: a tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron       *cron.Cron
	jobs       []Job
	log        *zap.Logger
	runTimeout time.Duration
}

func NewScheduler(log *zap.Logger, runTimeout time.Duration) *Scheduler {
	log = log.Named("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		jobs:       make([]Job, 0),
		log:        log,
		runTimeout: runTimeout,
	}
}

// RegisterJob adds job and schedules it when it carries a schedule.
func (s *Scheduler) RegisterJob(job Job) error {
	schedule := job.GetSchedule()
	if schedule == "" {
		s.jobs = append(s.jobs, job)
		s.log.Info("job registered on demand", zap.String("job", job.GetName()))
		return nil
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.GetName(), err)
	}
	s.jobs = append(s.jobs, job)
	s.log.Info("job scheduled", zap.String("job", job.GetName()), zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) run(job Job) {
	_ = s.execute(context.Background(), job)
}

// execute runs job under the run timeout and logs the outcome.
func (s *Scheduler) execute(ctx context.Context, job Job) error {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Info("job started", zap.String("job", job.GetName()))
	if err := job.Execute(ctx); err != nil {
		s.log.Error("job failed", zap.String("job", job.GetName()), zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}
	s.log.Info("job completed", zap.String("job", job.GetName()), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// RunJobByName runs a registered job immediately.
func (s *Scheduler) RunJobByName(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.GetName() == name {
			return s.execute(ctx, job)
		}
	}
	return fmt.Errorf("job %q: %w", name, apperror.ErrNotFound)
}

// GetRegisteredJobs returns the names of every registered job.
func (s *Scheduler) GetRegisteredJobs() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.GetName()
	}
	return names
}
