// Package cron drives the two periodic conductor timers coreclaw needs:
// the Chief's recurring briefing and the Learning conductor's periodic
// correction analysis. Both are plain "@every" interval schedules, not
// a user-facing cron feature — there is no persisted schedule table to
// poll, unlike the teacher's store-backed scheduler.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Job is one periodic callback registered with the scheduler. Name
// identifies it in logs; Interval is converted to an "@every" spec.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler wraps robfig/cron/v3 to run a small fixed set of named
// periodic jobs, logging each fire and recovering from any panic in Run.
type Scheduler struct {
	logger *slog.Logger
	cron   *cronlib.Cron
	jobs   []Job
}

// NewScheduler creates a Scheduler that will run each job on its own
// "@every" interval once Start is called.
func NewScheduler(logger *slog.Logger, jobs []Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		cron:   cronlib.New(cronlib.WithSeconds()),
		jobs:   jobs,
	}
}

// Start registers and starts all jobs. It returns an error if any
// job has a non-positive interval or fails to schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("cron: job %q has non-positive interval %s", job.Name, job.Interval)
		}
		spec := fmt.Sprintf("@every %s", job.Interval)
		j := job
		if _, err := s.cron.AddFunc(spec, func() { s.fire(ctx, j) }); err != nil {
			return fmt.Errorf("cron: schedule job %q: %w", job.Name, err)
		}
	}
	s.cron.Start()
	s.logger.Info("cron scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels scheduling and waits for any in-flight job to return.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron: job panicked", "job", job.Name, "panic", r)
		}
	}()
	s.logger.Info("cron: job fired", "job", job.Name)
	job.Run(ctx)
}

// ChiefBriefingJob builds the Job that triggers the Chief conductor's
// periodic briefing, at the given interval.
func ChiefBriefingJob(interval time.Duration, run func(ctx context.Context)) Job {
	return Job{Name: "chief.briefing", Interval: interval, Run: run}
}

// LearningAnalysisJob builds the Job that triggers the Learning
// conductor's periodic correction analysis, at the given interval.
func LearningAnalysisJob(interval time.Duration, run func(ctx context.Context)) Job {
	return Job{Name: "learning.analysis", Interval: interval, Run: run}
}
