package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Purger removes expired cache entries.
type Purger interface {
	Clear(expiredOnly bool) (int64, error)
}

// Scheduler wraps a gocron scheduler for background maintenance.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// New creates a scheduler. Jobs do not run until Start.
func New(logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// SchedulePurge clears expired entries from p every interval and returns the job id.
func (s *Scheduler) SchedulePurge(interval time.Duration, p Purger) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("purge interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.purge, p),
		gocron.WithName("cache-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("create purge job: %w", err)
	}
	return job.ID().String(), nil
}

func (s *Scheduler) purge(p Purger) {
	n, err := p.Clear(true)
	if err != nil {
		s.logger.Warn("cache purge failed", zap.Error(err))
		return
	}
	s.logger.Debug("purged expired cache entries", zap.Int64("removed", n))
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
