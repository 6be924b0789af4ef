package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/events"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/models"
)

// Detector runs one event detection pass for the active race
type Detector interface {
	RunActive(ctx context.Context) (*events.RunResult, error)
}

// Scheduler manages periodic background jobs. A job that is still running
// when its next tick fires is skipped.
type Scheduler struct {
	cron            *cron.Cron
	logger          *logrus.Entry
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	gracefulTimeout time.Duration
}

// NewScheduler creates a new scheduler
func NewScheduler(log *logrus.Logger) *Scheduler {
	entry := logger.Component(log, "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(entry)), cron.SkipIfStillRunning(cron.PrintfLogger(entry))),
		),
		logger:          entry,
		jobIDs:          make([]cron.EntryID, 0),
		gracefulTimeout: 30 * time.Second,
	}
}

// ScheduleDetection runs the event detector every interval. A failed run is
// logged and the schedule continues.
func (s *Scheduler) ScheduleDetection(detector Detector, interval, timeout time.Duration) error {
	if interval < time.Second {
		interval = time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	spec := fmt.Sprintf("@every %s", interval)
	return s.ScheduleJob("event_detection", spec, timeout, func(ctx context.Context) error {
		result, err := detector.RunActive(ctx)
		if err != nil {
			return err
		}
		if result != nil && len(result.Emitted) > 0 {
			s.logger.WithFields(logrus.Fields{
				"race_id": result.RaceID,
				"emitted": len(result.Emitted),
			}).Info("Race events detected")
		}
		return nil
	})
}

// ScheduleJob adds a named job on a cron spec. Each run gets its own
// context bounded by timeout.
func (s *Scheduler) ScheduleJob(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}

	entryID, err := s.cron.AddFunc(spec, s.wrap(name, timeout, fn))
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", name, err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("Scheduled job")
	return nil
}

func (s *Scheduler) wrap(name string, timeout time.Duration, fn func(ctx context.Context) error) func() {
	return func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"job":      name,
				"kind":     models.KindOf(err),
				"duration": time.Since(start),
			}).Error("Scheduled job failed")
		}
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.Infof("Scheduler started with %d jobs", len(s.jobIDs))

	return nil
}

// Stop stops the scheduler and waits for running jobs up to the graceful timeout
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.isRunning = false
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler did not stop within %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			nextTime := entry.Next
			if nextRun.IsZero() || nextTime.Before(nextRun) {
				nextRun = nextTime
			}
		}
	}

	return nextRun
}
