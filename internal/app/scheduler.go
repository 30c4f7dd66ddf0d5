/**
 * @description
 * Cron scheduler setup for the engine's recurring work: the daily billing
 * sweep, the payment-reminder pass, the conflict sweep, and the retry-queue
 * poller.
 */

package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/rugue/forage-stores-backend-sub000/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.DueSweepSchedule, s.jobs.ProcessDueSubscriptions); err != nil {
		s.logger.Error("failed to schedule due subscription sweep", "error", err)
	} else {
		s.logger.Info("scheduled due subscription sweep", "schedule", s.config.DueSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReminderSchedule, s.jobs.SendPaymentReminders); err != nil {
		s.logger.Error("failed to schedule payment reminder job", "error", err)
	} else {
		s.logger.Info("scheduled payment reminder job", "schedule", s.config.ReminderSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ConflictSweepSchedule, s.jobs.ScanForConflicts); err != nil {
		s.logger.Error("failed to schedule conflict sweep", "error", err)
	} else {
		s.logger.Info("scheduled conflict sweep", "schedule", s.config.ConflictSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.RetryPollSchedule, s.jobs.RunRetryQueue); err != nil {
		s.logger.Error("failed to schedule retry queue poller", "error", err)
	} else {
		s.logger.Info("scheduled retry queue poller", "schedule", s.config.RetryPollSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
