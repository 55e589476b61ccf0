/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/vinculobrasil/settlement-service/internal/config"
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
	if _, err := s.cron.AddFunc(s.config.BillingCron, s.jobs.GenerateCurrentPeriodCharges); err != nil {
		s.logger.Error("failed to schedule monthly billing job", "error", err)
	} else {
		s.logger.Info("scheduled monthly billing job", "schedule", s.config.BillingCron)
	}

	if _, err := s.cron.AddFunc(s.config.ChargeSyncCron, s.jobs.SyncChargeStatuses); err != nil {
		s.logger.Error("failed to schedule charge status sync job", "error", err)
	} else {
		s.logger.Info("scheduled charge status sync job", "schedule", s.config.ChargeSyncCron)
	}

	if _, err := s.cron.AddFunc(s.config.OverdueCron, s.jobs.ProcessOverdueCharges); err != nil {
		s.logger.Error("failed to schedule overdue charges job", "error", err)
	} else {
		s.logger.Info("scheduled overdue charges job", "schedule", s.config.OverdueCron)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
