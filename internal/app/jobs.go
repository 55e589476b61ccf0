/**
 * @description
 * Scheduled job implementations for the settlement-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// BillingRunner defines the billing operations the jobs need.
type BillingRunner interface {
	GenerateMonthlyCharges(ctx context.Context, year, month int) (*BillingRunResult, error)
	SyncChargeStatuses(ctx context.Context) (int, error)
	MarkOverdueCharges(ctx context.Context, now time.Time) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	billing BillingRunner
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(billing BillingRunner, logger *slog.Logger) *Jobs {
	return &Jobs{
		billing: billing,
		logger:  logger,
	}
}

// GenerateCurrentPeriodCharges bills every active contract for the month the
// job fires in. Re-runs are harmless; already billed contracts are skipped.
func (j *Jobs) GenerateCurrentPeriodCharges() {
	j.logger.Info("starting monthly billing job")
	ctx := context.Background()

	now := time.Now().UTC()
	result, err := j.billing.GenerateMonthlyCharges(ctx, now.Year(), int(now.Month()))
	if err != nil {
		j.logger.Error("monthly billing job failed", "error", err)
		return
	}

	j.logger.Info("monthly billing job finished",
		"created", result.Created, "skipped", result.Skipped, "failed", len(result.Errors))
}

// SyncChargeStatuses reconciles pending charges against the payment gateway.
func (j *Jobs) SyncChargeStatuses() {
	j.logger.Info("starting charge status sync job")
	ctx := context.Background()

	updated, err := j.billing.SyncChargeStatuses(ctx)
	if err != nil {
		j.logger.Error("charge status sync job failed", "error", err)
		return
	}

	j.logger.Info("charge status sync job finished", "updated", updated)
}

// ProcessOverdueCharges flips past-due pending charges to overdue.
func (j *Jobs) ProcessOverdueCharges() {
	j.logger.Info("starting overdue charges job")
	ctx := context.Background()

	marked, err := j.billing.MarkOverdueCharges(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("overdue charges job failed", "error", err)
		return
	}

	j.logger.Info("overdue charges job finished", "marked", marked)
}
