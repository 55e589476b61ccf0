/**
 * @description
 * Monthly billing for active rental contracts. Each run walks the active
 * contract book, prices the period through the waterfall calculator, creates
 * the charge at the payment gateway, and persists the resulting charge record
 * together with its split breakdown.
 *
 * Key features:
 * - Idempotent per (contract, period): an existence check skips already
 *   billed contracts and the charges table's uniqueness constraint closes
 *   the race between overlapping runs.
 * - Per-contract failure isolation: one contract failing to bill never
 *   aborts the run; failures come back enumerated in the run result.
 * - The gateway call completes before anything is persisted, so no partial
 *   charge is ever written for a contract whose gateway call failed.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/waterfall"
	"github.com/vinculobrasil/settlement-service/pkg/asaas"
	"github.com/vinculobrasil/settlement-service/pkg/rabbitmq"
)

// ErrInvalidPeriod is returned for billing periods outside the calendar.
var ErrInvalidPeriod = errors.New("invalid billing period")

// Charges are due on this day of the billing month.
const chargeDueDay = 10

// gatewayAttempts bounds retries against the payment gateway per contract.
const gatewayAttempts = 3

// PaymentGateway defines the charge operations the billing service needs.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, customerID string, valueCentavos int64, dueDate time.Time, description, externalReference string, split []asaas.SplitInstruction) (*asaas.ChargeResponse, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*asaas.ChargeResponse, error)
	CancelCharge(ctx context.Context, chargeID string) error
}

// BillingError records one contract's failure inside a billing run.
type BillingError struct {
	ContractID uuid.UUID `json:"contract_id"`
	Message    string    `json:"message"`
}

// BillingRunResult summarizes one monthly billing run.
type BillingRunResult struct {
	Year    int            `json:"year"`
	Month   int            `json:"month"`
	Created int            `json:"created"`
	Skipped int            `json:"skipped"`
	Errors  []BillingError `json:"errors"`
}

// BillingService generates and reconciles contract charges.
type BillingService struct {
	repo      store.Repository
	gateway   PaymentGateway
	publisher rabbitmq.Publisher
	wfConfig  waterfall.Config
	logger    *slog.Logger
}

// NewBillingService creates a BillingService.
func NewBillingService(repo store.Repository, gateway PaymentGateway, publisher rabbitmq.Publisher, wfConfig waterfall.Config, logger *slog.Logger) *BillingService {
	return &BillingService{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		wfConfig:  wfConfig,
		logger:    logger,
	}
}

// GenerateMonthlyCharges bills every active contract for the given period.
// Safe to re-run: contracts already billed for the period are skipped.
func (s *BillingService) GenerateMonthlyCharges(ctx context.Context, year, month int) (*BillingRunResult, error) {
	if month < 1 || month > 12 || year < 2000 {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidPeriod, year, month)
	}

	contracts, err := s.repo.ListActiveContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active contracts: %w", err)
	}

	result := &BillingRunResult{Year: year, Month: month}
	s.logger.Info("starting billing run", "year", year, "month", month, "contracts", len(contracts))

	for _, contract := range contracts {
		created, err := s.billContract(ctx, contract, year, month)
		switch {
		case err != nil:
			s.logger.Warn("failed to bill contract", "contract_id", contract.ID, "error", err)
			result.Errors = append(result.Errors, BillingError{ContractID: contract.ID, Message: err.Error()})
			s.publishChargeEvent(ctx, "charge.failed", rabbitmq.ChargeEvent{
				ContractID:  contract.ID,
				Kind:        domain.ChargeKindRent,
				PeriodYear:  year,
				PeriodMonth: month,
				Reason:      err.Error(),
				Timestamp:   time.Now().UTC(),
			})
		case created:
			result.Created++
		default:
			result.Skipped++
		}
	}

	s.logger.Info("billing run finished", "year", year, "month", month,
		"created", result.Created, "skipped", result.Skipped, "failed", len(result.Errors))
	return result, nil
}

// billContract prices and bills one contract for the period. Returns false
// with a nil error when the period was already billed.
func (s *BillingService) billContract(ctx context.Context, contract domain.Contract, year, month int) (bool, error) {
	exists, err := s.repo.ChargeExistsForPeriod(ctx, contract.ID, year, month)
	if err != nil {
		return false, fmt.Errorf("failed to check existing charge: %w", err)
	}
	if exists {
		return false, nil
	}

	wf, err := waterfall.Calculate(waterfall.Input{
		BaseValue:  contract.BaseRentValue,
		KYCScore:   contract.KYCScore,
		SuretyCost: contract.SuretyCost,
		AgencyRate: contract.AgencyRate,
	}, s.wfConfig)
	if err != nil {
		return false, fmt.Errorf("failed to compute waterfall: %w", err)
	}

	dueDate := time.Date(year, time.Month(month), chargeDueDay, 0, 0, 0, 0, time.UTC)
	description := fmt.Sprintf("Aluguel %02d/%d", month, year)
	externalRef := fmt.Sprintf("%s:%d-%02d", contract.ID, year, month)

	gwCharge, err := s.createGatewayCharge(ctx, contract.PayerCustomerID, wf.TotalValue, dueDate, description, externalRef)
	if err != nil {
		return false, fmt.Errorf("gateway charge creation failed: %w", err)
	}

	charge := &domain.Charge{
		ID:               uuid.New(),
		ContractID:       contract.ID,
		Kind:             domain.ChargeKindRent,
		PeriodYear:       year,
		PeriodMonth:      month,
		Value:            wf.TotalValue,
		DueDate:          dueDate,
		ExternalChargeID: &gwCharge.ID,
		Status:           domain.ChargeStatusPending,
		Waterfall:        wf,
	}
	if gwCharge.InvoiceURL != "" {
		charge.InvoiceURL = &gwCharge.InvoiceURL
	}

	if err := s.repo.CreateCharge(ctx, charge); err != nil {
		if errors.Is(err, store.ErrDuplicateCharge) {
			// A concurrent run billed this period first. Cancel the redundant
			// gateway charge so the payer never sees two invoices; if the
			// cancel fails the charge stays flagged for reconciliation.
			if cancelErr := s.gateway.CancelCharge(ctx, gwCharge.ID); cancelErr != nil {
				s.logger.Warn("concurrent billing run won the period; orphaned gateway charge needs review",
					"contract_id", contract.ID, "external_charge_id", gwCharge.ID, "error", cancelErr)
			} else {
				s.logger.Info("cancelled redundant gateway charge after losing billing race",
					"contract_id", contract.ID, "external_charge_id", gwCharge.ID)
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to persist charge: %w", err)
	}

	s.publishChargeEvent(ctx, "charge.created", rabbitmq.ChargeEvent{
		ChargeID:    charge.ID,
		ContractID:  contract.ID,
		Kind:        domain.ChargeKindRent,
		PeriodYear:  year,
		PeriodMonth: month,
		Value:       charge.Value,
		Status:      charge.Status,
		Timestamp:   time.Now().UTC(),
	})
	return true, nil
}

// createGatewayCharge calls the gateway, retrying transient failures only.
func (s *BillingService) createGatewayCharge(ctx context.Context, customerID string, value int64, dueDate time.Time, description, externalRef string) (*asaas.ChargeResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= gatewayAttempts; attempt++ {
		resp, err := s.gateway.CreateCharge(ctx, customerID, value, dueDate, description, externalRef, nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *asaas.ErrorResponse
		if !errors.As(err, &apiErr) || !apiErr.Transient() {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, lastErr
}

// SyncChargeStatuses reconciles pending charges against the gateway and
// returns how many were updated. Per-charge failures are logged and skipped.
func (s *BillingService) SyncChargeStatuses(ctx context.Context) (int, error) {
	charges, err := s.repo.ListPendingCharges(ctx, 500)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending charges: %w", err)
	}

	updated := 0
	for _, charge := range charges {
		if charge.ExternalChargeID == nil {
			continue
		}
		resp, err := s.gateway.GetChargeStatus(ctx, *charge.ExternalChargeID)
		if err != nil {
			s.logger.Warn("failed to fetch charge status", "charge_id", charge.ID, "error", err)
			continue
		}
		status := mapGatewayStatus(resp.Status)
		if status == "" || status == charge.Status {
			continue
		}
		if err := s.repo.UpdateChargeStatus(ctx, charge.ID, status); err != nil {
			s.logger.Warn("failed to update charge status", "charge_id", charge.ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// ApplyGatewayEvent applies one gateway payment notification to the matching
// charge. Notifications arrive at least once; a repeat carrying a status the
// charge already holds is a no-op, as is a status the service does not track.
func (s *BillingService) ApplyGatewayEvent(ctx context.Context, externalChargeID, gatewayStatus string) (*domain.Charge, error) {
	if externalChargeID == "" {
		return nil, fmt.Errorf("%w: external charge id is required", domain.ErrValidation)
	}

	charge, err := s.repo.FindChargeByExternalID(ctx, externalChargeID)
	if err != nil {
		return nil, err
	}

	status := mapGatewayStatus(gatewayStatus)
	if status == "" || status == charge.Status {
		return charge, nil
	}
	if err := s.repo.UpdateChargeStatus(ctx, charge.ID, status); err != nil {
		return nil, fmt.Errorf("failed to update charge status: %w", err)
	}
	charge.Status = status

	if status == domain.ChargeStatusPaid {
		s.publishChargeEvent(ctx, "charge.paid", rabbitmq.ChargeEvent{
			ChargeID:    charge.ID,
			ContractID:  charge.ContractID,
			Kind:        charge.Kind,
			PeriodYear:  charge.PeriodYear,
			PeriodMonth: charge.PeriodMonth,
			Value:       charge.Value,
			Status:      status,
			Timestamp:   time.Now().UTC(),
		})
	}
	return charge, nil
}

// MarkOverdueCharges flips past-due pending charges to overdue and emits one
// event per charge.
func (s *BillingService) MarkOverdueCharges(ctx context.Context, now time.Time) (int, error) {
	charges, err := s.repo.MarkChargesOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue charges: %w", err)
	}

	for _, charge := range charges {
		s.publishChargeEvent(ctx, "charge.overdue", rabbitmq.ChargeEvent{
			ChargeID:    charge.ID,
			ContractID:  charge.ContractID,
			Kind:        charge.Kind,
			PeriodYear:  charge.PeriodYear,
			PeriodMonth: charge.PeriodMonth,
			Value:       charge.Value,
			Status:      domain.ChargeStatusOverdue,
			Timestamp:   time.Now().UTC(),
		})
	}
	return len(charges), nil
}

// publishChargeEvent publishes best-effort; the database is the source of
// truth and a failed publish never fails the billing operation.
func (s *BillingService) publishChargeEvent(ctx context.Context, routingKey string, event rabbitmq.ChargeEvent) {
	if err := s.publisher.PublishChargeEvent(ctx, routingKey, event); err != nil {
		s.logger.Warn("failed to publish charge event", "routing_key", routingKey, "contract_id", event.ContractID, "error", err)
	}
}

// mapGatewayStatus translates gateway payment statuses to charge statuses.
// Unknown statuses map to "" and leave the charge untouched.
func mapGatewayStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return domain.ChargeStatusPaid
	case "OVERDUE":
		return domain.ChargeStatusOverdue
	case "REFUNDED", "REFUND_REQUESTED", "DELETED":
		return domain.ChargeStatusCancelled
	default:
		return ""
	}
}
