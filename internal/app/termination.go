/**
 * @description
 * Early termination settlement. Computes the amounts a contract owes at
 * break time (prorated fine plus billing deficit) and executes the
 * settlement atomically: the simulation is pure, the execution recomputes
 * server-side, terminates the contract, records the settlement charges, and
 * deactivates the contract's payment split rules in a single transaction.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/waterfall"
	"github.com/vinculobrasil/settlement-service/pkg/rabbitmq"
)

// Settlement charges fall due this many days after execution.
const settlementDueDays = 5

// TerminationQuote is the priced outcome of breaking a contract at a date.
// All amounts are in centavos.
type TerminationQuote struct {
	ContractID           uuid.UUID `json:"contract_id"`
	EffectiveDate        time.Time `json:"effective_date"`
	MonthsTotal          int       `json:"months_total"`
	MonthsElapsed        int       `json:"months_elapsed"`
	MonthsRemaining      int       `json:"months_remaining"`
	Fine                 int64     `json:"fine"`
	Deficit              int64     `json:"deficit"`
	TotalDue             int64     `json:"total_due"`
	ConfirmationRequired bool      `json:"confirmation_required"`
}

// TerminationResult is the outcome of an executed settlement.
type TerminationResult struct {
	Quote            TerminationQuote `json:"quote"`
	Charges          []domain.Charge  `json:"charges"`
	DeactivatedRules int64            `json:"deactivated_rules"`
}

// TerminationService prices and executes early contract settlements.
type TerminationService struct {
	repo           store.Repository
	publisher      rabbitmq.Publisher
	wfConfig       waterfall.Config
	baseFineMonths int
	logger         *slog.Logger
}

// NewTerminationService creates a TerminationService.
func NewTerminationService(repo store.Repository, publisher rabbitmq.Publisher, wfConfig waterfall.Config, baseFineMonths int, logger *slog.Logger) *TerminationService {
	return &TerminationService{
		repo:           repo,
		publisher:      publisher,
		wfConfig:       wfConfig,
		baseFineMonths: baseFineMonths,
		logger:         logger,
	}
}

// SimulateTermination prices a termination without touching any state. The
// quote always demands explicit confirmation before execution.
func (s *TerminationService) SimulateTermination(ctx context.Context, contractID uuid.UUID, effectiveDate time.Time) (*TerminationQuote, error) {
	contract, err := s.repo.FindContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != domain.ContractStatusActive {
		return nil, store.ErrContractNotActive
	}

	return s.quote(ctx, contract, effectiveDate)
}

// ExecuteTermination settles and terminates a contract. The caller's
// confirmation flag must be set; the amounts are recomputed server-side and
// never taken from the caller. Contract status, settlement charges and split
// rule deactivation commit atomically.
func (s *TerminationService) ExecuteTermination(ctx context.Context, contractID uuid.UUID, effectiveDate time.Time, confirmed bool) (*TerminationResult, error) {
	if !confirmed {
		return nil, domain.ErrConfirmationRequired
	}

	contract, err := s.repo.FindContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status != domain.ContractStatusActive {
		return nil, store.ErrContractNotActive
	}

	quote, err := s.quote(ctx, contract, effectiveDate)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dueDate := now.AddDate(0, 0, settlementDueDays)
	var charges []domain.Charge
	if quote.Fine > 0 {
		charges = append(charges, domain.Charge{
			ID:         uuid.New(),
			ContractID: contractID,
			Kind:       domain.ChargeKindFine,
			Value:      quote.Fine,
			DueDate:    dueDate,
			Status:     domain.ChargeStatusPending,
		})
	}
	if quote.Deficit > 0 {
		charges = append(charges, domain.Charge{
			ID:         uuid.New(),
			ContractID: contractID,
			Kind:       domain.ChargeKindDeficit,
			Value:      quote.Deficit,
			DueDate:    dueDate,
			Status:     domain.ChargeStatusPending,
		})
	}

	deactivated, err := s.repo.TerminateContract(ctx, contractID, charges)
	if err != nil {
		return nil, err
	}

	s.logger.Info("contract terminated", "contract_id", contractID,
		"fine", quote.Fine, "deficit", quote.Deficit, "deactivated_rules", deactivated)

	if err := s.publisher.PublishTerminationEvent(ctx, rabbitmq.TerminationEvent{
		ContractID:       contractID,
		Fine:             quote.Fine,
		Deficit:          quote.Deficit,
		TotalDue:         quote.TotalDue,
		DeactivatedRules: deactivated,
		Timestamp:        now,
	}); err != nil {
		s.logger.Warn("failed to publish termination event", "contract_id", contractID, "error", err)
	}

	return &TerminationResult{Quote: *quote, Charges: charges, DeactivatedRules: deactivated}, nil
}

// quote computes fine and deficit for a contract broken at effectiveDate.
func (s *TerminationService) quote(ctx context.Context, contract *domain.Contract, effectiveDate time.Time) (*TerminationQuote, error) {
	if effectiveDate.Before(contract.StartDate) {
		return nil, fmt.Errorf("%w: effective date precedes contract start", domain.ErrValidation)
	}

	monthsTotal := monthsBetween(contract.StartDate, contract.EndDate)
	if monthsTotal <= 0 {
		return nil, fmt.Errorf("%w: contract term is empty", domain.ErrValidation)
	}
	monthsElapsed := monthsBetween(contract.StartDate, effectiveDate)
	if monthsElapsed > monthsTotal {
		monthsElapsed = monthsTotal
	}
	monthsRemaining := monthsTotal - monthsElapsed

	// Fine: the contractual base fine prorated by the unserved share of the
	// term. Rounds down; never exceeds the full base fine.
	fullFine := decimal.NewFromInt(contract.BaseRentValue).Mul(decimal.NewFromInt(int64(s.baseFineMonths)))
	fine := fullFine.
		Mul(decimal.NewFromInt(int64(monthsRemaining))).
		Div(decimal.NewFromInt(int64(monthsTotal))).
		Floor().
		IntPart()

	// Deficit: what the elapsed months should have produced minus what the
	// paid rent charges actually produced. Negative balances owe nothing.
	wf, err := waterfall.Calculate(waterfall.Input{
		BaseValue:  contract.BaseRentValue,
		KYCScore:   contract.KYCScore,
		SuretyCost: contract.SuretyCost,
		AgencyRate: contract.AgencyRate,
	}, s.wfConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to compute waterfall: %w", err)
	}

	paid, err := s.repo.SumPaidRentCharges(ctx, contract.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum paid charges: %w", err)
	}
	expected := wf.TotalValue * int64(monthsElapsed)
	deficit := expected - paid
	if deficit < 0 {
		deficit = 0
	}

	return &TerminationQuote{
		ContractID:           contract.ID,
		EffectiveDate:        effectiveDate,
		MonthsTotal:          monthsTotal,
		MonthsElapsed:        monthsElapsed,
		MonthsRemaining:      monthsRemaining,
		Fine:                 fine,
		Deficit:              deficit,
		TotalDue:             fine + deficit,
		ConfirmationRequired: true,
	}, nil
}

// monthsBetween counts whole months from start to end, by calendar month
// with a day-of-month correction. Returns 0 when end precedes start.
func monthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
