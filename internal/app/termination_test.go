package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
)

// twelve month term, base rent R$ 1.000,00, combined deduction rate 0.15
// (agency 0.05 + guarantor 0.07 + vinculo 0.03, no surety, kyc default
// non-prime), so one month's grossed-up total is ceil(100000/0.85) = 117648.
func terminationContract() domain.Contract {
	c := testContract("cus_term")
	c.BaseRentValue = 100000
	c.StartDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.EndDate = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	return c
}

func TestSimulateTerminationProratesFine(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.paidRentTotal = 4 * 117648 // all four elapsed months fully paid
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	quote, err := svc.SimulateTermination(context.Background(), contract.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SimulateTermination: %v", err)
	}
	if quote.MonthsTotal != 12 || quote.MonthsElapsed != 4 || quote.MonthsRemaining != 8 {
		t.Fatalf("unexpected term split: %+v", quote)
	}
	// full fine 3 * 100000, prorated by 8/12 remaining
	if quote.Fine != 200000 {
		t.Errorf("fine = %d, want 200000", quote.Fine)
	}
	if quote.Deficit != 0 {
		t.Errorf("deficit = %d, want 0 for a fully paid contract", quote.Deficit)
	}
	if quote.TotalDue != quote.Fine+quote.Deficit {
		t.Errorf("total due %d != fine %d + deficit %d", quote.TotalDue, quote.Fine, quote.Deficit)
	}
	if !quote.ConfirmationRequired {
		t.Error("quote must always require confirmation")
	}
	if repo.terminateCalls != 0 {
		t.Error("simulation touched contract state")
	}
}

func TestSimulateTerminationComputesDeficit(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.paidRentTotal = 3 * 117648 // one of four elapsed months unpaid
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	quote, err := svc.SimulateTermination(context.Background(), contract.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SimulateTermination: %v", err)
	}
	if quote.Deficit != 117648 {
		t.Errorf("deficit = %d, want 117648", quote.Deficit)
	}
}

func TestSimulateTerminationOverpaidOwesNoDeficit(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.paidRentTotal = 12 * 117648
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	quote, err := svc.SimulateTermination(context.Background(), contract.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SimulateTermination: %v", err)
	}
	if quote.Deficit != 0 {
		t.Errorf("deficit = %d, want 0 when paid above expectation", quote.Deficit)
	}
}

func TestSimulateTerminationRejectsInactiveContract(t *testing.T) {
	contract := terminationContract()
	contract.Status = domain.ContractStatusTerminated
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	_, err := svc.SimulateTermination(context.Background(), contract.ID, time.Now())
	if !errors.Is(err, store.ErrContractNotActive) {
		t.Fatalf("err = %v, want ErrContractNotActive", err)
	}
}

func TestExecuteTerminationRequiresConfirmation(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	_, err := svc.ExecuteTermination(context.Background(), contract.ID, time.Now(), false)
	if !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}
	if repo.terminateCalls != 0 {
		t.Error("unconfirmed execution reached the repository")
	}
}

func TestExecuteTerminationSettlesAtomically(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.paidRentTotal = 3 * 117648
	repo.deactivatedOut = 4
	publisher := newStubPublisher()
	svc := NewTerminationService(repo, publisher, testWaterfallConfig(), 3, testLogger())

	result, err := svc.ExecuteTermination(context.Background(), contract.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), true)
	if err != nil {
		t.Fatalf("ExecuteTermination: %v", err)
	}
	if repo.terminateCalls != 1 {
		t.Fatalf("TerminateContract called %d times, want 1", repo.terminateCalls)
	}
	if len(repo.terminateWith) != 2 {
		t.Fatalf("settlement passed %d charges, want fine and deficit", len(repo.terminateWith))
	}

	kinds := map[string]int64{}
	for _, charge := range repo.terminateWith {
		kinds[charge.Kind] = charge.Value
		if charge.Status != domain.ChargeStatusPending {
			t.Errorf("settlement charge status = %q, want PENDING", charge.Status)
		}
	}
	if kinds[domain.ChargeKindFine] != 200000 {
		t.Errorf("fine charge = %d, want 200000", kinds[domain.ChargeKindFine])
	}
	if kinds[domain.ChargeKindDeficit] != 117648 {
		t.Errorf("deficit charge = %d, want 117648", kinds[domain.ChargeKindDeficit])
	}

	if result.DeactivatedRules != 4 {
		t.Errorf("deactivated rules = %d, want 4", result.DeactivatedRules)
	}
	if len(publisher.terminations) != 1 {
		t.Fatalf("published %d termination events, want 1", len(publisher.terminations))
	}
	if publisher.terminations[0].TotalDue != result.Quote.TotalDue {
		t.Error("termination event total does not match the quote")
	}
}

func TestExecuteTerminationOmitsZeroCharges(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.paidRentTotal = 12 * 117648
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	// terminating at the natural end of term: nothing remains, nothing owed
	result, err := svc.ExecuteTermination(context.Background(), contract.ID, contract.EndDate, true)
	if err != nil {
		t.Fatalf("ExecuteTermination: %v", err)
	}
	if len(result.Charges) != 0 {
		t.Errorf("passed %d charges for a settled contract, want 0", len(result.Charges))
	}
	if result.Quote.Fine != 0 || result.Quote.Deficit != 0 {
		t.Errorf("unexpected amounts: %+v", result.Quote)
	}
}

func TestExecuteTerminationSurfacesConcurrentLoss(t *testing.T) {
	contract := terminationContract()
	repo := newStubRepo()
	repo.contracts = []domain.Contract{contract}
	repo.terminateErr = store.ErrContractNotActive
	svc := NewTerminationService(repo, newStubPublisher(), testWaterfallConfig(), 3, testLogger())

	_, err := svc.ExecuteTermination(context.Background(), contract.ID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), true)
	if !errors.Is(err, store.ErrContractNotActive) {
		t.Fatalf("err = %v, want ErrContractNotActive", err)
	}
}

func TestMonthsBetween(t *testing.T) {
	cases := []struct {
		start, end time.Time
		want       int
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 12},
		{time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		if got := monthsBetween(tc.start, tc.end); got != tc.want {
			t.Errorf("monthsBetween(%s, %s) = %d, want %d", tc.start.Format("2006-01-02"), tc.end.Format("2006-01-02"), got, tc.want)
		}
	}
}
