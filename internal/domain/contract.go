/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (centavos), which avoids floating-point inaccuracies with
 *   financial data.
 * - Rates (agency rate, deduction rates) are fractions in [0,1] and only
 *   enter money math through the waterfall calculator's decimal arithmetic.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contract statuses.
const (
	ContractStatusDraft      = "DRAFT"
	ContractStatusActive     = "ACTIVE"
	ContractStatusTerminated = "TERMINATED"
	ContractStatusDefaulted  = "DEFAULTED"
)

// Charge statuses.
const (
	ChargeStatusPending   = "PENDING"
	ChargeStatusPaid      = "PAID"
	ChargeStatusOverdue   = "OVERDUE"
	ChargeStatusCancelled = "CANCELLED"
)

// Charge kinds distinguish ordinary rent charges from termination settlement charges.
const (
	ChargeKindRent    = "RENT"
	ChargeKindFine    = "FINE"
	ChargeKindDeficit = "DEFICIT"
)

// Contract represents a rental agreement whose cashflow is split across the
// platform, agency, owner, guarantor and surety. Maps to the `contracts` table.
type Contract struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	PayerCustomerID string     `json:"payer_customer_id"` // gateway customer the charges bill to
	GuarantorID     *uuid.UUID `json:"guarantor_id,omitempty"`
	BaseRentValue   int64      `json:"base_rent_value"` // in centavos
	Status          string     `json:"status"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         time.Time  `json:"end_date"`
	AgencyRate      *float64   `json:"agency_rate,omitempty"` // fraction; nil = system default
	KYCScore        *int       `json:"kyc_score,omitempty"`   // 0-1000; nil = mid-range default
	SuretyCost      int64      `json:"surety_cost"`           // in centavos, monthly
	MintedTokenID   *int64     `json:"minted_token_id,omitempty"`
	ArchivedAt      *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Charge is one billing entry for a contract, unique per (contract, period).
// Termination fine/deficit charges carry a zero period and a non-RENT kind.
type Charge struct {
	ID               uuid.UUID  `json:"id"`
	ContractID       uuid.UUID  `json:"contract_id"`
	Kind             string     `json:"kind"`
	PeriodYear       int        `json:"period_year"`
	PeriodMonth      int        `json:"period_month"`
	Value            int64      `json:"value"` // in centavos
	DueDate          time.Time  `json:"due_date"`
	ExternalChargeID *string    `json:"external_charge_id,omitempty"`
	InvoiceURL       *string    `json:"invoice_url,omitempty"`
	Status           string     `json:"status"`
	Waterfall        *Waterfall `json:"waterfall,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SplitRule is an active payment-routing rule for a contract. Rules are
// created when a contract activates and deactivated when it terminates so
// later payments never route through a stale waterfall.
type SplitRule struct {
	ID            uuid.UUID  `json:"id"`
	ContractID    uuid.UUID  `json:"contract_id"`
	BeneficiaryID uuid.UUID  `json:"beneficiary_id"`
	Role          string     `json:"role"` // e.g. 'owner', 'agency', 'guarantor', 'surety', 'platform'
	Rate          float64    `json:"rate"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
