/**
 * @description
 * Waterfall value object: the gross-up payment split computed from a
 * contract's terms. Embedded in Charge records, never persisted on its own.
 */

package domain

// Waterfall is the result of the gross-up split computation. All monetary
// fields are centavos. The invariant GuarantorShare + SuretyShare +
// VinculoShare + AgencyShare + OwnerShare == TotalValue holds exactly, and
// OwnerShare == BaseValue exactly.
type Waterfall struct {
	BaseValue      int64 `json:"base_value"`
	TotalValue     int64 `json:"total_value"`
	EcosystemPot   int64 `json:"ecosystem_pot"` // TotalValue - OwnerShare
	GuarantorShare int64 `json:"guarantor_share"`
	SuretyShare    int64 `json:"surety_share"`
	VinculoShare   int64 `json:"vinculo_share"` // platform share, absorbs rounding remainders
	AgencyShare    int64 `json:"agency_share"`
	OwnerShare     int64 `json:"owner_share"`
	IsPrime        bool  `json:"is_prime"`
	KYCScore       int   `json:"kyc_score"`
}

// WaterfallSimulation is a Waterfall plus a human-readable breakdown for UI
// previews. Numeric fields are byte-identical to the plain calculation.
type WaterfallSimulation struct {
	Waterfall
	Breakdown []string `json:"breakdown"`
}
