/**
 * @description
 * Pure gross-up waterfall calculator. Given a contract's terms it derives the
 * total amount the payer is charged and the exact share of each party, so
 * that after deducting the guarantor, surety, agency and platform shares the
 * owner nets exactly the base rent.
 *
 * The gross-up divides the base value by the complement of the combined
 * deduction rate: total = base / (1 - (guarantor + surety + agency + platform)).
 * The total is rounded up to the next centavo, the percentage shares are
 * floored, and every rounding remainder is assigned to the platform (vinculo)
 * share — never dropped.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact rate arithmetic; no float money math.
 */

package waterfall

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vinculobrasil/settlement-service/internal/domain"
)

// ErrValidation marks bad calculator input. It is the caller's fault and is
// never retried.
var ErrValidation = domain.ErrValidation

// DefaultKYCScore is used when a contract has no recorded score (mid-range).
const DefaultKYCScore = 500

// Config carries the split rate table. It is loaded from service
// configuration and passed in explicitly so the calculator stays pure.
type Config struct {
	AgencyRate           float64 // default agency fraction when the contract has none
	GuarantorRate        float64 // guarantor fraction of the grossed-up total
	VinculoRate          float64 // platform fraction of the grossed-up total
	PrimeScoreThreshold  int     // kyc score at or above which the prime table applies
	PrimeGuaranteeFactor float64 // multiplier (<1) on guarantor/surety rates for prime tenants
}

// Input is one contract's terms as seen by the calculator.
type Input struct {
	BaseValue  int64    // net monthly rent in centavos, > 0
	KYCScore   *int     // 0-1000, nil defaults to DefaultKYCScore
	SuretyCost int64    // monthly surety cost in centavos, >= 0
	AgencyRate *float64 // fraction in [0,1], nil defaults to Config.AgencyRate
}

// Calculate computes the gross-up split for the given terms.
func Calculate(in Input, cfg Config) (*domain.Waterfall, error) {
	if in.BaseValue <= 0 {
		return nil, fmt.Errorf("%w: base value must be positive, got %d", ErrValidation, in.BaseValue)
	}
	if in.SuretyCost < 0 {
		return nil, fmt.Errorf("%w: surety cost must not be negative, got %d", ErrValidation, in.SuretyCost)
	}

	kycScore := DefaultKYCScore
	if in.KYCScore != nil {
		kycScore = *in.KYCScore
	}
	if kycScore < 0 || kycScore > 1000 {
		return nil, fmt.Errorf("%w: kyc score must be in [0,1000], got %d", ErrValidation, kycScore)
	}

	agencyRate := cfg.AgencyRate
	if in.AgencyRate != nil {
		agencyRate = *in.AgencyRate
	}
	if agencyRate < 0 || agencyRate > 1 {
		return nil, fmt.Errorf("%w: agency rate must be in [0,1], got %f", ErrValidation, agencyRate)
	}

	base := decimal.NewFromInt(in.BaseValue)

	guarantorRate := decimal.NewFromFloat(cfg.GuarantorRate)
	suretyRate := decimal.NewFromInt(in.SuretyCost).Div(base)
	isPrime := kycScore >= cfg.PrimeScoreThreshold
	if isPrime {
		factor := decimal.NewFromFloat(cfg.PrimeGuaranteeFactor)
		guarantorRate = guarantorRate.Mul(factor)
		suretyRate = suretyRate.Mul(factor)
	}
	agency := decimal.NewFromFloat(agencyRate)
	vinculo := decimal.NewFromFloat(cfg.VinculoRate)

	combined := guarantorRate.Add(suretyRate).Add(agency).Add(vinculo)
	one := decimal.NewFromInt(1)
	if combined.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("%w: combined deduction rate %s must be below 1", ErrValidation, combined.String())
	}

	// Gross-up: round the total up so the floored shares always fit.
	total := base.Div(one.Sub(combined)).Ceil()

	guarantorShare := total.Mul(guarantorRate).Floor().IntPart()
	suretyShare := total.Mul(suretyRate).Floor().IntPart()
	agencyShare := total.Mul(agency).Floor().IntPart()
	ownerShare := in.BaseValue
	totalValue := total.IntPart()

	// The platform share absorbs every rounding remainder.
	vinculoShare := totalValue - ownerShare - guarantorShare - suretyShare - agencyShare
	if vinculoShare < 0 {
		return nil, fmt.Errorf("%w: split produced a negative platform share", ErrValidation)
	}

	return &domain.Waterfall{
		BaseValue:      in.BaseValue,
		TotalValue:     totalValue,
		EcosystemPot:   totalValue - ownerShare,
		GuarantorShare: guarantorShare,
		SuretyShare:    suretyShare,
		VinculoShare:   vinculoShare,
		AgencyShare:    agencyShare,
		OwnerShare:     ownerShare,
		IsPrime:        isPrime,
		KYCScore:       kycScore,
	}, nil
}

// Simulate runs the same computation as Calculate and attaches a
// human-readable breakdown. It performs no I/O and its numeric fields are
// identical to Calculate's for the same inputs.
func Simulate(in Input, cfg Config) (*domain.WaterfallSimulation, error) {
	calc, err := Calculate(in, cfg)
	if err != nil {
		return nil, err
	}

	tier := "standard"
	if calc.IsPrime {
		tier = "prime"
	}

	breakdown := []string{
		fmt.Sprintf("Base rent (owner nets): %s", formatCentavos(calc.OwnerShare)),
		fmt.Sprintf("Total charged to tenant: %s", formatCentavos(calc.TotalValue)),
		fmt.Sprintf("Ecosystem pot: %s", formatCentavos(calc.EcosystemPot)),
		fmt.Sprintf("Guarantor share: %s", formatCentavos(calc.GuarantorShare)),
		fmt.Sprintf("Surety share: %s", formatCentavos(calc.SuretyShare)),
		fmt.Sprintf("Agency share: %s", formatCentavos(calc.AgencyShare)),
		fmt.Sprintf("Platform share: %s", formatCentavos(calc.VinculoShare)),
		fmt.Sprintf("Tenant tier: %s (kyc score %d)", tier, calc.KYCScore),
	}

	return &domain.WaterfallSimulation{Waterfall: *calc, Breakdown: breakdown}, nil
}

func formatCentavos(v int64) string {
	return fmt.Sprintf("R$ %d.%02d", v/100, v%100)
}
