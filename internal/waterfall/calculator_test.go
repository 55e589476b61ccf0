package waterfall

import (
	"errors"
	"reflect"
	"testing"
)

func testConfig() Config {
	return Config{
		AgencyRate:           0.05,
		GuarantorRate:        0.07,
		VinculoRate:          0.03,
		PrimeScoreThreshold:  800,
		PrimeGuaranteeFactor: 0.5,
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestCalculate_SharesSumToTotal(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		name  string
		input Input
	}{
		{"base only", Input{BaseValue: 100000}},
		{"with surety", Input{BaseValue: 100000, SuretyCost: 4000}},
		{"prime score", Input{BaseValue: 250000, SuretyCost: 9900, KYCScore: intPtr(900)}},
		{"non prime score", Input{BaseValue: 250000, SuretyCost: 9900, KYCScore: intPtr(300)}},
		{"explicit agency rate", Input{BaseValue: 175050, AgencyRate: floatPtr(0.08)}},
		{"awkward rounding", Input{BaseValue: 99999, SuretyCost: 3333, AgencyRate: floatPtr(0.055)}},
		{"one centavo", Input{BaseValue: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc, err := Calculate(tc.input, cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sum := calc.GuarantorShare + calc.SuretyShare + calc.VinculoShare + calc.AgencyShare + calc.OwnerShare
			if sum != calc.TotalValue {
				t.Fatalf("shares sum to %d, total is %d", sum, calc.TotalValue)
			}
			if calc.OwnerShare != tc.input.BaseValue {
				t.Fatalf("owner share %d, want base value %d", calc.OwnerShare, tc.input.BaseValue)
			}
			if calc.TotalValue < tc.input.BaseValue {
				t.Fatalf("total %d below base %d; gross-up must only add", calc.TotalValue, tc.input.BaseValue)
			}
			for name, share := range map[string]int64{
				"guarantor": calc.GuarantorShare,
				"surety":    calc.SuretyShare,
				"vinculo":   calc.VinculoShare,
				"agency":    calc.AgencyShare,
				"owner":     calc.OwnerShare,
			} {
				if share < 0 {
					t.Fatalf("%s share is negative: %d", name, share)
				}
			}
			if calc.EcosystemPot != calc.TotalValue-calc.OwnerShare {
				t.Fatalf("ecosystem pot %d, want %d", calc.EcosystemPot, calc.TotalValue-calc.OwnerShare)
			}
		})
	}
}

func TestCalculate_GrossUpExceedsBase(t *testing.T) {
	calc, err := Calculate(Input{BaseValue: 100000, KYCScore: intPtr(750), AgencyRate: floatPtr(0.05)}, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calc.IsPrime {
		t.Fatal("score 750 should not be prime at threshold 800")
	}
	if calc.TotalValue <= 100000 {
		t.Fatalf("total %d must exceed base 100000", calc.TotalValue)
	}
	if calc.OwnerShare != 100000 {
		t.Fatalf("owner share %d, want exactly 100000", calc.OwnerShare)
	}
}

func TestCalculate_PrimeReducesGuaranteeCost(t *testing.T) {
	cfg := testConfig()
	prime, err := Calculate(Input{BaseValue: 100000, SuretyCost: 5000, KYCScore: intPtr(850)}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	standard, err := Calculate(Input{BaseValue: 100000, SuretyCost: 5000, KYCScore: intPtr(400)}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !prime.IsPrime || standard.IsPrime {
		t.Fatalf("tier flags wrong: prime=%v standard=%v", prime.IsPrime, standard.IsPrime)
	}
	if standard.GuarantorShare+standard.SuretyShare <= prime.GuarantorShare+prime.SuretyShare {
		t.Fatalf("non-prime guarantee cost %d must strictly exceed prime %d",
			standard.GuarantorShare+standard.SuretyShare, prime.GuarantorShare+prime.SuretyShare)
	}
}

func TestCalculate_DefaultsKYCScoreAndAgencyRate(t *testing.T) {
	calc, err := Calculate(Input{BaseValue: 100000}, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calc.KYCScore != DefaultKYCScore {
		t.Fatalf("kyc score %d, want default %d", calc.KYCScore, DefaultKYCScore)
	}
	if calc.AgencyShare == 0 {
		t.Fatal("expected default agency rate to produce a non-zero agency share")
	}
}

func TestCalculate_ValidationErrors(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name  string
		input Input
	}{
		{"zero base", Input{BaseValue: 0}},
		{"negative base", Input{BaseValue: -500}},
		{"negative surety", Input{BaseValue: 100000, SuretyCost: -1}},
		{"kyc too high", Input{BaseValue: 100000, KYCScore: intPtr(1001)}},
		{"kyc negative", Input{BaseValue: 100000, KYCScore: intPtr(-1)}},
		{"agency rate above one", Input{BaseValue: 100000, AgencyRate: floatPtr(1.5)}},
		{"surety consumes base", Input{BaseValue: 1000, SuretyCost: 100000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Calculate(tc.input, cfg); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSimulate_MatchesCalculateExactly(t *testing.T) {
	cfg := testConfig()
	input := Input{BaseValue: 123456, SuretyCost: 7890, KYCScore: intPtr(720), AgencyRate: floatPtr(0.06)}

	calc, err := Calculate(input, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim, err := Simulate(input, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(*calc, sim.Waterfall) {
		t.Fatalf("simulation numbers diverge from calculation: %+v vs %+v", sim.Waterfall, *calc)
	}
	if len(sim.Breakdown) == 0 {
		t.Fatal("expected a non-empty breakdown")
	}
}

func TestSimulate_IsDeterministic(t *testing.T) {
	cfg := testConfig()
	input := Input{BaseValue: 200000, SuretyCost: 1500, KYCScore: intPtr(810)}

	first, err := Simulate(input, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Simulate(input, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated simulations must be identical")
	}
}
