package pricing_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesPath = "../../rules/global.yaml"

// TestPriceTask_Determinism checks the concrete determinism scenario:
// three evaluations of the same (rate_code, qty) against the same
// loaded rules must produce byte-identical pricing_sha.
func TestPriceTask_Determinism(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)

	qty, err := money.Parse("2.0")
	require.NoError(t, err)

	var shas []string
	for i := 0; i < 3; i++ {
		result, err := pricing.PriceTask(rules, "hour_electric", qty)
		require.NoError(t, err)
		assert.Equal(t, "1600.00", result.Total.Decimal())
		shas = append(shas, result.PricingSHA)
	}
	assert.Equal(t, shas[0], shas[1])
	assert.Equal(t, shas[1], shas[2])
	assert.Len(t, shas[0], 12)
}

func TestPriceTask_UnknownRateCodeIsDomainError(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	qty, _ := money.Parse("1")

	_, err = pricing.PriceTask(rules, "not_a_real_code", qty)
	assert.ErrorIs(t, err, pricing.ErrUnknownRateCode)
}

func TestPriceTask_OvertimeModifierApplies(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	qty, _ := money.Parse("10") // > 8h triggers overtime_multiplier

	result, err := pricing.PriceTask(rules, "hour_electric", qty)
	require.NoError(t, err)
	// base = 800*10 = 8000.00, *1.5 = 12000.00
	assert.Equal(t, "12000.00", result.Total.Decimal())
	// steps: base, overtime modifier, rounding
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "overtime_multiplier", result.Steps[1].YAMLKey)
}

func TestPriceExpense_UnknownCategoryIsDomainError(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	amt, _ := money.Parse("50.00")

	_, err = pricing.PriceExpense(rules, "not_a_category", amt)
	assert.ErrorIs(t, err, pricing.ErrUnknownCategory)
}

func TestPriceExpense_PassesThroughAmount(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	amt, _ := money.Parse("123.45")

	result, err := pricing.PriceExpense(rules, "fuel", amt)
	require.NoError(t, err)
	assert.Equal(t, "123.45", result.Total.Decimal())
}

func TestRulesSHA_ReflectsCurrentlyLoadedFile(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)
	assert.Len(t, rules.RulesSHA(), 12)
	assert.Equal(t, 3, rules.RulesVersion())
}

// TestPriceTaskProperties uses gopter property-based testing to check
// that PriceTask is deterministic and non-negative for any positive
// quantity priced against the same loaded rules.
func TestPriceTaskProperties(t *testing.T) {
	rules, err := pricing.LoadRules(rulesPath)
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated pricing of the same qty yields the same pricing_sha", prop.ForAll(
		func(minorQty int64) bool {
			qty := money.FromMinor(minorQty)
			first, err := pricing.PriceTask(rules, "hour_electric", qty)
			if err != nil {
				return false
			}
			second, err := pricing.PriceTask(rules, "hour_electric", qty)
			if err != nil {
				return false
			}
			return first.PricingSHA == second.PricingSHA && first.Total.Equal(second.Total)
		},
		gen.Int64Range(1, 1_000_00),
	))

	properties.Property("priced total is never negative for a positive qty", prop.ForAll(
		func(minorQty int64) bool {
			qty := money.FromMinor(minorQty)
			result, err := pricing.PriceTask(rules, "hour_electric", qty)
			if err != nil {
				return false
			}
			return !result.Total.IsNegative()
		},
		gen.Int64Range(1, 1_000_00),
	))

	properties.TestingRun(t)
}
