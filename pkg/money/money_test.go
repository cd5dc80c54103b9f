package money_test

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// formatRegex is the canonical shape every formatted Amount must match.
var formatRegex = regexp.MustCompile(`^\x{200E}₪-?[0-9]{1,3}(,[0-9]{3})*\.[0-9]{2}$`)

func TestFormat_MatchesCanonicalRegex(t *testing.T) {
	cases := []string{"0", "9.50", "1600.00", "-12.34", "1234567.89"}
	for _, c := range cases {
		a, err := money.Parse(c)
		require.NoError(t, err)
		assert.Regexp(t, formatRegex, a.Format(), "input %q", c)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	a, err := money.Parse("1600.00")
	require.NoError(t, err)
	assert.Equal(t, "1600.00", a.Decimal())
}

func TestMul_RateTimesQty(t *testing.T) {
	rate, err := money.Parse("800.00") // hour_electric rate card entry
	require.NoError(t, err)
	qty, err := money.Parse("2.0")
	require.NoError(t, err)

	total := rate.Mul(qty)
	assert.Equal(t, "1600.00", total.Decimal())
}

func TestMul_RoundsHalfToEven(t *testing.T) {
	// 0.125 rounds to 0.12 (even) not 0.13, exercising banker's rounding
	// at the exact midpoint.
	rate, err := money.Parse("0.25")
	require.NoError(t, err)
	qty, err := money.Parse("0.5")
	require.NoError(t, err)
	assert.Equal(t, "0.12", rate.Mul(qty).Decimal())
}

func TestEqual_ExactDecimalEquality(t *testing.T) {
	a, _ := money.Parse("10.10")
	b, _ := money.Parse("10.1")
	assert.True(t, a.Equal(b))
}

// TestMoneyProperties uses gopter property-based testing to check
// that Add/Sub are mutually inverse and Format always matches the
// canonical money regex for arbitrary minor-unit values.
func TestMoneyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("Add then Sub returns the original amount", prop.ForAll(
		func(x, y int64) bool {
			a := money.FromMinor(x)
			b := money.FromMinor(y)
			return a.Add(b).Sub(b).Equal(a)
		},
		gen.Int64Range(-1_000_000_00, 1_000_000_00),
		gen.Int64Range(-1_000_000_00, 1_000_000_00),
	))

	properties.Property("Format always matches the canonical money regex", prop.ForAll(
		func(x int64) bool {
			return formatRegex.MatchString(money.FromMinor(x).Format())
		},
		gen.Int64Range(-999_999_99, 999_999_99),
	))

	properties.TestingRun(t)
}
