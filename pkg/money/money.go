// Package money implements CrewLedger's decimal-only, ILS-locked money
// engine: integer-minor-units, currency-tagged, widened to an
// arbitrary-precision big.Int so amounts are never bounded by int64,
// with ILS-specific formatting, banker's rounding, and exact decimal
// equality.
//
// No floating-point type ever represents a monetary value. Values move
// between layers as decimal strings or as Amount; float64 never
// appears outside informational metrics payloads.
package money

import (
	"fmt"
	"math/big"
	"regexp"
)

// Currency is locked to ILS for v1; the field exists so a future
// multi-currency change is additive, not a rewrite.
const Currency = "ILS"

// scale is the number of fractional digits every Amount carries.
const scale = 2

var scaleFactor = big.NewInt(100) // 10^scale

// Amount is an exact decimal value at 2 fractional digits, backed by
// an arbitrary-precision integer of minor units (agorot).
type Amount struct {
	minor *big.Int
}

// Zero is the additive identity.
func Zero() Amount {
	return Amount{minor: big.NewInt(0)}
}

// FromMinor builds an Amount directly from a count of minor units.
func FromMinor(minor int64) Amount {
	return Amount{minor: big.NewInt(minor)}
}

// Parse reads a decimal string like "1234.56" or "-7" into an exact
// Amount. It never goes through float64.
func Parse(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("money: empty amount")
	}
	if !decimalPattern.MatchString(s) {
		return Amount{}, fmt.Errorf("money: invalid decimal %q", s)
	}

	neg := false
	rest := s
	if rest[0] == '-' {
		neg = true
		rest = rest[1:]
	} else if rest[0] == '+' {
		rest = rest[1:]
	}

	intPart := rest
	fracPart := ""
	if i := indexByte(rest, '.'); i >= 0 {
		intPart = rest[:i]
		fracPart = rest[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	for len(fracPart) < scale {
		fracPart += "0"
	}
	if len(fracPart) > scale {
		// Truncate extra precision at the boundary via banker's rounding
		// on the first dropped digit.
		fracPart = roundFracToScale(fracPart)
	}

	combined := intPart + fracPart
	minor, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid decimal %q", s)
	}
	if neg {
		minor.Neg(minor)
	}
	return Amount{minor: minor}, nil
}

var decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// roundFracToScale applies banker's rounding (round-half-to-even) when
// a fractional part longer than `scale` digits must be truncated.
func roundFracToScale(frac string) string {
	kept := frac[:scale]
	rest := frac[scale:]
	if len(rest) == 0 || rest[0] < '5' {
		return kept
	}
	if rest[0] > '5' {
		return incrementDecimalString(kept)
	}
	// Exactly .5 at the boundary (ignoring further non-zero digits,
	// which push it above half): check for any trailing non-zero digit.
	allZero := true
	for _, c := range rest[1:] {
		if c != '0' {
			allZero = false
			break
		}
	}
	if !allZero {
		return incrementDecimalString(kept)
	}
	lastDigit := kept[len(kept)-1]
	if (lastDigit-'0')%2 == 0 {
		return kept // already even, round down
	}
	return incrementDecimalString(kept)
}

func incrementDecimalString(s string) string {
	n, _ := new(big.Int).SetString(s, 10)
	n.Add(n, big.NewInt(1))
	out := n.String()
	for len(out) < len(s) {
		out = "0" + out
	}
	return out
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{minor: new(big.Int).Add(a.minor, b.minor)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{minor: new(big.Int).Sub(a.minor, b.minor)}
}

// Mul multiplies an Amount by a decimal quantity (e.g. hours worked),
// applying banker's rounding back down to 2 fractional digits.
func (a Amount) Mul(qty Amount) Amount {
	// a.minor is scaled by 10^2, qty.minor is scaled by 10^2.
	// product is scaled by 10^4; rescale to 10^2 with banker's rounding.
	product := new(big.Int).Mul(a.minor, qty.minor)
	return Amount{minor: rescaleHalfToEven(product, scaleFactor)}
}

// rescaleHalfToEven divides product by divisor, rounding half-to-even.
func rescaleHalfToEven(product, divisor *big.Int) *big.Int {
	neg := product.Sign() < 0
	abs := new(big.Int).Abs(product)

	quot, rem := new(big.Int), new(big.Int)
	quot.DivMod(abs, divisor, rem)

	twice := new(big.Int).Mul(rem, big.NewInt(2))
	cmp := twice.Cmp(divisor)
	if cmp > 0 || (cmp == 0 && quot.Bit(0) == 1) {
		quot.Add(quot, big.NewInt(1))
	}
	if neg {
		quot.Neg(quot)
	}
	return quot
}

// Equal reports exact decimal equality.
func (a Amount) Equal(b Amount) bool {
	return a.minor.Cmp(b.minor) == 0
}

// Cmp returns -1, 0, or 1 comparing a to b.
func (a Amount) Cmp(b Amount) int {
	return a.minor.Cmp(b.minor)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.minor.Sign() == 0
}

// IsNegative reports whether the amount is strictly negative.
func (a Amount) IsNegative() bool {
	return a.minor.Sign() < 0
}

// IsPositive reports whether the amount is strictly positive.
func (a Amount) IsPositive() bool {
	return a.minor.Sign() > 0
}

// Decimal renders the exact decimal string, e.g. "1234.56" or "-0.05".
func (a Amount) Decimal() string {
	neg := a.minor.Sign() < 0
	abs := new(big.Int).Abs(a.minor)
	s := abs.String()
	for len(s) <= scale {
		s = "0" + s
	}
	intPart := s[:len(s)-scale]
	fracPart := s[len(s)-scale:]
	out := intPart + "." + fracPart
	if neg && abs.Sign() != 0 {
		out = "-" + out
	}
	return out
}

// shekelSign is the ILS currency sign, U+20AA NEW SHEQEL SIGN.
const shekelSign = "₪"

// leftToRightMark keeps the shekel sign glued to the left of the
// number in bidirectional text contexts.
const leftToRightMark = "‎"

// Format renders an Amount the way every externally-visible monetary
// value in CrewLedger must look: LRM, shekel sign, thousand
// separators, fixed 2 decimal places. Matches
// ^‎₪-?[0-9]{1,3}(,[0-9]{3})*\.[0-9]{2}$.
func (a Amount) Format() string {
	neg := a.minor.Sign() < 0
	abs := new(big.Int).Abs(a.minor)
	s := abs.String()
	for len(s) <= scale {
		s = "0" + s
	}
	intPart := s[:len(s)-scale]
	fracPart := s[len(s)-scale:]

	grouped := groupThousands(intPart)

	sign := ""
	if neg {
		sign = "-"
	}
	return leftToRightMark + shekelSign + sign + grouped + "." + fracPart
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var out []byte
	first := n % 3
	if first == 0 {
		first = 3
	}
	out = append(out, digits[:first]...)
	for i := first; i < n; i += 3 {
		out = append(out, ',')
		out = append(out, digits[i:i+3]...)
	}
	return string(out)
}

// MarshalJSON encodes the Amount as its exact decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.Decimal() + `"`), nil
}

// UnmarshalJSON parses the Amount from its decimal string form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
