package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// All account quantities (price, size, collateral, quote amounts)
	// share a single 6-decimal scale, matching the account layout.
	QuantityConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	PriceConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	QuoteConfig    = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}

	// RatioConfig scales dimensionless ratios: margin fractions, health
	// factors, fee fractions. 1_000_000 == 1.0.
	RatioConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// Scale is the shared 6-decimal scale factor.
const Scale int64 = 1_000_000

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// The denominator must be positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding on the absolute remainder: if |remainder| equals
		// denominator/2 exactly, round toward the even quotient.
		neg := remainder.Sign() < 0
		absRem := getInt128()
		absRem.Abs(remainder)

		half := big.NewInt(denominator / 2)
		cmp := absRem.Cmp(half)

		step := int64(1)
		if neg {
			step = -1
		}

		if cmp > 0 {
			result += step
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result += step
			}
		}

		putInt128(absRem)
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denominator in int128 space with banker's rounding.
// This is the workhorse for every fixed-point rescale in the engine.
func MulDiv(a, b, denominator int64) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denominator, RoundHalfEven)
	putInt128(num)
	return result
}

// ComputeNotional returns |size| * price rescaled to the quote scale.
// size may be signed; notional is always non-negative.
func ComputeNotional(size, price int64) int64 {
	if size < 0 {
		size = -size
	}
	return MulDiv(size, price, Scale)
}

// ComputePnL returns (price - entryPrice) * size rescaled to the quote
// scale. Signed: negative for an adverse price move against the
// position's direction.
func ComputePnL(size, entryPrice, price int64) int64 {
	return MulDiv(price-entryPrice, size, Scale)
}

// ApplyRatio returns amount * ratio where ratio is RatioConfig-scaled.
func ApplyRatio(amount, ratio int64) int64 {
	return MulDiv(amount, ratio, RatioConfig.Scale)
}

// ToFloat converts a fixed-point value to a float64 for metrics and
// display. Never feed the result back into settlement math.
func ToFloat(v int64) float64 {
	return float64(v) / float64(Scale)
}
