package math_test

import (
	"testing"

	fpmath "LiqGuard/internal/math"
)

// ============================================================================
// Test: MulDiv rounding
// ============================================================================

func TestMulDiv_Exact(t *testing.T) {
	// 100 * 9 at matching scales: no remainder.
	got := fpmath.MulDiv(100_000_000, 9_000_000, fpmath.Scale)
	if got != 900_000_000 {
		t.Errorf("got %d, want 900000000", got)
	}
}

func TestMulDiv_HalfEven(t *testing.T) {
	cases := []struct {
		name    string
		a, b, d int64
		want    int64
	}{
		// 2.5 rounds to 2 (even), 3.5 rounds to 4 (even)
		{"half_down_to_even", 5, 1, 2, 2},
		{"half_up_to_even", 7, 1, 2, 4},
		{"above_half_up", 13, 1, 5, 3}, // 2.6 -> 3
		{"below_half_down", 12, 1, 5, 2},
		{"negative_half_to_even", -5, 1, 2, -2},
		{"negative_above_half", -13, 1, 5, -3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fpmath.MulDiv(tc.a, tc.b, tc.d); got != tc.want {
				t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", tc.a, tc.b, tc.d, got, tc.want)
			}
		})
	}
}

func TestMulDiv_NoInt64Overflow(t *testing.T) {
	// a * b overflows int64; intermediate must go through big.Int.
	a := int64(4_000_000_000_000)
	b := int64(3_000_000_000)
	got := fpmath.MulDiv(a, b, fpmath.Scale)
	want := int64(12_000_000_000_000_000) // a*b/1e6
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

// ============================================================================
// Test: domain helpers
// ============================================================================

func TestComputeNotional_AbsoluteValue(t *testing.T) {
	long := fpmath.ComputeNotional(100_000_000, 20_000_000)
	short := fpmath.ComputeNotional(-100_000_000, 20_000_000)

	if long != 2_000_000_000 {
		t.Errorf("long notional = %d, want 2000000000", long)
	}
	if short != long {
		t.Errorf("short notional = %d, want %d", short, long)
	}
}

func TestComputePnL_Signs(t *testing.T) {
	// Long profits when price rises, short profits when price falls.
	if got := fpmath.ComputePnL(100_000_000, 20_000_000, 22_000_000); got != 200_000_000 {
		t.Errorf("long gain = %d, want 200000000", got)
	}
	if got := fpmath.ComputePnL(100_000_000, 20_000_000, 18_000_000); got != -200_000_000 {
		t.Errorf("long loss = %d, want -200000000", got)
	}
	if got := fpmath.ComputePnL(-100_000_000, 20_000_000, 18_000_000); got != 200_000_000 {
		t.Errorf("short gain = %d, want 200000000", got)
	}
	if got := fpmath.ComputePnL(-100_000_000, 20_000_000, 22_000_000); got != -200_000_000 {
		t.Errorf("short loss = %d, want -200000000", got)
	}
}

func TestApplyRatio(t *testing.T) {
	// 2.5% of 1000.
	got := fpmath.ApplyRatio(1_000_000_000, 25_000)
	if got != 25_000_000 {
		t.Errorf("got %d, want 25000000", got)
	}
}

func TestToFloat(t *testing.T) {
	if got := fpmath.ToFloat(2_500_000); got != 2.5 {
		t.Errorf("got %v, want 2.5", got)
	}
}
