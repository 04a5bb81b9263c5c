// Package risk computes position solvency. Everything here is a pure
// function over fixed-point inputs: given the same position fields and the
// same oracle price, every node reproduces the same health factor bit for
// bit. No floating point anywhere.
package risk

import (
	"errors"
	"math/big"

	"LiqGuard/internal/account"
	fpmath "LiqGuard/internal/math"
)

var (
	// ErrFlatPosition is returned when evaluating a position with size 0.
	// Health is meaningless for an inert position; callers must exclude
	// them rather than evaluate them.
	ErrFlatPosition = errors.New("position has no exposure")

	// ErrInvalidPrice is returned for a non-positive oracle price.
	ErrInvalidPrice = errors.New("oracle price must be positive")
)

// Health is the full solvency breakdown for one position at one price.
// All fields share the 6-decimal quote scale except Factor, which is a
// dimensionless ratio at the same scale (1_000_000 = 1.0).
type Health struct {
	Factor         int64 // equity / maintenance requirement
	Equity         int64 // collateral + unrealized PnL (signed)
	UnrealizedPnL  int64
	Notional       int64 // |size| * price
	MaintenanceReq int64 // notional * maintenance ratio
}

// Liquidatable reports whether the health factor has crossed below the
// configured liquidation threshold.
func (h Health) Liquidatable(params Params) bool {
	return h.Factor < params.LiquidationThreshold
}

// Evaluate computes the health factor for an open position at the given
// oracle price:
//
//	notional = |size| * price
//	pnl      = (price - entry) * size
//	equity   = collateral + pnl
//	factor   = equity / (notional * maintenance_ratio)
func Evaluate(pos *account.Position, oraclePrice int64, params Params) (Health, error) {
	if pos.Size == 0 {
		return Health{}, ErrFlatPosition
	}
	if oraclePrice <= 0 {
		return Health{}, ErrInvalidPrice
	}

	notional := fpmath.ComputeNotional(pos.Size, oraclePrice)
	pnl := fpmath.ComputePnL(pos.Size, pos.EntryPrice, oraclePrice)
	equity := pos.Collateral + pnl

	maintenanceReq := fpmath.ApplyRatio(notional, params.MaintenanceRatio(pos.Leverage))
	if maintenanceReq <= 0 {
		// size != 0 and price > 0 guarantee notional > 0; a zero here means
		// a degenerate maintenance ratio and the position can never be
		// liquidated by price movement.
		return Health{}, ErrInvalidPrice
	}

	factor := fpmath.MulDiv(equity, fpmath.RatioConfig.Scale, maintenanceReq)

	return Health{
		Factor:         factor,
		Equity:         equity,
		UnrealizedPnL:  pnl,
		Notional:       notional,
		MaintenanceReq: maintenanceReq,
	}, nil
}

// LiquidationPrice solves for the oracle price at which the position's
// health factor equals the liquidation threshold. Display-only: the
// settlement path always re-evaluates against a live price. Returns
// ok=false when no positive price can liquidate the position (e.g. a
// fully collateralized long).
func LiquidationPrice(pos *account.Position, params Params) (price int64, ok bool) {
	if pos.Size == 0 {
		return 0, false
	}

	scale := big.NewInt(fpmath.Scale)
	size := big.NewInt(pos.Size)
	absSize := new(big.Int).Abs(size)

	// q = threshold * maintenance_ratio / scale (ratio scale)
	q := new(big.Int).Mul(
		big.NewInt(params.LiquidationThreshold),
		big.NewInt(params.MaintenanceRatio(pos.Leverage)),
	)
	q.Quo(q, scale)

	// Solve collateral + (p - entry) * size / scale = p * |size| * q / scale^2
	// for p:  p = (entry*size - collateral*scale) * scale / (size*scale - |size|*q)
	numerator := new(big.Int).Mul(big.NewInt(pos.EntryPrice), size)
	numerator.Sub(numerator, new(big.Int).Mul(big.NewInt(pos.Collateral), scale))
	numerator.Mul(numerator, scale)

	denominator := new(big.Int).Mul(size, scale)
	denominator.Sub(denominator, new(big.Int).Mul(absSize, q))

	if denominator.Sign() == 0 {
		return 0, false
	}

	p := new(big.Int).Quo(numerator, denominator)
	if p.Sign() <= 0 || !p.IsInt64() {
		return 0, false
	}
	return p.Int64(), true
}
