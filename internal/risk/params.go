package risk

import "fmt"

// MaintenanceTier maps a leverage band to its maintenance margin ratio.
// Higher leverage brackets get tighter maintenance requirements.
type MaintenanceTier struct {
	MaxLeverage uint16
	Ratio       int64 // RatioConfig scale: 25_000 = 2.5%
}

// Params holds all protocol risk constants. These are configuration, not
// hard-coded magic numbers: every deployment supplies its own values.
type Params struct {
	// MaintenanceTiers must be sorted by ascending MaxLeverage. The first
	// tier whose MaxLeverage covers the position's leverage applies.
	MaintenanceTiers []MaintenanceTier

	// DefaultMaintenanceRatio applies when leverage exceeds every tier.
	DefaultMaintenanceRatio int64

	// LiquidationThreshold is the health factor (1e6 = 1.0) below which
	// external liquidators are authorized to act. Chosen above 1.0 so
	// liquidation fires before equity is fully consumed.
	LiquidationThreshold int64

	// LiquidatorFeeRatio is the fraction of position collateral paid to
	// the liquidator on a successful full liquidation, capped at the
	// collateral itself.
	LiquidatorFeeRatio int64
}

// DefaultParams mirrors the deployed tier schedule: 2.5% maintenance up
// to 20x, 1% up to 50x, 0.5% up to 100x.
func DefaultParams() Params {
	return Params{
		MaintenanceTiers: []MaintenanceTier{
			{MaxLeverage: 20, Ratio: 25_000},
			{MaxLeverage: 50, Ratio: 10_000},
			{MaxLeverage: 100, Ratio: 5_000},
		},
		DefaultMaintenanceRatio: 25_000,
		LiquidationThreshold:    1_100_000, // 1.1
		LiquidatorFeeRatio:      25_000,    // 2.5% of collateral
	}
}

// MaxLeverage returns the highest leverage any tier admits. Positions
// above it are rejected at open.
func (p Params) MaxLeverage() uint16 {
	if len(p.MaintenanceTiers) == 0 {
		return 100
	}
	return p.MaintenanceTiers[len(p.MaintenanceTiers)-1].MaxLeverage
}

// MaintenanceRatio returns the maintenance margin ratio for a leverage.
func (p Params) MaintenanceRatio(leverage uint16) int64 {
	for _, tier := range p.MaintenanceTiers {
		if leverage <= tier.MaxLeverage {
			return tier.Ratio
		}
	}
	return p.DefaultMaintenanceRatio
}

// Validate rejects parameter sets that would make the health computation
// meaningless or the settlement rule non-deterministic.
func (p Params) Validate() error {
	if p.LiquidationThreshold <= 0 {
		return fmt.Errorf("liquidation threshold must be positive, got %d", p.LiquidationThreshold)
	}
	if p.LiquidatorFeeRatio < 0 || p.LiquidatorFeeRatio > 1_000_000 {
		return fmt.Errorf("liquidator fee ratio out of [0,1]: %d", p.LiquidatorFeeRatio)
	}
	if p.DefaultMaintenanceRatio <= 0 {
		return fmt.Errorf("default maintenance ratio must be positive, got %d", p.DefaultMaintenanceRatio)
	}
	prev := uint16(0)
	for i, tier := range p.MaintenanceTiers {
		if tier.Ratio <= 0 {
			return fmt.Errorf("tier %d: maintenance ratio must be positive, got %d", i, tier.Ratio)
		}
		if tier.MaxLeverage <= prev {
			return fmt.Errorf("tier %d: max leverage %d not ascending", i, tier.MaxLeverage)
		}
		prev = tier.MaxLeverage
	}
	return nil
}
