package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	fpmath "LiqGuard/internal/math"
)

// MockOracle serves a bounded random walk around configured base prices.
// For local runs and tests only; deployments feed real prices over NATS.
type MockOracle struct {
	mu      sync.Mutex
	rng     *rand.Rand
	base    map[string]int64
	current map[string]int64
	pinned  map[string]int64

	// stepRatio bounds one fetch's move, maxDriftRatio bounds the total
	// deviation from base. Both at ratio scale.
	stepRatio     int64
	maxDriftRatio int64
}

// NewMockOracle builds a mock over base prices (6-decimal fixed point).
// Walk bounds: 0.5% per fetch, 5% total drift.
func NewMockOracle(basePrices map[string]int64, seed int64) *MockOracle {
	base := make(map[string]int64, len(basePrices))
	current := make(map[string]int64, len(basePrices))
	for sym, p := range basePrices {
		base[sym] = p
		current[sym] = p
	}
	return &MockOracle{
		rng:           rand.New(rand.NewSource(seed)),
		base:          base,
		current:       current,
		pinned:        make(map[string]int64),
		stepRatio:     5_000,  // 0.5%
		maxDriftRatio: 50_000, // 5%
	}
}

// Price advances the symbol's walk one step and returns the new price.
func (m *MockOracle) Price(_ context.Context, symbol string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pinned[symbol]; ok {
		return p, nil
	}
	base, ok := m.base[symbol]
	if !ok {
		return 0, fmt.Errorf("%q: %w", symbol, ErrUnknownSymbol)
	}

	price := m.current[symbol]
	maxStep := fpmath.ApplyRatio(base, m.stepRatio)
	if maxStep > 0 {
		price += m.rng.Int63n(2*maxStep+1) - maxStep
	}

	drift := fpmath.ApplyRatio(base, m.maxDriftRatio)
	if price > base+drift {
		price = base + drift
	}
	if price < base-drift {
		price = base - drift
	}
	if price <= 0 {
		price = 1
	}

	m.current[symbol] = price
	return price, nil
}

// SetPrice pins a symbol's price, suspending its walk. Tests use this to
// push a position underwater deterministically.
func (m *MockOracle) SetPrice(symbol string, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[symbol] = price
}
