package oracle_test

import (
	"context"
	"errors"
	"testing"

	"LiqGuard/internal/oracle"
)

func TestMockOracle_UnknownSymbol(t *testing.T) {
	orc := oracle.NewMockOracle(map[string]int64{"SOL-PERP": 20_000_000}, 1)

	if _, err := orc.Price(context.Background(), "DOGE-PERP"); !errors.Is(err, oracle.ErrUnknownSymbol) {
		t.Errorf("got %v, want ErrUnknownSymbol", err)
	}
}

func TestMockOracle_WalkBounds(t *testing.T) {
	const base = int64(20_000_000)
	orc := oracle.NewMockOracle(map[string]int64{"SOL-PERP": base}, 42)
	ctx := context.Background()

	// 5% maximum drift from base in either direction.
	lo, hi := base-base/20, base+base/20
	for i := 0; i < 500; i++ {
		price, err := orc.Price(ctx, "SOL-PERP")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if price < lo || price > hi {
			t.Fatalf("fetch %d: price %d escaped [%d, %d]", i, price, lo, hi)
		}
	}
}

func TestMockOracle_SameSeedSameWalk(t *testing.T) {
	base := map[string]int64{"SOL-PERP": 20_000_000}
	a := oracle.NewMockOracle(base, 7)
	b := oracle.NewMockOracle(base, 7)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		pa, err := a.Price(ctx, "SOL-PERP")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		pb, err := b.Price(ctx, "SOL-PERP")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if pa != pb {
			t.Fatalf("fetch %d: seeds diverged, %d vs %d", i, pa, pb)
		}
	}
}

func TestMockOracle_SetPricePins(t *testing.T) {
	orc := oracle.NewMockOracle(map[string]int64{"SOL-PERP": 20_000_000}, 1)
	ctx := context.Background()

	orc.SetPrice("SOL-PERP", 9_000_000)
	for i := 0; i < 10; i++ {
		price, err := orc.Price(ctx, "SOL-PERP")
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if price != 9_000_000 {
			t.Fatalf("fetch %d: pinned price moved to %d", i, price)
		}
	}

	// Pinning works for symbols the walk never knew.
	orc.SetPrice("BTC-PERP", 45_000_000_000)
	price, err := orc.Price(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("pinned unknown symbol: %v", err)
	}
	if price != 45_000_000_000 {
		t.Errorf("price %d, want 45_000_000_000", price)
	}
}
