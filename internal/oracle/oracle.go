// Package oracle supplies mark prices to the monitor. Prices are
// 6-decimal fixed point. The engine treats every price as a trusted
// input; feed selection and integrity are upstream concerns.
package oracle

import (
	"context"
	"errors"
)

var (
	// ErrUnknownSymbol is returned when the oracle carries no price for a
	// symbol. The monitor skips the symbol for the cycle.
	ErrUnknownSymbol = errors.New("no price for symbol")

	// ErrStalePrice is returned when the last known price is older than
	// the staleness bound. Liquidating on a stale price is worse than
	// waiting one cycle.
	ErrStalePrice = errors.New("price is stale")
)

// Oracle yields the current mark price for a symbol.
type Oracle interface {
	Price(ctx context.Context, symbol string) (int64, error)
}
