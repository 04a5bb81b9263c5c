// Package event defines the outbound events the settlement engine and
// monitor emit. Events are informational: consumers (dashboards, history
// writers, downstream systems) can always rebuild their view from the
// account store, so delivery is best effort.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"LiqGuard/internal/derive"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypePositionOpened
	TypeFundInitialized
	TypeLiquidationExecuted
	TypeFundBalanceChanged
)

func (t Type) String() string {
	switch t {
	case TypePositionOpened:
		return "PositionOpened"
	case TypeFundInitialized:
		return "FundInitialized"
	case TypeLiquidationExecuted:
		return "LiquidationExecuted"
	case TypeFundBalanceChanged:
		return "FundBalanceChanged"
	default:
		return "Unknown"
	}
}

// Event is the interface all payloads implement.
type Event interface {
	// Key returns a stable dedup key for the event.
	Key() string

	// EventType returns the discriminator.
	EventType() Type
}

// PositionOpened is emitted when OpenPosition commits a new position.
type PositionOpened struct {
	Address    derive.Address `json:"address"`
	Owner      derive.Address `json:"owner"`
	Symbol     string         `json:"symbol"`
	Size       int64          `json:"size"`
	Collateral int64          `json:"collateral"`
	EntryPrice int64          `json:"entry_price"`
	Leverage   uint16         `json:"leverage"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (e *PositionOpened) Key() string {
	return fmt.Sprintf("open:%s:%d", e.Address, e.Timestamp.UnixMicro())
}

func (e *PositionOpened) EventType() Type { return TypePositionOpened }

// FundInitialized is emitted once, when the insurance fund is created.
type FundInitialized struct {
	Address   derive.Address `json:"address"`
	Authority derive.Address `json:"authority"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *FundInitialized) Key() string {
	return fmt.Sprintf("fund_init:%s", e.Address)
}

func (e *FundInitialized) EventType() Type { return TypeFundInitialized }

// LiquidationExecuted records one full liquidation settlement. All amounts
// are 6-decimal fixed point.
type LiquidationExecuted struct {
	LiquidationID    uuid.UUID      `json:"liquidation_id"`
	Position         derive.Address `json:"position"`
	Owner            derive.Address `json:"owner"`
	Liquidator       derive.Address `json:"liquidator"`
	Symbol           string         `json:"symbol"`
	Size             int64          `json:"size"`
	OraclePrice      int64          `json:"oracle_price"`
	HealthFactor     int64          `json:"health_factor"`
	OwnerPayout      int64          `json:"owner_payout"`
	LiquidatorReward int64          `json:"liquidator_reward"`
	BadDebt          int64          `json:"bad_debt"`
	CoveredByFund    int64          `json:"covered_by_fund"`
	UncoveredDeficit int64          `json:"uncovered_deficit"`
	FundBalanceAfter int64          `json:"fund_balance_after"`
	Timestamp        time.Time      `json:"timestamp"`
}

func (e *LiquidationExecuted) Key() string {
	return e.LiquidationID.String()
}

func (e *LiquidationExecuted) EventType() Type { return TypeLiquidationExecuted }

// FundBalanceChanged is emitted by the fund watcher whenever the observed
// insurance fund balance moves between polls.
type FundBalanceChanged struct {
	Address   derive.Address `json:"address"`
	Balance   int64          `json:"balance"`
	Delta     int64          `json:"delta"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *FundBalanceChanged) Key() string {
	return fmt.Sprintf("fund_delta:%s:%d", e.Address, e.Timestamp.UnixMicro())
}

func (e *FundBalanceChanged) EventType() Type { return TypeFundBalanceChanged }
