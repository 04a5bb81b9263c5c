// Package engine applies the three account transitions the protocol
// defines: fund initialization, position open, and full liquidation. It is
// the only writer of account records. All multi-record effects go through
// a single atomic store commit, so a liquidation's position write and
// insurance fund write are inseparable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LiqGuard/internal/account"
	"LiqGuard/internal/derive"
	"LiqGuard/internal/event"
	fpmath "LiqGuard/internal/math"
	"LiqGuard/internal/observability"
	"LiqGuard/internal/risk"
	"LiqGuard/internal/store"
)

// maxCommitRetries bounds how often a liquidation re-reads and re-settles
// after losing a CAS race before giving up with ErrCommitContention.
const maxCommitRetries = 3

// Engine is the settlement core. Safe for concurrent use: all shared
// state lives in the store, and commits are versioned compare-and-swap.
type Engine struct {
	store   store.Store
	program derive.ProgramID
	fund    derive.Address
	params  risk.Params
	log     zerolog.Logger
	metrics *observability.Metrics

	// events receives emitted events with a non-blocking send. Consumers
	// that fall behind lose events; they can rebuild from the store.
	events chan<- event.Event

	now func() time.Time
}

// New builds an engine over a store. metrics and events may be nil.
func New(
	st store.Store,
	program derive.ProgramID,
	params risk.Params,
	log zerolog.Logger,
	metrics *observability.Metrics,
	events chan<- event.Event,
) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("risk params: %w", err)
	}
	return &Engine{
		store:   st,
		program: program,
		fund:    derive.InsuranceFundAddress(program),
		params:  params,
		log:     log,
		metrics: metrics,
		events:  events,
		now:     time.Now,
	}, nil
}

// Params returns the engine's risk parameters.
func (e *Engine) Params() risk.Params { return e.params }

// FundAddress returns the insurance fund singleton address.
func (e *Engine) FundAddress() derive.Address { return e.fund }

// PositionAddress derives the address a position for (owner, symbol)
// lives at.
func (e *Engine) PositionAddress(owner derive.Address, symbol string) derive.Address {
	return derive.PositionAddress(e.program, owner, symbol)
}

// InitializeInsuranceFund creates the fund singleton with a zero balance.
// Racing initializers are harmless: exactly one create wins and the rest
// see ErrAlreadyInitialized.
func (e *Engine) InitializeInsuranceFund(ctx context.Context, authority derive.Address) (derive.Address, error) {
	fund := &account.InsuranceFund{Authority: authority}
	data, err := fund.Encode()
	if err != nil {
		return derive.Address{}, fmt.Errorf("encode fund: %w", err)
	}

	err = e.store.Commit(ctx, []store.Op{{Address: e.fund, Data: data}})
	if errors.Is(err, store.ErrAlreadyExists) {
		return e.fund, ErrAlreadyInitialized
	}
	if err != nil {
		return derive.Address{}, fmt.Errorf("commit fund: %w", err)
	}

	e.log.Info().
		Str("fund", e.fund.String()).
		Str("authority", authority.String()).
		Msg("insurance fund initialized")

	if e.metrics != nil {
		e.metrics.FundBalance.Set(0)
	}
	e.emit(&event.FundInitialized{
		Address:   e.fund,
		Authority: authority,
		Timestamp: e.now(),
	})
	return e.fund, nil
}

// ContributeToFund credits the insurance fund. amount is 6-decimal USDC.
func (e *Engine) ContributeToFund(ctx context.Context, amount int64) (*account.InsuranceFund, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("contribution %d: %w", amount, ErrInvalidAmount)
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		rec, err := e.store.Get(ctx, e.fund)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFundNotInitialized
		}
		if err != nil {
			return nil, fmt.Errorf("read fund: %w", err)
		}
		fund, err := account.DecodeInsuranceFund(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("decode fund: %w", ErrAccountMismatch)
		}

		fund.Balance += amount
		fund.TotalContributions += amount
		fund.UtilizationRatio = fundUtilization(fund)

		data, err := fund.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode fund: %w", err)
		}
		err = e.store.Commit(ctx, []store.Op{{
			Address:       e.fund,
			Data:          data,
			ExpectVersion: rec.Version,
		}})
		if errors.Is(err, store.ErrVersionConflict) {
			if e.metrics != nil {
				e.metrics.CommitConflicts.Inc()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit fund: %w", err)
		}

		if e.metrics != nil {
			e.metrics.FundBalance.Set(fpmath.ToFloat(fund.Balance))
		}
		e.emit(&event.FundBalanceChanged{
			Address:   e.fund,
			Balance:   fund.Balance,
			Delta:     amount,
			Reason:    "contribution",
			Timestamp: e.now(),
		})
		return fund, nil
	}
	return nil, ErrCommitContention
}

// OpenPosition creates a position for (owner, symbol). The address is
// fully determined by the two seeds, so one owner holds at most one live
// position per symbol. Reopening over an inert record replaces it.
func (e *Engine) OpenPosition(
	ctx context.Context,
	owner derive.Address,
	symbol string,
	size, collateral, entryPrice int64,
	leverage uint16,
) (derive.Address, *account.Position, error) {
	if symbol == "" || len(symbol) > account.SymbolWidth {
		return derive.Address{}, nil, fmt.Errorf("symbol %q: %w", symbol, ErrInvalidSymbol)
	}
	if size == 0 || collateral <= 0 || entryPrice <= 0 {
		return derive.Address{}, nil, fmt.Errorf(
			"size=%d collateral=%d entry=%d: %w", size, collateral, entryPrice, ErrInvalidAmount)
	}
	if leverage == 0 || leverage > e.params.MaxLeverage() {
		return derive.Address{}, nil, fmt.Errorf("leverage %d: %w", leverage, ErrInvalidAmount)
	}

	addr := e.PositionAddress(owner, symbol)
	pos := &account.Position{
		Owner:      owner,
		Symbol:     symbol,
		Size:       size,
		Collateral: collateral,
		EntryPrice: entryPrice,
		Leverage:   leverage,

		// Open-time risk snapshot: 5% of entry notional.
		MaintenanceMargin: fpmath.ComputeNotional(size, entryPrice) / 20,
	}
	data, err := pos.Encode()
	if err != nil {
		return derive.Address{}, nil, fmt.Errorf("encode position: %w", err)
	}

	op := store.Op{Address: addr, Data: data}
	rec, err := e.store.Get(ctx, addr)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// create, ExpectVersion stays 0
	case err != nil:
		return derive.Address{}, nil, fmt.Errorf("read position: %w", err)
	default:
		existing, decErr := account.DecodePosition(rec.Data)
		if decErr != nil {
			return derive.Address{}, nil, fmt.Errorf("record at %s: %w", addr, ErrAccountMismatch)
		}
		if existing.IsOpen() {
			return derive.Address{}, nil, ErrPositionAlreadyExists
		}
		op.ExpectVersion = rec.Version
	}

	if err := e.store.Commit(ctx, []store.Op{op}); err != nil {
		// Lost a race with another opener. Whatever landed there is a
		// live position from this instant's point of view.
		if errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrVersionConflict) {
			return derive.Address{}, nil, ErrPositionAlreadyExists
		}
		return derive.Address{}, nil, fmt.Errorf("commit position: %w", err)
	}

	e.log.Info().
		Str("position", addr.String()).
		Str("owner", owner.String()).
		Str("symbol", symbol).
		Int64("size", size).
		Int64("collateral", collateral).
		Int64("entry_price", entryPrice).
		Uint16("leverage", leverage).
		Msg("position opened")

	e.emit(&event.PositionOpened{
		Address:    addr,
		Owner:      owner,
		Symbol:     symbol,
		Size:       size,
		Collateral: collateral,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		Timestamp:  e.now(),
	})
	return addr, pos, nil
}

// LiquidationResult reports the settlement of one full liquidation. All
// amounts are 6-decimal fixed point.
type LiquidationResult struct {
	LiquidationID    uuid.UUID
	Position         derive.Address
	Owner            derive.Address
	Liquidator       derive.Address
	Symbol           string
	Size             int64 // exposure closed, signed
	OraclePrice      int64
	HealthFactor     int64
	Equity           int64
	OwnerPayout      int64
	LiquidatorReward int64
	BadDebt          int64
	Covered          int64 // bad debt absorbed by the fund
	Uncovered        int64 // bad debt left after draining the fund
	FundBalanceAfter int64
	ExecutedAt       time.Time
}

// LiquidateFull closes an underwater position in one shot and settles the
// proceeds against the insurance fund. Exactly one caller can win for a
// given position: the position write and the fund write commit together
// under compare-and-swap, so a racing liquidator either observes the
// still-live position or ErrAlreadyLiquidated, never a half-settled state.
//
// A nil error or ErrInsufficientInsuranceFunds both mean the liquidation
// committed; the latter carries a result with Uncovered > 0.
func (e *Engine) LiquidateFull(
	ctx context.Context,
	positionAddr, fundAddr, liquidator derive.Address,
	oraclePrice int64,
) (*LiquidationResult, error) {
	start := time.Now()
	if oraclePrice <= 0 {
		return nil, risk.ErrInvalidPrice
	}
	if fundAddr != e.fund {
		return nil, fmt.Errorf("fund address %s: %w", fundAddr, ErrAccountMismatch)
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		res, err := e.liquidateOnce(ctx, positionAddr, liquidator, oraclePrice)
		if errors.Is(err, store.ErrVersionConflict) {
			if e.metrics != nil {
				e.metrics.CommitConflicts.Inc()
			}
			// Re-read on the next pass: if the racer liquidated the
			// position, we report ErrAlreadyLiquidated there.
			continue
		}
		if err != nil {
			e.observeAttempt(err, start)
			return nil, err
		}

		e.observeAttempt(nil, start)
		e.finishLiquidation(res)
		if res.Uncovered > 0 {
			return res, ErrInsufficientInsuranceFunds
		}
		return res, nil
	}

	e.observeAttempt(ErrCommitContention, start)
	return nil, fmt.Errorf("position %s: %w", positionAddr, ErrCommitContention)
}

// liquidateOnce performs one read-settle-commit pass. A returned
// store.ErrVersionConflict means the pass must be retried from scratch.
func (e *Engine) liquidateOnce(
	ctx context.Context,
	positionAddr, liquidator derive.Address,
	oraclePrice int64,
) (*LiquidationResult, error) {
	posRec, err := e.store.Get(ctx, positionAddr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read position: %w", err)
	}
	pos, err := account.DecodePosition(posRec.Data)
	if err != nil {
		return nil, fmt.Errorf("record at %s: %w", positionAddr, ErrAccountMismatch)
	}
	// A forged or misplaced blob decodes fine but does not re-derive to
	// the address it sits at.
	if e.PositionAddress(pos.Owner, pos.Symbol) != positionAddr {
		return nil, fmt.Errorf("record at %s fails address re-derivation: %w",
			positionAddr, ErrAccountMismatch)
	}
	if !pos.IsOpen() {
		return nil, ErrAlreadyLiquidated
	}

	health, err := risk.Evaluate(pos, oraclePrice, e.params)
	if err != nil {
		return nil, fmt.Errorf("evaluate health: %w", err)
	}
	if !health.Liquidatable(e.params) {
		return nil, fmt.Errorf("health factor %d >= threshold %d: %w",
			health.Factor, e.params.LiquidationThreshold, ErrNotLiquidatable)
	}

	fundRec, err := e.store.Get(ctx, e.fund)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFundNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read fund: %w", err)
	}
	fund, err := account.DecodeInsuranceFund(fundRec.Data)
	if err != nil {
		return nil, fmt.Errorf("record at %s: %w", e.fund, ErrAccountMismatch)
	}

	res := &LiquidationResult{
		LiquidationID: uuid.New(),
		Position:      positionAddr,
		Owner:         pos.Owner,
		Liquidator:    liquidator,
		Symbol:        pos.Symbol,
		Size:          pos.Size,
		OraclePrice:   oraclePrice,
		HealthFactor:  health.Factor,
		Equity:        health.Equity,
		ExecutedAt:    e.now(),
	}
	settle(res, pos, fund, e.params)

	// Close the position in place. The record stays behind as an inert
	// tombstone; reopening the same (owner, symbol) updates it.
	pos.Size = 0
	pos.Collateral = 0
	pos.MaintenanceMargin = 0
	res.FundBalanceAfter = fund.Balance

	posData, err := pos.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode position: %w", err)
	}
	fundData, err := fund.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode fund: %w", err)
	}

	err = e.store.Commit(ctx, []store.Op{
		{Address: positionAddr, Data: posData, ExpectVersion: posRec.Version},
		{Address: e.fund, Data: fundData, ExpectVersion: fundRec.Version},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// settle splits the position's equity between owner, liquidator, and
// insurance fund. Solvent close: the liquidator fee comes out of equity,
// capped at the collateral and at the equity itself, and the owner gets
// the rest. Insolvent close: the shortfall is drawn from the fund,
// clamped at a zero balance, and the liquidator waives the fee.
func settle(res *LiquidationResult, pos *account.Position, fund *account.InsuranceFund, params risk.Params) {
	equity := res.Equity
	if equity >= 0 {
		fee := fpmath.ApplyRatio(pos.Collateral, params.LiquidatorFeeRatio)
		if fee > equity {
			fee = equity
		}
		if fee > pos.Collateral {
			fee = pos.Collateral
		}
		res.LiquidatorReward = fee
		res.OwnerPayout = equity - fee
		return
	}

	res.BadDebt = -equity
	res.Covered = res.BadDebt
	if res.Covered > fund.Balance {
		res.Covered = fund.Balance
	}
	res.Uncovered = res.BadDebt - res.Covered

	fund.Balance -= res.Covered
	fund.TotalBadDebtCovered += res.Covered
	fund.UtilizationRatio = fundUtilization(fund)
}

// fundUtilization is lifetime bad debt covered over lifetime
// contributions, at ratio scale. Display only.
func fundUtilization(fund *account.InsuranceFund) int64 {
	if fund.TotalContributions <= 0 {
		return 0
	}
	return fpmath.MulDiv(fund.TotalBadDebtCovered, fpmath.Scale, fund.TotalContributions)
}

func (e *Engine) finishLiquidation(res *LiquidationResult) {
	evt := e.log.Info()
	if res.Uncovered > 0 {
		evt = e.log.Warn()
	}
	evt.
		Str("liquidation_id", res.LiquidationID.String()).
		Str("position", res.Position.String()).
		Str("symbol", res.Symbol).
		Int64("oracle_price", res.OraclePrice).
		Int64("health_factor", res.HealthFactor).
		Int64("equity", res.Equity).
		Int64("owner_payout", res.OwnerPayout).
		Int64("liquidator_reward", res.LiquidatorReward).
		Int64("bad_debt", res.BadDebt).
		Int64("covered", res.Covered).
		Int64("uncovered", res.Uncovered).
		Int64("fund_balance_after", res.FundBalanceAfter).
		Msg("position liquidated")

	if e.metrics != nil {
		e.metrics.FundBalance.Set(fpmath.ToFloat(res.FundBalanceAfter))
		e.metrics.LiquidatorRewards.Add(fpmath.ToFloat(res.LiquidatorReward))
		e.metrics.BadDebtCovered.Add(fpmath.ToFloat(res.Covered))
		e.metrics.BadDebtUncovered.Add(fpmath.ToFloat(res.Uncovered))
	}

	e.emit(&event.LiquidationExecuted{
		LiquidationID:    res.LiquidationID,
		Position:         res.Position,
		Owner:            res.Owner,
		Liquidator:       res.Liquidator,
		Symbol:           res.Symbol,
		Size:             res.Size,
		OraclePrice:      res.OraclePrice,
		HealthFactor:     res.HealthFactor,
		OwnerPayout:      res.OwnerPayout,
		LiquidatorReward: res.LiquidatorReward,
		BadDebt:          res.BadDebt,
		CoveredByFund:    res.Covered,
		UncoveredDeficit: res.Uncovered,
		FundBalanceAfter: res.FundBalanceAfter,
		Timestamp:        res.ExecutedAt,
	})
}

func (e *Engine) observeAttempt(err error, start time.Time) {
	if e.metrics == nil {
		return
	}
	result := "executed"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyLiquidated):
		result = "already_liquidated"
	case errors.Is(err, ErrNotLiquidatable):
		result = "not_liquidatable"
	case errors.Is(err, ErrCommitContention):
		result = "conflict"
	default:
		result = "error"
	}
	e.metrics.LiquidationAttempts.WithLabelValues(result).Inc()
	if err == nil {
		e.metrics.LiquidationDuration.Observe(time.Since(start).Seconds())
	}
}

// Position reads and decodes one position record.
func (e *Engine) Position(ctx context.Context, addr derive.Address) (*account.Position, error) {
	rec, err := e.store.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	pos, err := account.DecodePosition(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("record at %s: %w", addr, ErrAccountMismatch)
	}
	return pos, nil
}

// Fund reads and decodes the insurance fund singleton.
func (e *Engine) Fund(ctx context.Context) (*account.InsuranceFund, error) {
	rec, err := e.store.Get(ctx, e.fund)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFundNotInitialized
	}
	if err != nil {
		return nil, err
	}
	fund, err := account.DecodeInsuranceFund(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("record at %s: %w", e.fund, ErrAccountMismatch)
	}
	return fund, nil
}

func (e *Engine) emit(evt event.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}
}
