// Package monitor runs the off-chain polling loops: the position scanner
// that finds and liquidates underwater positions, and the insurance fund
// watcher that tracks the fund's balance. Both are stateless between
// cycles; every pass re-reads the store, so a restarted monitor resumes
// with no recovery step.
package monitor

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LiqGuard/internal/account"
	"LiqGuard/internal/derive"
	"LiqGuard/internal/engine"
	"LiqGuard/internal/history"
	fpmath "LiqGuard/internal/math"
	"LiqGuard/internal/observability"
	"LiqGuard/internal/oracle"
	"LiqGuard/internal/risk"
	"LiqGuard/internal/store"
)

// Config tunes the scan loop.
type Config struct {
	// Interval between scan cycles.
	Interval time.Duration

	// OracleTimeout bounds each price fetch.
	OracleTimeout time.Duration

	// CooldownTTL suppresses re-attempts against an address right after a
	// liquidation, while racing monitors and the store converge.
	CooldownTTL time.Duration

	// CooldownSize caps the cooldown cache.
	CooldownSize int

	// WarnBandRatio widens the liquidation threshold into an early
	// warning band: positions with health below threshold * ratio get a
	// risk alert before they are liquidatable. Ratio scale, 1.1 default.
	WarnBandRatio int64

	// Liquidator identifies this monitor as the acting liquidator.
	Liquidator derive.Address
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 1 * time.Second
	}
	if c.CooldownTTL <= 0 {
		c.CooldownTTL = 10 * time.Second
	}
	if c.CooldownSize <= 0 {
		c.CooldownSize = 4096
	}
	if c.WarnBandRatio <= 0 {
		c.WarnBandRatio = 1_100_000
	}
}

// Monitor is the position scanner.
type Monitor struct {
	cfg      Config
	store    store.Store
	engine   *engine.Engine
	oracle   oracle.Oracle
	history  *history.Writer // nil without Postgres
	log      zerolog.Logger
	metrics  *observability.Metrics
	cooldown *lru.Cache[derive.Address, time.Time]
}

// New builds a monitor. history and metrics may be nil.
func New(
	cfg Config,
	st store.Store,
	eng *engine.Engine,
	orc oracle.Oracle,
	hist *history.Writer,
	log zerolog.Logger,
	metrics *observability.Metrics,
) (*Monitor, error) {
	cfg.applyDefaults()
	cooldown, err := lru.New[derive.Address, time.Time](cfg.CooldownSize)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:      cfg,
		store:    st,
		engine:   eng,
		oracle:   orc,
		history:  hist,
		log:      log,
		metrics:  metrics,
		cooldown: cooldown,
	}, nil
}

// Run scans until ctx is cancelled. The first cycle starts immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().
		Dur("interval", m.cfg.Interval).
		Str("liquidator", m.cfg.Liquidator.String()).
		Msg("position monitor started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.runCycle(ctx)

		select {
		case <-ctx.Done():
			m.log.Info().Msg("position monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle walks every stored record once. One bad position never aborts
// the cycle; one bad cycle never aborts the loop.
func (m *Monitor) runCycle(ctx context.Context) {
	start := time.Now()

	// Prices are fetched once per symbol per cycle, so every position in
	// a symbol is judged against the same price.
	prices := make(map[string]int64)
	failedSymbols := make(map[string]bool)

	err := m.store.Scan(ctx, func(rec store.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.examine(ctx, rec, prices, failedSymbols)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error().Err(err).Msg("scan failed")
		if m.metrics != nil {
			m.metrics.StoreErrors.WithLabelValues("scan").Inc()
		}
		return
	}

	if m.metrics != nil {
		m.metrics.ScanCycles.Inc()
		m.metrics.ScanCycleDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Monitor) examine(ctx context.Context, rec store.Record, prices map[string]int64, failedSymbols map[string]bool) {
	decoded, err := account.DecodeAny(rec.Data)
	if err != nil {
		// Foreign or corrupt blob. Not ours to touch.
		m.log.Debug().Str("address", rec.Address.String()).Err(err).Msg("skipping undecodable record")
		m.countOutcome("undecodable")
		return
	}
	if decoded.Kind != account.KindPosition {
		return
	}
	pos := decoded.Position
	if !pos.IsOpen() {
		m.countOutcome("inert")
		return
	}

	if until, ok := m.cooldown.Get(rec.Address); ok {
		if time.Since(until) < m.cfg.CooldownTTL {
			return
		}
		m.cooldown.Remove(rec.Address)
	}

	price, ok := m.priceFor(ctx, pos.Symbol, prices, failedSymbols)
	if !ok {
		return
	}

	health, err := risk.Evaluate(pos, price, m.engine.Params())
	if err != nil {
		m.log.Warn().Str("address", rec.Address.String()).Err(err).Msg("health evaluation failed")
		if m.metrics != nil {
			m.metrics.ScanErrors.WithLabelValues("evaluate").Inc()
		}
		return
	}

	threshold := m.engine.Params().LiquidationThreshold
	switch {
	case health.Liquidatable(m.engine.Params()):
		m.countOutcome("liquidatable")
		m.liquidate(ctx, rec.Address, pos, price, health)

	case health.Factor < fpmath.MulDiv(threshold, m.cfg.WarnBandRatio, fpmath.Scale):
		m.countOutcome("warning")
		m.log.Warn().
			Str("address", rec.Address.String()).
			Str("owner", pos.Owner.String()).
			Str("symbol", pos.Symbol).
			Int64("health_factor", health.Factor).
			Int64("threshold", threshold).
			Int64("oracle_price", price).
			Msg("position approaching liquidation")

	default:
		m.countOutcome("healthy")
	}
}

func (m *Monitor) priceFor(ctx context.Context, symbol string, prices map[string]int64, failedSymbols map[string]bool) (int64, bool) {
	if p, ok := prices[symbol]; ok {
		return p, true
	}
	if failedSymbols[symbol] {
		return 0, false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.OracleTimeout)
	defer cancel()

	start := time.Now()
	price, err := m.oracle.Price(fetchCtx, symbol)
	if m.metrics != nil {
		m.metrics.OracleLatency.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Skip the symbol for the whole cycle rather than judge some
		// of its positions on a price the rest never saw.
		failedSymbols[symbol] = true
		m.log.Warn().Str("symbol", symbol).Err(err).Msg("price fetch failed, skipping symbol this cycle")
		if m.metrics != nil {
			m.metrics.OracleFetches.WithLabelValues(symbol, fetchResult(err)).Inc()
			m.metrics.ScanErrors.WithLabelValues("oracle").Inc()
		}
		return 0, false
	}

	prices[symbol] = price
	if m.metrics != nil {
		m.metrics.OracleFetches.WithLabelValues(symbol, "ok").Inc()
	}
	return price, true
}

func fetchResult(err error) string {
	if errors.Is(err, oracle.ErrStalePrice) {
		return "stale"
	}
	return "error"
}

func (m *Monitor) liquidate(ctx context.Context, addr derive.Address, pos *account.Position, price int64, health risk.Health) {
	res, err := m.engine.LiquidateFull(ctx, addr, m.engine.FundAddress(), m.cfg.Liquidator, price)

	switch {
	case err == nil || errors.Is(err, engine.ErrInsufficientInsuranceFunds):
		m.cooldown.Add(addr, time.Now())
		m.recordLiquidation(ctx, res)

	case errors.Is(err, engine.ErrAlreadyLiquidated):
		// Another liquidator won the race. Normal.
		m.cooldown.Add(addr, time.Now())
		m.log.Debug().Str("address", addr.String()).Msg("position already liquidated")

	case errors.Is(err, engine.ErrNotLiquidatable):
		// Price moved between our evaluation and the engine's re-read.
		m.log.Debug().Str("address", addr.String()).Msg("position recovered before liquidation")

	case errors.Is(err, engine.ErrCommitContention):
		m.log.Debug().Str("address", addr.String()).Msg("commit contention, retrying next cycle")

	default:
		m.log.Error().
			Str("address", addr.String()).
			Str("symbol", pos.Symbol).
			Int64("health_factor", health.Factor).
			Err(err).
			Msg("liquidation failed")
		if m.metrics != nil {
			m.metrics.ScanErrors.WithLabelValues("liquidate").Inc()
		}
		m.recordFailure(ctx, addr, pos, price, err)
	}
}

func (m *Monitor) recordLiquidation(ctx context.Context, res *engine.LiquidationResult) {
	if m.history == nil || res == nil {
		return
	}
	row := history.LiquidationRow{
		ID:               res.LiquidationID,
		PositionAddr:     res.Position.String(),
		Owner:            res.Owner.String(),
		Liquidator:       res.Liquidator.String(),
		Symbol:           res.Symbol,
		Size:             res.Size,
		OraclePrice:      res.OraclePrice,
		HealthFactor:     res.HealthFactor,
		Equity:           res.Equity,
		OwnerPayout:      res.OwnerPayout,
		LiquidatorReward: res.LiquidatorReward,
		BadDebt:          res.BadDebt,
		Covered:          res.Covered,
		Uncovered:        res.Uncovered,
		FundBalanceAfter: res.FundBalanceAfter,
		ExecutedAt:       res.ExecutedAt,
	}
	if err := m.history.RecordLiquidation(ctx, row); err != nil {
		m.log.Error().Err(err).Str("liquidation_id", res.LiquidationID.String()).Msg("history write failed")
	}

	if res.Covered > 0 {
		refID := res.LiquidationID
		tx := history.FundTransactionRow{
			ID:           uuid.New(),
			FundAddr:     m.engine.FundAddress().String(),
			Delta:        -res.Covered,
			BalanceAfter: res.FundBalanceAfter,
			Reason:       "bad_debt_cover",
			RefID:        &refID,
			OccurredAt:   res.ExecutedAt,
		}
		if err := m.history.RecordFundTransaction(ctx, tx); err != nil {
			m.log.Error().Err(err).Msg("fund transaction write failed")
		}
	}
}

func (m *Monitor) recordFailure(ctx context.Context, addr derive.Address, pos *account.Position, price int64, cause error) {
	if m.history == nil {
		return
	}
	row := history.FailedAttemptRow{
		ID:           uuid.New(),
		PositionAddr: addr.String(),
		Symbol:       pos.Symbol,
		OraclePrice:  price,
		Reason:       cause.Error(),
		AttemptedAt:  time.Now(),
	}
	if err := m.history.RecordFailedAttempt(ctx, row); err != nil {
		m.log.Error().Err(err).Msg("failed attempt write failed")
	}
}

func (m *Monitor) countOutcome(outcome string) {
	if m.metrics != nil {
		m.metrics.ScanPositions.WithLabelValues(outcome).Inc()
	}
}
