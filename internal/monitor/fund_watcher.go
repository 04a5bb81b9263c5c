package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LiqGuard/internal/engine"
	"LiqGuard/internal/event"
	"LiqGuard/internal/history"
	fpmath "LiqGuard/internal/math"
	"LiqGuard/internal/observability"
)

// FundWatcher observes the insurance fund on a slower cadence than the
// position scanner. It records balance deltas to history, keeps the fund
// gauges current, and alerts when the balance drops below the watermark.
type FundWatcher struct {
	engine  *engine.Engine
	history *history.Writer // nil without Postgres
	notify  func(event.Event)
	log     zerolog.Logger
	metrics *observability.Metrics

	interval     time.Duration
	lowWatermark int64

	lastBalance int64
	seen        bool
}

// NewFundWatcher builds a watcher. notify, history, and metrics may be
// nil. lowWatermark is 6-decimal USDC; zero disables the alert.
func NewFundWatcher(
	eng *engine.Engine,
	hist *history.Writer,
	notify func(event.Event),
	log zerolog.Logger,
	metrics *observability.Metrics,
	interval time.Duration,
	lowWatermark int64,
) *FundWatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &FundWatcher{
		engine:       eng,
		history:      hist,
		notify:       notify,
		log:          log,
		metrics:      metrics,
		interval:     interval,
		lowWatermark: lowWatermark,
	}
}

// Run polls until ctx is cancelled.
func (w *FundWatcher) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("insurance fund watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("insurance fund watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *FundWatcher) poll(ctx context.Context) {
	fund, err := w.engine.Fund(ctx)
	if errors.Is(err, engine.ErrFundNotInitialized) {
		w.log.Debug().Msg("insurance fund not initialized yet")
		return
	}
	if err != nil {
		w.log.Error().Err(err).Msg("fund read failed")
		return
	}

	if w.metrics != nil {
		w.metrics.FundBalance.Set(fpmath.ToFloat(fund.Balance))
		w.metrics.FundUtilization.Set(fpmath.ToFloat(fund.UtilizationRatio))
	}

	if w.seen && fund.Balance != w.lastBalance {
		delta := fund.Balance - w.lastBalance
		w.log.Info().
			Int64("balance", fund.Balance).
			Int64("delta", delta).
			Msg("insurance fund balance changed")

		now := time.Now()
		if w.history != nil {
			tx := history.FundTransactionRow{
				ID:           uuid.New(),
				FundAddr:     w.engine.FundAddress().String(),
				Delta:        delta,
				BalanceAfter: fund.Balance,
				Reason:       "observed_delta",
				OccurredAt:   now,
			}
			if err := w.history.RecordFundTransaction(ctx, tx); err != nil {
				w.log.Error().Err(err).Msg("fund transaction write failed")
			}
		}
		if w.notify != nil {
			w.notify(&event.FundBalanceChanged{
				Address:   w.engine.FundAddress(),
				Balance:   fund.Balance,
				Delta:     delta,
				Reason:    "observed_delta",
				Timestamp: now,
			})
		}
	}

	if w.lowWatermark > 0 && fund.Balance < w.lowWatermark {
		w.log.Warn().
			Int64("balance", fund.Balance).
			Int64("watermark", w.lowWatermark).
			Msg("insurance fund below low watermark")
	}

	w.lastBalance = fund.Balance
	w.seen = true
}
