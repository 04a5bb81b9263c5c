// Package history persists the audit trail to Postgres: executed
// liquidations, failed attempts, and insurance fund transactions. The
// account store is authoritative; history rows are derived and
// idempotent by id, so a replayed write is harmless.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"LiqGuard/internal/observability"
)

// LiquidationRow is a row in liq.liquidations.
type LiquidationRow struct {
	ID               uuid.UUID
	PositionAddr     string
	Owner            string
	Liquidator       string
	Symbol           string
	Size             int64
	OraclePrice      int64
	HealthFactor     int64
	Equity           int64
	OwnerPayout      int64
	LiquidatorReward int64
	BadDebt          int64
	Covered          int64
	Uncovered        int64
	FundBalanceAfter int64
	ExecutedAt       time.Time
}

// FundTransactionRow is a row in liq.fund_transactions.
type FundTransactionRow struct {
	ID           uuid.UUID
	FundAddr     string
	Delta        int64
	BalanceAfter int64
	Reason       string // contribution | bad_debt_cover | observed_delta
	RefID        *uuid.UUID
	OccurredAt   time.Time
}

// FailedAttemptRow is a row in liq.failed_attempts. Routine race outcomes
// (already liquidated, healthy again) are not recorded; only attempts
// that failed unexpectedly land here.
type FailedAttemptRow struct {
	ID           uuid.UUID
	PositionAddr string
	Symbol       string
	OraclePrice  int64
	Reason       string
	AttemptedAt  time.Time
}

// Writer writes history rows. Single-row inserts: liquidations arrive at
// human pace, not ingest pace, so there is nothing to batch.
type Writer struct {
	db      *sql.DB
	timeout time.Duration
	metrics *observability.Metrics
}

func NewWriter(db *sql.DB, metrics *observability.Metrics) *Writer {
	return &Writer{
		db:      db,
		timeout: 5 * time.Second,
		metrics: metrics,
	}
}

func (w *Writer) RecordLiquidation(ctx context.Context, row LiquidationRow) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.db.ExecContext(ctx, `INSERT INTO liq.liquidations
		(id, position_addr, owner, liquidator, symbol, size, oracle_price,
		 health_factor, equity, owner_payout, liquidator_reward, bad_debt,
		 covered, uncovered, fund_balance_after, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`,
		row.ID, row.PositionAddr, row.Owner, row.Liquidator, row.Symbol,
		row.Size, row.OraclePrice, row.HealthFactor, row.Equity,
		row.OwnerPayout, row.LiquidatorReward, row.BadDebt,
		row.Covered, row.Uncovered, row.FundBalanceAfter, row.ExecutedAt,
	)
	w.observe("liquidations", err)
	if err != nil {
		return fmt.Errorf("insert liquidation %s: %w", row.ID, err)
	}
	return nil
}

func (w *Writer) RecordFundTransaction(ctx context.Context, row FundTransactionRow) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.db.ExecContext(ctx, `INSERT INTO liq.fund_transactions
		(id, fund_addr, delta, balance_after, reason, ref_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		row.ID, row.FundAddr, row.Delta, row.BalanceAfter, row.Reason,
		row.RefID, row.OccurredAt,
	)
	w.observe("fund_transactions", err)
	if err != nil {
		return fmt.Errorf("insert fund transaction %s: %w", row.ID, err)
	}
	return nil
}

func (w *Writer) RecordFailedAttempt(ctx context.Context, row FailedAttemptRow) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.db.ExecContext(ctx, `INSERT INTO liq.failed_attempts
		(id, position_addr, symbol, oracle_price, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		row.ID, row.PositionAddr, row.Symbol, row.OraclePrice,
		sanitizeReason(row.Reason), row.AttemptedAt,
	)
	w.observe("failed_attempts", err)
	if err != nil {
		return fmt.Errorf("insert failed attempt %s: %w", row.ID, err)
	}
	return nil
}

func (w *Writer) observe(table string, err error) {
	if w.metrics == nil {
		return
	}
	if err != nil {
		w.metrics.HistoryErrors.WithLabelValues(table).Inc()
		return
	}
	w.metrics.HistoryWrites.WithLabelValues(table).Inc()
}

// sanitizeReason keeps reason strings to a bounded, indexable set.
func sanitizeReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > 256 {
		reason = reason[:256]
	}
	return reason
}
