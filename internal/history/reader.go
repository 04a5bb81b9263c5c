package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Reader serves the status API's history queries.
type Reader struct {
	db      *sql.DB
	timeout time.Duration
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db, timeout: 5 * time.Second}
}

const liquidationColumns = `id, position_addr, owner, liquidator, symbol, size,
	oracle_price, health_factor, equity, owner_payout, liquidator_reward,
	bad_debt, covered, uncovered, fund_balance_after, executed_at`

// RecentLiquidations returns the latest liquidations, newest first.
func (r *Reader) RecentLiquidations(ctx context.Context, limit int) ([]LiquidationRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM liq.liquidations ORDER BY executed_at DESC LIMIT $1`,
		liquidationColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

// LiquidationsByOwner returns an owner's liquidations, newest first.
func (r *Reader) LiquidationsByOwner(ctx context.Context, owner string, limit int) ([]LiquidationRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM liq.liquidations WHERE owner = $1 ORDER BY executed_at DESC LIMIT $2`,
		liquidationColumns), owner, limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidations by owner: %w", err)
	}
	defer rows.Close()
	return scanLiquidations(rows)
}

func scanLiquidations(rows *sql.Rows) ([]LiquidationRow, error) {
	var out []LiquidationRow
	for rows.Next() {
		var l LiquidationRow
		if err := rows.Scan(
			&l.ID, &l.PositionAddr, &l.Owner, &l.Liquidator, &l.Symbol,
			&l.Size, &l.OraclePrice, &l.HealthFactor, &l.Equity,
			&l.OwnerPayout, &l.LiquidatorReward, &l.BadDebt,
			&l.Covered, &l.Uncovered, &l.FundBalanceAfter, &l.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan liquidation: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FundTransactions returns the latest fund transactions, newest first.
func (r *Reader) FundTransactions(ctx context.Context, limit int) ([]FundTransactionRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fund_addr, delta, balance_after, reason, ref_id, occurred_at
		 FROM liq.fund_transactions ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fund transactions: %w", err)
	}
	defer rows.Close()

	var out []FundTransactionRow
	for rows.Next() {
		var t FundTransactionRow
		if err := rows.Scan(
			&t.ID, &t.FundAddr, &t.Delta, &t.BalanceAfter, &t.Reason,
			&t.RefID, &t.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan fund transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
