package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"LiqGuard/internal/history"
	"LiqGuard/internal/testutil"
)

// Integration coverage for the audit trail. Skipped when no test
// database is reachable.

func liquidationRow(executedAt time.Time) history.LiquidationRow {
	return history.LiquidationRow{
		ID:               uuid.New(),
		PositionAddr:     testutil.Addr(0x11).String(),
		Owner:            testutil.Addr(0x22).String(),
		Liquidator:       testutil.Addr(0x55).String(),
		Symbol:           "SOL-PERP",
		Size:             100_000_000,
		OraclePrice:      9_000_000,
		HealthFactor:     -4_444_444,
		Equity:           -100_000_000,
		BadDebt:          100_000_000,
		Covered:          100_000_000,
		FundBalanceAfter: 50_000_000,
		ExecutedAt:       executedAt,
	}
}

func TestWriter_LiquidationRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := history.NewWriter(db, nil)
	r := history.NewReader(db)

	row := liquidationRow(time.Now().UTC())
	if err := w.RecordLiquidation(ctx, row); err != nil {
		t.Fatalf("record: %v", err)
	}
	// A replayed write is a no-op, not a duplicate.
	if err := w.RecordLiquidation(ctx, row); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got, err := r.RecentLiquidations(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	l := got[0]
	if l.ID != row.ID || l.Symbol != row.Symbol || l.Owner != row.Owner {
		t.Errorf("identity fields: %+v", l)
	}
	if l.BadDebt != row.BadDebt || l.Covered != row.Covered || l.HealthFactor != row.HealthFactor {
		t.Errorf("settlement fields: %+v", l)
	}
}

func TestReader_LiquidationsByOwner(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := history.NewWriter(db, nil)
	r := history.NewReader(db)

	base := time.Now().UTC()
	mine := liquidationRow(base)
	other := liquidationRow(base.Add(time.Second))
	other.Owner = testutil.Addr(0x33).String()

	for _, row := range []history.LiquidationRow{mine, other} {
		if err := w.RecordLiquidation(ctx, row); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := r.LiquidationsByOwner(ctx, mine.Owner, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Errorf("owner filter returned %d rows: %+v", len(got), got)
	}

	all, err := r.RecentLiquidations(ctx, 10)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}
	// Newest first.
	if all[0].ID != other.ID {
		t.Errorf("ordering: first row %s, want %s", all[0].ID, other.ID)
	}
}

func TestWriter_FundTransactions(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := history.NewWriter(db, nil)
	r := history.NewReader(db)

	liq := liquidationRow(time.Now().UTC())
	if err := w.RecordLiquidation(ctx, liq); err != nil {
		t.Fatalf("record liquidation: %v", err)
	}

	refID := liq.ID
	tx := history.FundTransactionRow{
		ID:           uuid.New(),
		FundAddr:     testutil.Addr(0x99).String(),
		Delta:        -100_000_000,
		BalanceAfter: 50_000_000,
		Reason:       "bad_debt_cover",
		RefID:        &refID,
		OccurredAt:   time.Now().UTC(),
	}
	if err := w.RecordFundTransaction(ctx, tx); err != nil {
		t.Fatalf("record transaction: %v", err)
	}
	contribution := history.FundTransactionRow{
		ID:           uuid.New(),
		FundAddr:     tx.FundAddr,
		Delta:        150_000_000,
		BalanceAfter: 150_000_000,
		Reason:       "contribution",
		OccurredAt:   time.Now().UTC().Add(-time.Minute),
	}
	if err := w.RecordFundTransaction(ctx, contribution); err != nil {
		t.Fatalf("record contribution: %v", err)
	}

	got, err := r.FundTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].ID != tx.ID {
		t.Errorf("ordering: first row %s, want newest %s", got[0].ID, tx.ID)
	}
	if got[0].RefID == nil || *got[0].RefID != liq.ID {
		t.Errorf("ref id %v, want %s", got[0].RefID, liq.ID)
	}
	if got[1].RefID != nil {
		t.Errorf("contribution carries ref id %v", got[1].RefID)
	}
}

func TestWriter_FailedAttempt(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	w := history.NewWriter(db, nil)
	row := history.FailedAttemptRow{
		ID:           uuid.New(),
		PositionAddr: testutil.Addr(0x11).String(),
		Symbol:       "SOL-PERP",
		OraclePrice:  9_000_000,
		Reason:       "  read fund: connection refused  ",
		AttemptedAt:  time.Now().UTC(),
	}
	if err := w.RecordFailedAttempt(context.Background(), row); err != nil {
		t.Fatalf("record: %v", err)
	}

	var reason string
	err := db.QueryRow(`SELECT reason FROM liq.failed_attempts WHERE id = $1`, row.ID).Scan(&reason)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if reason != "read fund: connection refused" {
		t.Errorf("reason %q, want trimmed", reason)
	}
}
