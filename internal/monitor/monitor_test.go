package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"LiqGuard/internal/derive"
	"LiqGuard/internal/engine"
	"LiqGuard/internal/event"
	"LiqGuard/internal/oracle"
	"LiqGuard/internal/risk"
	"LiqGuard/internal/store"
	"LiqGuard/internal/testutil"
)

func newTestMonitor(t *testing.T, orc oracle.Oracle) (*Monitor, *engine.Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	program := derive.NewProgramID("liqguard-test")
	eng, err := engine.New(st, program, risk.DefaultParams(), zerolog.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	m, err := New(Config{Liquidator: testutil.Addr(0x55)}, st, eng, orc, nil, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	return m, eng, st
}

func seedScenario(t *testing.T, eng *engine.Engine, fundBalance int64) derive.Address {
	t.Helper()
	ctx := context.Background()
	if _, err := eng.InitializeInsuranceFund(ctx, testutil.Addr(0x77)); err != nil {
		t.Fatalf("initialize fund: %v", err)
	}
	if fundBalance > 0 {
		if _, err := eng.ContributeToFund(ctx, fundBalance); err != nil {
			t.Fatalf("contribute: %v", err)
		}
	}
	addr, _, err := eng.OpenPosition(ctx,
		testutil.Addr(0x11), "SOL-PERP", 100_000_000, 1_000_000_000, 20_000_000, 2)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return addr
}

// ============================================================
// Scan cycle
// ============================================================

func TestRunCycle_LiquidatesUnderwater(t *testing.T) {
	orc := oracle.NewMockOracle(map[string]int64{"SOL-PERP": 20_000_000}, 1)
	m, eng, _ := newTestMonitor(t, orc)
	addr := seedScenario(t, eng, 200_000_000)

	orc.SetPrice("SOL-PERP", 9_000_000)
	m.runCycle(context.Background())

	pos, err := eng.Position(context.Background(), addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if pos.IsOpen() {
		t.Error("underwater position survived the cycle")
	}

	fund, err := eng.Fund(context.Background())
	if err != nil {
		t.Fatalf("read fund: %v", err)
	}
	if fund.TotalBadDebtCovered != 100_000_000 {
		t.Errorf("fund covered %d, want 100_000_000", fund.TotalBadDebtCovered)
	}
}

func TestRunCycle_LeavesHealthyAlone(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	m, eng, _ := newTestMonitor(t, orc)
	addr := seedScenario(t, eng, 200_000_000)

	orc.SetPrice("SOL-PERP", 20_000_000)
	m.runCycle(context.Background())

	pos, err := eng.Position(context.Background(), addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if !pos.IsOpen() {
		t.Error("healthy position was liquidated")
	}
}

func TestRunCycle_SkipsSymbolOnOracleFailure(t *testing.T) {
	// The oracle knows no symbols at all: every fetch fails.
	orc := oracle.NewMockOracle(nil, 1)
	m, eng, _ := newTestMonitor(t, orc)
	addr := seedScenario(t, eng, 200_000_000)

	m.runCycle(context.Background())

	pos, err := eng.Position(context.Background(), addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if !pos.IsOpen() {
		t.Error("position liquidated without a price")
	}
}

func TestRunCycle_SkipsForeignAndInertRecords(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	m, eng, st := newTestMonitor(t, orc)
	ctx := context.Background()
	addr := seedScenario(t, eng, 200_000_000)

	// Plant a blob no discriminator matches. The scanner must step over
	// it without aborting the cycle.
	err := st.Commit(ctx, []store.Op{
		{Address: testutil.Addr(0xEE), Data: []byte("not an account record")},
	})
	if err != nil {
		t.Fatalf("plant blob: %v", err)
	}

	orc.SetPrice("SOL-PERP", 9_000_000)
	m.runCycle(ctx)

	pos, err := eng.Position(ctx, addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if pos.IsOpen() {
		t.Error("foreign blob aborted the cycle before the position")
	}

	// Next cycle sees the now-inert record plus the foreign blob and
	// still completes.
	m.runCycle(ctx)
}

func TestRunCycle_CooldownSuppressesRetry(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	m, eng, _ := newTestMonitor(t, orc)
	ctx := context.Background()
	addr := seedScenario(t, eng, 200_000_000)

	orc.SetPrice("SOL-PERP", 9_000_000)
	m.runCycle(ctx)

	if _, ok := m.cooldown.Get(addr); !ok {
		t.Fatal("liquidated address not in cooldown")
	}

	// Reopen at the same address while the cooldown holds: the scanner
	// must not touch it this cycle even though the price says liquidate.
	_, _, err := eng.OpenPosition(ctx,
		testutil.Addr(0x11), "SOL-PERP", 100_000_000, 1_000_000_000, 20_000_000, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	m.runCycle(ctx)
	pos, err := eng.Position(ctx, addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if !pos.IsOpen() {
		t.Error("cooldown did not suppress the follow-up attempt")
	}

	// Expire the cooldown; the next cycle takes the position down.
	m.cooldown.Add(addr, time.Now().Add(-m.cfg.CooldownTTL-time.Second))
	m.runCycle(ctx)
	pos, err = eng.Position(ctx, addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if pos.IsOpen() {
		t.Error("expired cooldown still suppressed liquidation")
	}
}

func TestRunCycle_ContextCancelled(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	m, eng, _ := newTestMonitor(t, orc)
	addr := seedScenario(t, eng, 200_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orc.SetPrice("SOL-PERP", 9_000_000)
	m.runCycle(ctx)

	pos, err := eng.Position(context.Background(), addr)
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	if !pos.IsOpen() {
		t.Error("cancelled cycle still liquidated")
	}
}

// ============================================================
// Fund watcher
// ============================================================

func TestFundWatcher_NotifiesOnDelta(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	_, eng, _ := newTestMonitor(t, orc)
	ctx := context.Background()
	if _, err := eng.InitializeInsuranceFund(ctx, testutil.Addr(0x77)); err != nil {
		t.Fatalf("initialize fund: %v", err)
	}

	var notified []*event.FundBalanceChanged
	w := NewFundWatcher(eng, nil, func(evt event.Event) {
		if e, ok := evt.(*event.FundBalanceChanged); ok {
			notified = append(notified, e)
		}
	}, zerolog.Nop(), nil, time.Second, 0)

	// First poll establishes the baseline without notifying.
	w.poll(ctx)
	if len(notified) != 0 {
		t.Fatalf("baseline poll notified %d times", len(notified))
	}

	if _, err := eng.ContributeToFund(ctx, 75_000_000); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	w.poll(ctx)

	if len(notified) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notified))
	}
	if notified[0].Delta != 75_000_000 || notified[0].Balance != 75_000_000 {
		t.Errorf("notification fields: %+v", notified[0])
	}
	if notified[0].Reason != "observed_delta" {
		t.Errorf("reason %q, want observed_delta", notified[0].Reason)
	}

	// No movement, no notification.
	w.poll(ctx)
	if len(notified) != 1 {
		t.Errorf("idle poll notified again, total %d", len(notified))
	}
}

func TestFundWatcher_UninitializedFund(t *testing.T) {
	orc := oracle.NewMockOracle(nil, 1)
	_, eng, _ := newTestMonitor(t, orc)

	w := NewFundWatcher(eng, nil, func(event.Event) {
		t.Error("notified with no fund present")
	}, zerolog.Nop(), nil, time.Second, 0)

	w.poll(context.Background())
}
