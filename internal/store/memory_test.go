package store_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"LiqGuard/internal/derive"
	"LiqGuard/internal/store"
	"LiqGuard/internal/testutil"
)

// ============================================================
// Create and read
// ============================================================

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	addr := testutil.Addr(0x01)

	err := s.Commit(ctx, []store.Op{{Address: addr, Data: []byte("v1"), ExpectVersion: 0}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Data) != "v1" {
		t.Errorf("data %q, want %q", rec.Data, "v1")
	}
	if rec.Version != 1 {
		t.Errorf("version %d, want 1", rec.Version)
	}
	if rec.Address != addr {
		t.Errorf("address %s, want %s", rec.Address, addr)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.Get(context.Background(), testutil.Addr(0x01)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CreateOverExisting(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	addr := testutil.Addr(0x01)

	mustCreate(t, s, addr, "v1")
	err := s.Commit(ctx, []store.Op{{Address: addr, Data: []byte("v2"), ExpectVersion: 0}})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("got %v, want ErrAlreadyExists", err)
	}

	rec, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Data) != "v1" {
		t.Errorf("failed create mutated data to %q", rec.Data)
	}
}

// ============================================================
// Versioned updates
// ============================================================

func TestMemoryStore_VersionedUpdate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	addr := testutil.Addr(0x01)
	mustCreate(t, s, addr, "v1")

	err := s.Commit(ctx, []store.Op{{Address: addr, Data: []byte("v2"), ExpectVersion: 1}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Data) != "v2" || rec.Version != 2 {
		t.Errorf("got %q v%d, want %q v2", rec.Data, rec.Version, "v2")
	}

	// Replaying the same expected version must lose.
	err = s.Commit(ctx, []store.Op{{Address: addr, Data: []byte("v3"), ExpectVersion: 1}})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("stale update: got %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := store.NewMemoryStore()
	err := s.Commit(context.Background(), []store.Op{
		{Address: testutil.Addr(0x01), Data: []byte("v1"), ExpectVersion: 1},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// ============================================================
// Batch atomicity
// ============================================================

func TestMemoryStore_BatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a, b := testutil.Addr(0x01), testutil.Addr(0x02)
	mustCreate(t, s, a, "a1")
	mustCreate(t, s, b, "b1")

	// Second op carries a stale version: neither write may land.
	err := s.Commit(ctx, []store.Op{
		{Address: a, Data: []byte("a2"), ExpectVersion: 1},
		{Address: b, Data: []byte("b2"), ExpectVersion: 99},
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("got %v, want ErrVersionConflict", err)
	}

	recA, err := s.Get(ctx, a)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if string(recA.Data) != "a1" || recA.Version != 1 {
		t.Errorf("first op leaked through failed batch: %q v%d", recA.Data, recA.Version)
	}
}

func TestMemoryStore_BatchTwoWrites(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a, b := testutil.Addr(0x01), testutil.Addr(0x02)
	mustCreate(t, s, a, "a1")
	mustCreate(t, s, b, "b1")

	err := s.Commit(ctx, []store.Op{
		{Address: a, Data: []byte("a2"), ExpectVersion: 1},
		{Address: b, Data: []byte("b2"), ExpectVersion: 1},
	})
	if err != nil {
		t.Fatalf("batch commit: %v", err)
	}

	for _, tt := range []struct {
		addr derive.Address
		want string
	}{{a, "a2"}, {b, "b2"}} {
		rec, err := s.Get(ctx, tt.addr)
		if err != nil {
			t.Fatalf("get %s: %v", tt.addr, err)
		}
		if string(rec.Data) != tt.want || rec.Version != 2 {
			t.Errorf("%s: got %q v%d, want %q v2", tt.addr, rec.Data, rec.Version, tt.want)
		}
	}
}

// ============================================================
// Scan
// ============================================================

func TestMemoryStore_ScanOrder(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	tags := []byte{0x30, 0x05, 0x91, 0x4A}
	want := make([]string, 0, len(tags))
	for _, tag := range tags {
		addr := testutil.Addr(tag)
		mustCreate(t, s, addr, "x")
		want = append(want, addr.String())
	}
	sort.Strings(want)

	var got []string
	err := s.Scan(ctx, func(rec store.Record) error {
		got = append(got, rec.Address.String())
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("scanned %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemoryStore_ScanCallbackError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mustCreate(t, s, testutil.Addr(0x01), "x")
	mustCreate(t, s, testutil.Addr(0x02), "x")

	sentinel := errors.New("stop here")
	visited := 0
	err := s.Scan(ctx, func(store.Record) error {
		visited++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want the callback error", err)
	}
	if visited != 1 {
		t.Errorf("callback ran %d times after erroring, want 1", visited)
	}
}

func TestMemoryStore_ScanCancelled(t *testing.T) {
	s := store.NewMemoryStore()
	mustCreate(t, s, testutil.Addr(0x01), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Scan(ctx, func(store.Record) error {
		t.Error("callback ran under a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	addr := testutil.Addr(0x01)
	mustCreate(t, s, addr, "aa")

	rec, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec.Data[0] = 'z'

	again, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again.Data) != "aa" {
		t.Errorf("caller mutation leaked into the store: %q", again.Data)
	}
}

func mustCreate(t *testing.T, s store.Store, addr derive.Address, data string) {
	t.Helper()
	err := s.Commit(context.Background(), []store.Op{
		{Address: addr, Data: []byte(data), ExpectVersion: 0},
	})
	if err != nil {
		t.Fatalf("create %s: %v", addr, err)
	}
}
