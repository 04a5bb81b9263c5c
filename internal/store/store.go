// Package store provides the account storage substrate. The engine never
// touches a database directly: it reads records and commits batches of
// conditional writes through the Store interface, and the substrate
// guarantees per-address serialization via versioned compare-and-swap.
package store

import (
	"context"
	"errors"

	"LiqGuard/internal/derive"
)

var (
	// ErrNotFound is returned when no record exists at an address.
	ErrNotFound = errors.New("account not found")

	// ErrAlreadyExists is returned by a create op against an occupied
	// address.
	ErrAlreadyExists = errors.New("account already exists")

	// ErrVersionConflict is returned when a CAS update loses a race:
	// another writer committed against the same record first. Callers
	// re-read and re-decide; the store never applies a stale write.
	ErrVersionConflict = errors.New("account version conflict")
)

// Record is a stored account blob. Version starts at 1 on create and
// increments on every committed update.
type Record struct {
	Address derive.Address
	Data    []byte
	Version int64
}

// Op is one conditional write. ExpectVersion == 0 creates the record and
// fails with ErrAlreadyExists if the address is occupied; ExpectVersion >
// 0 replaces the record only if its current version matches, failing with
// ErrVersionConflict otherwise.
type Op struct {
	Address       derive.Address
	Data          []byte
	ExpectVersion int64
}

// Store is the account storage substrate.
//
// Commit applies all ops atomically: either every op lands or none do. A
// partially applied batch must never be observable by a subsequent Get or
// Scan. This is the mechanism that keeps a liquidation's position write
// and insurance fund write inseparable.
type Store interface {
	Get(ctx context.Context, addr derive.Address) (Record, error)
	Commit(ctx context.Context, ops []Op) error

	// Scan visits every stored record in address order. The callback
	// returning an error aborts the scan with that error.
	Scan(ctx context.Context, fn func(Record) error) error
}
