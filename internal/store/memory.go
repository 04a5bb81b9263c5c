package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"LiqGuard/internal/derive"
)

// MemoryStore is an in-process Store used by tests and embedded runs.
// A single mutex serializes commits, which trivially satisfies the
// all-or-nothing contract.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[derive.Address]*memRecord
}

type memRecord struct {
	data    []byte
	version int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[derive.Address]*memRecord),
	}
}

func (s *MemoryStore) Get(_ context.Context, addr derive.Address) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accounts[addr]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", addr, ErrNotFound)
	}

	data := make([]byte, len(rec.data))
	copy(data, rec.data)
	return Record{Address: addr, Data: data, Version: rec.version}, nil
}

func (s *MemoryStore) Commit(_ context.Context, ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every precondition before mutating anything, so a failed
	// batch leaves the store untouched.
	for _, op := range ops {
		rec, exists := s.accounts[op.Address]
		if op.ExpectVersion == 0 {
			if exists {
				return fmt.Errorf("create %s: %w", op.Address, ErrAlreadyExists)
			}
			continue
		}
		if !exists {
			return fmt.Errorf("update %s: %w", op.Address, ErrNotFound)
		}
		if rec.version != op.ExpectVersion {
			return fmt.Errorf("update %s: have v%d, expected v%d: %w",
				op.Address, rec.version, op.ExpectVersion, ErrVersionConflict)
		}
	}

	for _, op := range ops {
		data := make([]byte, len(op.Data))
		copy(data, op.Data)

		if op.ExpectVersion == 0 {
			s.accounts[op.Address] = &memRecord{data: data, version: 1}
		} else {
			rec := s.accounts[op.Address]
			rec.data = data
			rec.version++
		}
	}

	return nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	snapshot := make([]Record, 0, len(s.accounts))
	for addr, rec := range s.accounts {
		data := make([]byte, len(rec.data))
		copy(data, rec.data)
		snapshot = append(snapshot, Record{Address: addr, Data: data, Version: rec.version})
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Address.String() < snapshot[j].Address.String()
	})

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
