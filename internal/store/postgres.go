package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"LiqGuard/internal/derive"
)

// PostgresStore persists account records in the accounts table. Optimistic
// concurrency: every row carries a version and updates guard on it, so two
// racing liquidators cannot both commit against the same record. Commit
// runs inside a single transaction, which gives the all-or-nothing
// guarantee across the position and fund rows.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) Get(ctx context.Context, addr derive.Address) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var data []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM liq.accounts WHERE address = $1`,
		addr.String(),
	).Scan(&data, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", addr, err)
	}

	return Record{Address: addr, Data: data, Version: version}, nil
}

func (s *PostgresStore) Commit(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if op.ExpectVersion == 0 {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO liq.accounts (address, data, version, updated_at)
				 VALUES ($1, $2, 1, now())
				 ON CONFLICT (address) DO NOTHING`,
				op.Address.String(), op.Data,
			)
			if err != nil {
				return fmt.Errorf("create %s: %w", op.Address, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("create %s: %w", op.Address, ErrAlreadyExists)
			}
			continue
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE liq.accounts
			 SET data = $2, version = version + 1, updated_at = now()
			 WHERE address = $1 AND version = $3`,
			op.Address.String(), op.Data, op.ExpectVersion,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Address, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Distinguish a lost race from a missing row.
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT true FROM liq.accounts WHERE address = $1`,
				op.Address.String(),
			).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update %s: %w", op.Address, ErrNotFound)
			}
			return fmt.Errorf("update %s: %w", op.Address, ErrVersionConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, data, version FROM liq.accounts ORDER BY address`)
	if err != nil {
		return fmt.Errorf("scan accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addrStr string
		var data []byte
		var version int64
		if err := rows.Scan(&addrStr, &data, &version); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		addr, err := derive.ParseAddress(addrStr)
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		if err := fn(Record{Address: addr, Data: data, Version: version}); err != nil {
			return err
		}
	}

	return rows.Err()
}
