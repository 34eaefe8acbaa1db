// Package repository holds the Postgres-backed ledger store.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"go.uber.org/zap"
)

// LedgerRepository implements ledger.Repository and ledger.OwnerLister on the
// pending_operations table.
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func NewLedgerRepository(db *sql.DB, logger *zap.SugaredLogger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *LedgerRepository) Get(ctx context.Context, key ledger.Key) ([]ledger.Entry, error) {
	query := `
		SELECT withdraw_hash, bundle_hash, recorded_at
		FROM pending_operations
		WHERE owner = $1 AND kind = $2
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, ownerKey(key.Owner), string(key.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			withdraw, bundle string
			recordedAt       sql.NullTime
		)
		if err := rows.Scan(&withdraw, &bundle, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		entry := ledger.Entry{
			WithdrawHash: common.HexToHash(withdraw),
			BundleHash:   common.HexToHash(bundle),
		}
		if recordedAt.Valid {
			entry.RecordedAt = recordedAt.Time.UTC()
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending operations: %w", err)
	}
	return entries, nil
}

// Put replaces the list for key in one transaction.
func (r *LedgerRepository) Put(ctx context.Context, key ledger.Key, entries []ledger.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	owner := ownerKey(key.Owner)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE owner = $1 AND kind = $2`,
		owner, string(key.Kind),
	); err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pending_operations (owner, kind, position, withdraw_hash, bundle_hash, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				owner,
				string(key.Kind),
				i,
				e.WithdrawHash.Hex(),
				e.BundleHash.Hex(),
				nullTime(e.RecordedAt),
			); err != nil {
				return fmt.Errorf("failed to insert pending operation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Stored pending operations", "owner", owner, "kind", key.Kind, "count", len(entries))
	return nil
}

func (r *LedgerRepository) Owners(ctx context.Context) ([]common.Address, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner FROM pending_operations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	var owners []common.Address
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, common.HexToAddress(owner))
	}
	return owners, rows.Err()
}

func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func ownerKey(addr common.Address) string {
	return addr.Hex()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
