/**
 * @description
 * This file implements the Postgres-backed ledger repository. Each
 * (account, chain) ledger is stored as one JSONB document in a single row,
 * so every mutation is the same whole-ledger read-modify-write the in-memory
 * backend performs. Last writer wins, which is acceptable because the ledger is a
 * cache over the chain, not the source of truth.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/w3hc/vault-relay/internal/domain"
)

// PostgresRepository persists ledgers in the relay_ledgers table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a repository on top of an existing pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger table when it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_ledgers (
			account       TEXT        NOT NULL,
			chain_id      BIGINT      NOT NULL,
			vault_address TEXT        NOT NULL DEFAULT '',
			records       JSONB       NOT NULL DEFAULT '[]',
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account, chain_id)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure relay_ledgers schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) load(ctx context.Context, account string, chainID int64) (*domain.Ledger, error) {
	normalized := strings.ToLower(strings.TrimSpace(account))

	var vaultAddress string
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT vault_address, records FROM relay_ledgers WHERE account = $1 AND chain_id = $2`,
		normalized, chainID,
	).Scan(&vaultAddress, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	ledger := &domain.Ledger{Account: normalized, ChainID: chainID, VaultAddress: vaultAddress}
	if err := json.Unmarshal(raw, &ledger.Records); err != nil {
		return nil, fmt.Errorf("failed to decode ledger records: %w", err)
	}
	return ledger, nil
}

func (r *PostgresRepository) save(ctx context.Context, ledger *domain.Ledger) error {
	raw, err := json.Marshal(ledger.Records)
	if err != nil {
		return fmt.Errorf("failed to encode ledger records: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO relay_ledgers (account, chain_id, vault_address, records, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account, chain_id)
		DO UPDATE SET vault_address = EXCLUDED.vault_address, records = EXCLUDED.records, updated_at = now()`,
		strings.ToLower(strings.TrimSpace(ledger.Account)), ledger.ChainID, ledger.VaultAddress, raw)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// Upsert applies the replace-by-id-else-prepend rule and the cap, rewriting
// the whole ledger document.
func (r *PostgresRepository) Upsert(ctx context.Context, account string, chainID int64, record domain.TransactionRecord) error {
	ledger, err := r.load(ctx, account, chainID)
	if err != nil {
		return err
	}
	if ledger == nil {
		ledger = &domain.Ledger{Account: account, ChainID: chainID}
	}

	ledger.Records = upsertRecord(ledger.Records, record)
	if ledger.VaultAddress == "" {
		ledger.VaultAddress = vaultAddressOf(record)
	}
	return r.save(ctx, ledger)
}

// Get returns the stored records, applying the safe-address filter.
func (r *PostgresRepository) Get(ctx context.Context, account string, chainID int64, filterBySafeAddress string) ([]domain.TransactionRecord, error) {
	ledger, err := r.load(ctx, account, chainID)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, nil
	}
	if filterBySafeAddress != "" && !domain.SameAddress(ledger.VaultAddress, filterBySafeAddress) {
		return nil, nil
	}
	return ledger.Records, nil
}

// Prune removes records superseded by authoritative history.
func (r *PostgresRepository) Prune(ctx context.Context, account string, chainID int64, confirmed map[string]struct{}) (int, error) {
	ledger, err := r.load(ctx, account, chainID)
	if err != nil {
		return 0, err
	}
	if ledger == nil {
		return 0, nil
	}

	kept, removed := pruneRecords(ledger.Records, confirmed)
	if removed == 0 {
		return 0, nil
	}
	ledger.Records = kept
	return removed, r.save(ctx, ledger)
}
