/**
 * @description
 * This file implements the in-memory ledger repository: a mutex-guarded map
 * of whole ledgers keyed by (account, chain). It is the default backend when
 * no database is configured and the backend tests exercise directly.
 */

package store

import (
	"context"
	"sync"

	"github.com/w3hc/vault-relay/internal/domain"
)

// MemoryRepository keeps every ledger in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	ledgers map[string]*domain.Ledger
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ledgers: make(map[string]*domain.Ledger)}
}

// Upsert replaces the record with the same id or prepends it, then enforces
// the ledger cap. The whole ledger is rewritten under the lock.
func (r *MemoryRepository) Upsert(ctx context.Context, account string, chainID int64, record domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey(account, chainID)
	ledger, ok := r.ledgers[key]
	if !ok {
		ledger = &domain.Ledger{Account: account, ChainID: chainID}
		r.ledgers[key] = ledger
	}

	ledger.Records = upsertRecord(ledger.Records, record)
	if ledger.VaultAddress == "" {
		ledger.VaultAddress = vaultAddressOf(record)
	}
	return nil
}

// Get returns a copy of the ledger's records. A safe-address filter that does
// not match the ledger's known vault address yields an empty slice.
func (r *MemoryRepository) Get(ctx context.Context, account string, chainID int64, filterBySafeAddress string) ([]domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, ok := r.ledgers[ledgerKey(account, chainID)]
	if !ok {
		return nil, nil
	}
	if filterBySafeAddress != "" && !domain.SameAddress(ledger.VaultAddress, filterBySafeAddress) {
		return nil, nil
	}

	out := make([]domain.TransactionRecord, len(ledger.Records))
	copy(out, ledger.Records)
	return out, nil
}

// Prune drops records whose (txHash, amount) appears in confirmed.
func (r *MemoryRepository) Prune(ctx context.Context, account string, chainID int64, confirmed map[string]struct{}) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger, ok := r.ledgers[ledgerKey(account, chainID)]
	if !ok {
		return 0, nil
	}

	kept, removed := pruneRecords(ledger.Records, confirmed)
	ledger.Records = kept
	return removed, nil
}

// upsertRecord applies the replace-by-id-else-prepend rule and the cap.
func upsertRecord(records []domain.TransactionRecord, record domain.TransactionRecord) []domain.TransactionRecord {
	for i := range records {
		if records[i].ID == record.ID {
			records[i] = record
			return records
		}
	}
	records = append([]domain.TransactionRecord{record}, records...)
	if len(records) > LedgerCap {
		records = records[:LedgerCap]
	}
	return records
}

// pruneRecords filters out records superseded by authoritative history.
func pruneRecords(records []domain.TransactionRecord, confirmed map[string]struct{}) ([]domain.TransactionRecord, int) {
	kept := records[:0]
	removed := 0
	for _, rec := range records {
		if rec.TxHash != "" {
			if _, ok := confirmed[MatchKey(rec.TxHash, rec.Amount)]; ok {
				removed++
				continue
			}
		}
		kept = append(kept, rec)
	}
	return kept, removed
}
