/**
 * @description
 * This file defines the `Repository` interface for the local transaction
 * ledger: the append-only, per-(account, chain) record of transfers the
 * client itself initiated or observed. Defining an interface decouples the
 * orchestrator and reconciler from the storage backend and lets tests swap in
 * fakes.
 *
 * @notes
 * - The ledger is a cache, not the source of truth; the chain is. Every
 *   mutation is a whole-ledger read-modify-write with last-writer-wins
 *   semantics; there is no transactional guarantee across concurrent upserts
 *   to the same (account, chain) pair, and none is needed.
 */

package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/w3hc/vault-relay/internal/domain"
)

// LedgerCap is the maximum number of records kept per (account, chain) pair.
// Oldest records are dropped first.
const LedgerCap = 100

// Repository is the contract for ledger storage backends.
type Repository interface {
	// Upsert replaces the record sharing the same id, or prepends the record
	// when no such id exists, then re-applies the ledger cap.
	Upsert(ctx context.Context, account string, chainID int64, record domain.TransactionRecord) error

	// Get returns the ledger's records, most recent first. When
	// filterBySafeAddress is non-empty and does not match the ledger's known
	// vault address, Get returns an empty slice rather than an error: stale
	// or foreign data is silently ignored, not surfaced as a failure.
	Get(ctx context.Context, account string, chainID int64, filterBySafeAddress string) ([]domain.TransactionRecord, error)

	// Prune removes records whose (txHash, amount) match key (see MatchKey)
	// now appears in the authoritative on-chain history, retiring optimistic
	// entries. Returns the number of records removed.
	Prune(ctx context.Context, account string, chainID int64, confirmed map[string]struct{}) (int, error)
}

// MatchKey builds the reconciliation identity of a transfer. Local records
// and authoritative events never share the client-generated id, so the match
// is on transaction hash plus amount.
func MatchKey(txHash, amount string) string {
	return strings.ToLower(strings.TrimSpace(txHash)) + "|" + strings.TrimSpace(amount)
}

// ledgerKey identifies one owned ledger.
func ledgerKey(account string, chainID int64) string {
	return strings.ToLower(strings.TrimSpace(account)) + "|" + strconv.FormatInt(chainID, 10)
}

// vaultAddressOf derives the vault side of a record: the sender for outgoing
// transfers, the receiver for incoming ones.
func vaultAddressOf(record domain.TransactionRecord) string {
	if record.Direction == domain.DirectionIncoming {
		return record.To
	}
	return record.From
}
