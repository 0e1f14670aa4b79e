/**
 * @description
 * This file implements the history reconciler: it merges the local ledger's
 * optimistic entries with a full pull from the block explorer to produce one
 * deduplicated, correctly-directed transaction history.
 *
 * The three explorer lists (token, native, internal) can each report the same
 * underlying chain transaction. Dedup key is (txHash, value); when several
 * events share a key the kept one is, in preference order: the event where
 * the vault is the sender, else where the vault is the receiver, else the
 * first seen. A transfer where the vault is both sides yields exactly one
 * record flagged as a self-transfer.
 *
 * Local records are retired once their (txHash, amount) appears in the
 * authoritative set, never by the client-generated id, which the
 * two sources do not share.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/internal/store"
)

// HistorySource is the chain data source's explorer boundary.
type HistorySource interface {
	GetTransfers(ctx context.Context, account, kind string) ([]domain.ChainEvent, error)
}

// Reconciler merges local and authoritative transaction history.
type Reconciler struct {
	source HistorySource
	ledger store.Repository
}

// NewReconciler creates a reconciler over the given source and ledger store.
func NewReconciler(source HistorySource, ledger store.Repository) *Reconciler {
	return &Reconciler{source: source, ledger: ledger}
}

// Reconcile pulls the three transfer lists for vaultAddress, builds the
// deduplicated authoritative history, retires superseded optimistic ledger
// entries, and returns the merged view: surviving local records first, then
// the authoritative records, both newest first.
func (r *Reconciler) Reconcile(ctx context.Context, vaultAddress string, chainID int64) ([]domain.TransactionRecord, error) {
	var events []domain.ChainEvent
	for _, kind := range []string{domain.TransferKindToken, domain.TransferKindNative, domain.TransferKindInternal} {
		list, err := r.source.GetTransfers(ctx, vaultAddress, kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %s transfers: %v", ErrChainDataUnavailable, kind, err)
		}
		events = append(events, list...)
	}

	authoritative := buildHistory(events, vaultAddress)

	confirmed := make(map[string]struct{}, len(authoritative))
	for _, rec := range authoritative {
		confirmed[store.MatchKey(rec.TxHash, rec.Amount)] = struct{}{}
	}

	removed, err := r.ledger.Prune(ctx, vaultAddress, chainID, confirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to retire superseded ledger records: %w", err)
	}
	if removed > 0 {
		log.Printf("level=info component=reconciler msg=\"optimistic records retired\" vault=%s chain_id=%d removed=%d", vaultAddress, chainID, removed)
	}

	local, err := r.ledger.Get(ctx, vaultAddress, chainID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read local ledger: %w", err)
	}

	merged := make([]domain.TransactionRecord, 0, len(local)+len(authoritative))
	merged = append(merged, local...)
	merged = append(merged, authoritative...)
	return merged, nil
}

// buildHistory normalizes, classifies, deduplicates, and sorts raw explorer
// events into transaction records. Pure: identical input yields identical
// output, which is what the dedup tests rely on.
func buildHistory(events []domain.ChainEvent, vaultAddress string) []domain.TransactionRecord {
	type candidate struct {
		event domain.ChainEvent
		rank  int
		seen  int
	}

	byKey := make(map[string]*candidate)
	order := make([]string, 0, len(events))
	for i, event := range events {
		key := store.MatchKey(event.TxHash, event.Value)
		rank := vaultRank(event, vaultAddress)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = &candidate{event: event, rank: rank, seen: i}
			order = append(order, key)
			continue
		}
		// Strictly better rank replaces; equal rank keeps the first seen.
		if rank > existing.rank {
			existing.event = event
			existing.rank = rank
		}
	}

	records := make([]domain.TransactionRecord, 0, len(order))
	for _, key := range order {
		records = append(records, toRecord(byKey[key].event, vaultAddress))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TimestampMs > records[j].TimestampMs
	})
	return records
}

// vaultRank orders dedup candidates: vault-as-sender beats vault-as-receiver
// beats neither.
func vaultRank(event domain.ChainEvent, vaultAddress string) int {
	switch {
	case domain.SameAddress(event.From, vaultAddress):
		return 2
	case domain.SameAddress(event.To, vaultAddress):
		return 1
	default:
		return 0
	}
}

func toRecord(event domain.ChainEvent, vaultAddress string) domain.TransactionRecord {
	outgoing := domain.SameAddress(event.From, vaultAddress)
	incoming := domain.SameAddress(event.To, vaultAddress)

	direction := domain.DirectionIncoming
	if outgoing {
		direction = domain.DirectionOutgoing
	}

	return domain.TransactionRecord{
		ID:             strings.ToLower(event.TxHash) + ":" + event.Value,
		TxHash:         strings.ToLower(event.TxHash),
		From:           event.From,
		To:             event.To,
		Amount:         event.Value,
		TimestampMs:    event.BlockTimestamp * 1000,
		Status:         domain.StatusConfirmed,
		Direction:      direction,
		IsSelfTransfer: outgoing && incoming,
	}
}
