package app

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/internal/store"
)

type historySourceStub struct {
	lists map[string][]domain.ChainEvent
	err   error
}

func (s *historySourceStub) GetTransfers(ctx context.Context, account, kind string) ([]domain.ChainEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.lists[kind], nil
}

const reconcileVault = "0xAaAa111111111111111111111111111111111111"

func event(hash, from, to, value string, ts int64) domain.ChainEvent {
	return domain.ChainEvent{
		TxHash:         hash,
		From:           from,
		To:             to,
		Value:          value,
		BlockTimestamp: ts,
	}
}

func TestReconcile_DeduplicatesAcrossExplorerLists(t *testing.T) {
	other := "0xbbbb222222222222222222222222222222222222"
	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		// The same underlying transaction shows up in the token list with the
		// vault as recipient and in the internal list with the vault as sender.
		domain.TransferKindToken:    {event("0xAAA", other, reconcileVault, "100", 1000)},
		domain.TransferKindInternal: {event("0xaaa", reconcileVault, other, "100", 1000)},
	}}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	history, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one deduplicated record, got %d", len(history))
	}
	// Vault-as-sender wins the tie-break.
	if history[0].Direction != domain.DirectionOutgoing {
		t.Fatalf("expected the vault-as-sender event to be kept, got direction %q", history[0].Direction)
	}
}

func TestReconcile_SameHashDifferentValueStaysSeparate(t *testing.T) {
	other := "0xbbbb222222222222222222222222222222222222"
	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		domain.TransferKindToken: {
			event("0xaaa", reconcileVault, other, "100", 1000),
			event("0xaaa", reconcileVault, other, "250", 1000),
		},
	}}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	history, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("two values under one hash are two transfers, got %d records", len(history))
	}
}

func TestReconcile_SelfTransferYieldsOneFlaggedRecord(t *testing.T) {
	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		domain.TransferKindToken:    {event("0xself", reconcileVault, reconcileVault, "42", 1000)},
		domain.TransferKindInternal: {event("0xself", reconcileVault, reconcileVault, "42", 1000)},
	}}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	history, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one record for a self-transfer, got %d", len(history))
	}
	if !history[0].IsSelfTransfer {
		t.Fatal("expected the self-transfer flag")
	}
	if history[0].Direction != domain.DirectionOutgoing {
		t.Fatalf("self-transfers read as outgoing, got %q", history[0].Direction)
	}
}

func TestReconcile_SortsNewestFirst(t *testing.T) {
	other := "0xbbbb222222222222222222222222222222222222"
	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		domain.TransferKindToken: {
			event("0x001", reconcileVault, other, "1", 100),
			event("0x002", reconcileVault, other, "2", 300),
			event("0x003", reconcileVault, other, "3", 200),
		},
	}}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	history, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	var stamps []int64
	for _, rec := range history {
		stamps = append(stamps, rec.TimestampMs)
	}
	if !reflect.DeepEqual(stamps, []int64{300_000, 200_000, 100_000}) {
		t.Fatalf("expected newest first, got %v", stamps)
	}
}

func TestReconcile_IsIdempotent(t *testing.T) {
	other := "0xbbbb222222222222222222222222222222222222"
	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		domain.TransferKindToken:    {event("0xaaa", reconcileVault, other, "100", 1000)},
		domain.TransferKindNative:   {event("0xbbb", other, reconcileVault, "200", 2000)},
		domain.TransferKindInternal: {event("0xaaa", other, reconcileVault, "100", 1000)},
	}}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	first, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	second, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reconcile diverged between runs:\nfirst=%v\nsecond=%v", first, second)
	}
}

func TestReconcile_RetiresSupersededOptimisticRecords(t *testing.T) {
	other := "0xbbbb222222222222222222222222222222222222"
	ledger := store.NewMemoryRepository()

	// A confirmed local record whose hash and amount the explorer now knows,
	// and a pending one it does not.
	superseded := domain.TransactionRecord{
		ID: "local-1", TxHash: "0xAAA", From: reconcileVault, To: other,
		Amount: "100", TimestampMs: 5000, Status: domain.StatusConfirmed,
		Direction: domain.DirectionOutgoing,
	}
	pending := domain.TransactionRecord{
		ID: "local-2", From: reconcileVault, To: other,
		Amount: "999", TimestampMs: 6000, Status: domain.StatusVerified,
		Direction: domain.DirectionOutgoing,
	}
	for _, rec := range []domain.TransactionRecord{superseded, pending} {
		if err := ledger.Upsert(context.Background(), reconcileVault, 1, rec); err != nil {
			t.Fatalf("seed upsert failed: %v", err)
		}
	}

	source := &historySourceStub{lists: map[string][]domain.ChainEvent{
		domain.TransferKindToken: {event("0xaaa", reconcileVault, other, "100", 1000)},
	}}
	reconciler := NewReconciler(source, ledger)

	history, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	// Surviving local records come first, then the authoritative set.
	if len(history) != 2 {
		t.Fatalf("expected pending local plus one authoritative record, got %d", len(history))
	}
	if history[0].ID != "local-2" {
		t.Fatalf("expected the pending local record first, got %q", history[0].ID)
	}
	if history[1].Status != domain.StatusConfirmed || history[1].TxHash != "0xaaa" {
		t.Fatalf("unexpected authoritative record %+v", history[1])
	}

	records, err := ledger.Get(context.Background(), reconcileVault, 1, "")
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "local-2" {
		t.Fatalf("expected only the pending record to survive pruning, got %v", records)
	}
}

func TestReconcile_SourceOutageIsChainDataUnavailable(t *testing.T) {
	source := &historySourceStub{err: errors.New("explorer 502")}
	reconciler := NewReconciler(source, store.NewMemoryRepository())

	_, err := reconciler.Reconcile(context.Background(), reconcileVault, 1)
	if !errors.Is(err, ErrChainDataUnavailable) {
		t.Fatalf("expected ErrChainDataUnavailable, got %v", err)
	}
}
