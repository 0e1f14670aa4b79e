package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/internal/relay"
	"github.com/w3hc/vault-relay/internal/store"
)

type oracleStub struct {
	balances []*big.Int
	err      error
	calls    int
}

func (o *oracleStub) GetTokenBalance(ctx context.Context, account, token string) (*big.Int, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	idx := o.calls - 1
	if idx >= len(o.balances) {
		idx = len(o.balances) - 1
	}
	return o.balances[idx], nil
}

type executorStub struct {
	hash   string
	err    error
	called bool
}

func (e *executorStub) Execute(ctx context.Context, spec relay.CallSpec, owner relay.SigningAuthority) (string, error) {
	e.called = true
	if e.err != nil {
		return "", e.err
	}
	return e.hash, nil
}

type publisherStub struct {
	events []domain.StatusEvent
}

func (p *publisherStub) Publish(event domain.StatusEvent) {
	p.events = append(p.events, event)
}

type ownerStub struct{}

func (ownerStub) Address() common.Address {
	return common.HexToAddress("0x5555555555555555555555555555555555555555")
}

func (ownerStub) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return []byte("owner-signature"), nil
}

func newTestJob(t *testing.T) RelayJob {
	t.Helper()
	priv, addr := newSessionKeyPair(t)
	req := signedRequest(t, priv, addr, testRecipient, big.NewInt(500))
	return RelayJob{
		Request: req,
		Key:     validKey(addr, time.Now()),
		Owner:   ownerStub{},
	}
}

func TestRelay_EmitsStagesInOrderWithIncreasingTimestamps(t *testing.T) {
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000)}}
	executor := &executorStub{hash: "0xabc123"}
	publisher := &publisherStub{}
	service := NewService(oracle, executor, store.NewMemoryRepository(), publisher, nil)

	result, err := service.Relay(context.Background(), newTestJob(t))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.TxHash != "0xabc123" {
		t.Fatalf("unexpected tx hash %q", result.TxHash)
	}
	if result.TransactionID == "" {
		t.Fatal("expected a tracking identifier")
	}

	stages := []string{domain.StageStarted, domain.StageVerified, domain.StageConfirmed}
	if len(publisher.events) != len(stages) {
		t.Fatalf("expected %d events, got %d", len(stages), len(publisher.events))
	}
	for i, want := range stages {
		event := publisher.events[i]
		if event.Stage != want {
			t.Fatalf("event %d: expected stage %q, got %q", i, want, event.Stage)
		}
		if event.TransactionID != result.TransactionID {
			t.Fatalf("event %d carries foreign transaction id %q", i, event.TransactionID)
		}
		if i > 0 && event.TimestampMs <= publisher.events[i-1].TimestampMs {
			t.Fatalf("timestamps not strictly increasing: %d then %d", publisher.events[i-1].TimestampMs, event.TimestampMs)
		}
	}
	if publisher.events[2].TxHash != "0xabc123" {
		t.Fatal("confirmed event must carry the transaction hash")
	}
}

func TestRelay_PolicyRejectEmitsOnlyStarted(t *testing.T) {
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000)}}
	executor := &executorStub{hash: "0xabc123"}
	publisher := &publisherStub{}
	service := NewService(oracle, executor, store.NewMemoryRepository(), publisher, nil)

	job := newTestJob(t)
	job.Request.Signature[5] ^= 0xff

	_, err := service.Relay(context.Background(), job)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
	if len(publisher.events) != 1 || publisher.events[0].Stage != domain.StageStarted {
		t.Fatalf("expected only the started event, got %v", publisher.events)
	}
	if executor.called {
		t.Fatal("executor must not run for a rejected request")
	}
}

func TestRelay_BalanceRaceAbortsAfterVerified(t *testing.T) {
	// First read passes the pre-flight, second read reflects a concurrent
	// spend that drained the vault.
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000), big.NewInt(1)}}
	executor := &executorStub{hash: "0xabc123"}
	publisher := &publisherStub{}
	service := NewService(oracle, executor, store.NewMemoryRepository(), publisher, nil)

	_, err := service.Relay(context.Background(), newTestJob(t))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if oracle.calls != 2 {
		t.Fatalf("expected two balance reads, got %d", oracle.calls)
	}
	if executor.called {
		t.Fatal("executor must not run when the re-check fails")
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected started and verified only, got %d events", len(publisher.events))
	}
	for _, event := range publisher.events {
		if event.Stage == domain.StageConfirmed {
			t.Fatal("confirmed must never follow an aborted execution")
		}
	}
}

func TestRelay_OracleOutageMapsToChainDataUnavailable(t *testing.T) {
	oracle := &oracleStub{err: errors.New("rpc timeout")}
	publisher := &publisherStub{}
	service := NewService(oracle, &executorStub{}, store.NewMemoryRepository(), publisher, nil)

	_, err := service.Relay(context.Background(), newTestJob(t))
	if !errors.Is(err, ErrChainDataUnavailable) {
		t.Fatalf("expected ErrChainDataUnavailable, got %v", err)
	}
}

func TestRelay_ExecutorHashUnavailableSurfaces(t *testing.T) {
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000)}}
	executor := &executorStub{err: relay.ErrHashUnavailable}
	publisher := &publisherStub{}
	service := NewService(oracle, executor, store.NewMemoryRepository(), publisher, nil)

	_, err := service.Relay(context.Background(), newTestJob(t))
	if !errors.Is(err, ErrHashUnavailable) {
		t.Fatalf("expected ErrHashUnavailable, got %v", err)
	}
}

func TestRelay_LedgerProgressesFromVerifiedToConfirmed(t *testing.T) {
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000)}}
	executor := &executorStub{hash: "0xabc123"}
	ledger := store.NewMemoryRepository()
	service := NewService(oracle, executor, ledger, &publisherStub{}, nil)

	job := newTestJob(t)
	result, err := service.Relay(context.Background(), job)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	records, err := ledger.Get(context.Background(), job.Request.VaultAddress, job.Request.ChainID, "")
	if err != nil {
		t.Fatalf("ledger read failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the optimistic entry to be updated in place, got %d records", len(records))
	}
	record := records[0]
	if record.ID != result.TransactionID {
		t.Fatalf("record id %q does not match transaction id %q", record.ID, result.TransactionID)
	}
	if record.Status != domain.StatusConfirmed || record.TxHash != "0xabc123" {
		t.Fatalf("expected a confirmed record with hash, got status=%q hash=%q", record.Status, record.TxHash)
	}
	if record.Direction != domain.DirectionOutgoing {
		t.Fatalf("relayed transfers are outgoing, got %q", record.Direction)
	}
}

func TestRelayAsync_ReturnsImmediatelyAndCompletesPipeline(t *testing.T) {
	oracle := &oracleStub{balances: []*big.Int{big.NewInt(10_000)}}
	executor := &executorStub{hash: "0xabc123"}
	ledger := store.NewMemoryRepository()
	publisher := &syncPublisher{done: make(chan domain.StatusEvent, 8)}
	service := NewService(oracle, executor, ledger, publisher, nil)

	job := newTestJob(t)
	transactionID := service.RelayAsync(job)
	if transactionID == "" {
		t.Fatal("expected an immediate tracking identifier")
	}

	var stages []string
	deadline := time.After(5 * time.Second)
	for len(stages) < 3 {
		select {
		case event := <-publisher.done:
			if event.TransactionID != transactionID {
				t.Fatalf("unexpected transaction id %q", event.TransactionID)
			}
			stages = append(stages, event.Stage)
		case <-deadline:
			t.Fatalf("pipeline did not complete; saw stages %v", stages)
		}
	}
	if stages[0] != domain.StageStarted || stages[1] != domain.StageVerified || stages[2] != domain.StageConfirmed {
		t.Fatalf("unexpected stage order %v", stages)
	}
}

// syncPublisher hands events to the test goroutine over a channel.
type syncPublisher struct {
	done chan domain.StatusEvent
}

func (p *syncPublisher) Publish(event domain.StatusEvent) {
	p.done <- event
}
