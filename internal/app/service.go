/**
 * @description
 * This file contains the transaction relay orchestrator. The `Service`
 * struct sequences the pipeline (policy validation, pre-flight balance,
 * pre-execution balance re-check, execution), timestamps each milestone, and
 * emits the three-stage status protocol through the connection registry.
 *
 * Key behaviors:
 * - Each relay request runs on its own goroutine in async mode; the only
 *   shared mutable state is the registry and the ledger store, both safe for
 *   concurrent use. No lock is held across chain I/O.
 * - A validation or balance failure after `started` emits no further events:
 *   callers treat the absence of `verified` within their own timeout as
 *   failure. The protocol has no failure stage after `verified` either; that
 *   gap is deliberate and documented.
 * - There is no cancellation API. A caller that stops listening simply stops
 *   listening; once submission has begun the on-chain effect completes.
 *
 * @dependencies
 * - github.com/google/uuid: tracking identifiers.
 * - internal/domain, internal/relay, internal/store: models, execution, ledger.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/internal/relay"
	"github.com/w3hc/vault-relay/internal/store"
)

// asyncPipelineTimeout bounds a detached pipeline run once the HTTP request
// that spawned it has returned.
const asyncPipelineTimeout = 5 * time.Minute

// BalanceOracle reads current token balances from the chain data source.
type BalanceOracle interface {
	GetTokenBalance(ctx context.Context, account, token string) (*big.Int, error)
}

// TransferExecutor drives the on-chain execution of a validated transfer.
type TransferExecutor interface {
	Execute(ctx context.Context, spec relay.CallSpec, owner relay.SigningAuthority) (string, error)
}

// StatusPublisher delivers status events to live subscribers.
type StatusPublisher interface {
	Publish(event domain.StatusEvent)
}

// StatusMirror optionally copies status events to a broker for other backend
// consumers. May be nil.
type StatusMirror interface {
	PublishStatusEvent(ctx context.Context, event domain.StatusEvent) error
}

// RelayJob bundles everything one pipeline run needs.
type RelayJob struct {
	Request domain.TransferRequest
	Key     domain.SessionKey
	Owner   relay.SigningAuthority
}

// vaultRef identifies a vault's ledger for the background sweep.
type vaultRef struct {
	Vault   string
	ChainID int64
}

// Service is the transaction relay orchestrator.
type Service struct {
	oracle    BalanceOracle
	executor  TransferExecutor
	ledger    store.Repository
	publisher StatusPublisher
	mirror    StatusMirror

	mu     sync.Mutex
	recent map[vaultRef]time.Time
}

// NewService wires the orchestrator's collaborators. mirror may be nil.
func NewService(oracle BalanceOracle, executor TransferExecutor, ledger store.Repository, publisher StatusPublisher, mirror StatusMirror) *Service {
	return &Service{
		oracle:    oracle,
		executor:  executor,
		ledger:    ledger,
		publisher: publisher,
		mirror:    mirror,
		recent:    make(map[vaultRef]time.Time),
	}
}

// Ledger exposes the backing store for read handlers.
func (s *Service) Ledger() store.Repository {
	return s.ledger
}

// Relay runs the pipeline synchronously and returns the final result.
func (s *Service) Relay(ctx context.Context, job RelayJob) (*domain.RelayResult, error) {
	transactionID := uuid.NewString()
	return s.run(ctx, transactionID, job)
}

// RelayAsync returns a tracking identifier immediately and completes the
// identical pipeline on its own goroutine. Callers observe progress through
// the status subscription; they receive no other signal.
func (s *Service) RelayAsync(job RelayJob) string {
	transactionID := uuid.NewString()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPipelineTimeout)
		defer cancel()
		if _, err := s.run(ctx, transactionID, job); err != nil {
			log.Printf("level=warn component=orchestrator mode=async outcome=failed tx_id=%s err=%v", transactionID, err)
		}
	}()
	return transactionID
}

// run executes the pipeline for one transfer request. Stage events for a
// given transaction id are emitted strictly in order with strictly
// increasing timestamps, and no stage is ever emitted twice.
func (s *Service) run(ctx context.Context, transactionID string, job RelayJob) (*domain.RelayResult, error) {
	req := job.Request
	start := time.Now()
	clock := newStageClock(start)

	s.emit(ctx, domain.StatusEvent{
		TransactionID: transactionID,
		Stage:         domain.StageStarted,
		TimestampMs:   clock.next(),
		Recipient:     req.Recipient,
		Message:       "relay accepted",
	})

	if err := ValidatePolicy(req, job.Key, time.Now()); err != nil {
		log.Printf("level=warn component=orchestrator outcome=policy_reject tx_id=%s vault=%s err=%v", transactionID, req.VaultAddress, err)
		return nil, err
	}

	if err := s.checkBalance(ctx, req); err != nil {
		log.Printf("level=warn component=orchestrator outcome=preflight_reject tx_id=%s vault=%s err=%v", transactionID, req.VaultAddress, err)
		return nil, err
	}

	verifiedAt := clock.next()
	verifiedElapsed := elapsedSeconds(start)
	s.emit(ctx, domain.StatusEvent{
		TransactionID:   transactionID,
		Stage:           domain.StageVerified,
		TimestampMs:     verifiedAt,
		DurationSeconds: verifiedElapsed,
		Recipient:       req.Recipient,
	})
	s.recordVerified(ctx, transactionID, req, verifiedAt)

	// Balance can change between pre-flight and now due to concurrent
	// spends. The re-check is race defense, not redundancy; a failure here
	// aborts even though `verified` was already published.
	if err := s.checkBalance(ctx, req); err != nil {
		log.Printf("level=warn component=orchestrator outcome=preexec_reject tx_id=%s vault=%s err=%v", transactionID, req.VaultAddress, err)
		return nil, err
	}

	txHash, err := s.execute(ctx, req, job.Owner)
	if err != nil {
		log.Printf("level=warn component=orchestrator outcome=execution_failed tx_id=%s vault=%s err=%v", transactionID, req.VaultAddress, err)
		return nil, err
	}

	confirmedAt := clock.next()
	confirmedElapsed := elapsedSeconds(start)
	s.emit(ctx, domain.StatusEvent{
		TransactionID:   transactionID,
		Stage:           domain.StageConfirmed,
		TimestampMs:     confirmedAt,
		DurationSeconds: confirmedElapsed,
		TxHash:          txHash,
		Recipient:       req.Recipient,
	})
	s.recordConfirmed(ctx, transactionID, req, txHash, confirmedAt, confirmedElapsed)
	s.noteActivity(req.VaultAddress, req.ChainID)

	log.Printf("level=info component=orchestrator outcome=confirmed tx_id=%s tx_hash=%s elapsed=%.2fs", transactionID, txHash, confirmedElapsed)
	return &domain.RelayResult{
		TransactionID: transactionID,
		TxHash:        txHash,
		Durations: domain.StageDurations{
			Verified:  verifiedElapsed,
			Confirmed: confirmedElapsed,
		},
	}, nil
}

func (s *Service) checkBalance(ctx context.Context, req domain.TransferRequest) error {
	balance, err := s.oracle.GetTokenBalance(ctx, req.VaultAddress, req.TokenAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainDataUnavailable, err)
	}
	if balance.Cmp(req.Amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *Service) execute(ctx context.Context, req domain.TransferRequest, owner relay.SigningAuthority) (string, error) {
	spec := relay.CallSpec{
		Vault:     common.HexToAddress(req.VaultAddress),
		Token:     common.HexToAddress(req.TokenAddress),
		Recipient: common.HexToAddress(req.Recipient),
		Amount:    req.Amount,
		ChainID:   req.ChainID,
	}

	txHash, err := s.executor.Execute(ctx, spec, owner)
	if err != nil {
		if errors.Is(err, relay.ErrHashUnavailable) {
			return "", fmt.Errorf("%w: %v", ErrHashUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", ErrExecutionBackend, err)
	}
	return txHash, nil
}

// emit delivers the event to live subscribers and, when configured, mirrors
// it to the broker. Mirror failures are logged, never propagated: the push
// channel is the protocol, the broker is a convenience.
func (s *Service) emit(ctx context.Context, event domain.StatusEvent) {
	s.publisher.Publish(event)
	if s.mirror != nil {
		if err := s.mirror.PublishStatusEvent(ctx, event); err != nil {
			log.Printf("level=warn component=orchestrator msg=\"status mirror publish failed\" tx_id=%s stage=%s err=%v", event.TransactionID, event.Stage, err)
		}
	}
}

// recordVerified writes the optimistic ledger entry: client id, no hash yet.
func (s *Service) recordVerified(ctx context.Context, transactionID string, req domain.TransferRequest, timestampMs int64) {
	record := domain.TransactionRecord{
		ID:                transactionID,
		From:              req.VaultAddress,
		To:                req.Recipient,
		Amount:            req.Amount.String(),
		TimestampMs:       timestampMs,
		Status:            domain.StatusVerified,
		Direction:         domain.DirectionOutgoing,
		IsSelfTransfer:    domain.SameAddress(req.VaultAddress, req.Recipient),
		SessionKeyAddress: req.SessionKeyAddress,
	}
	if err := s.ledger.Upsert(ctx, req.VaultAddress, req.ChainID, record); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"optimistic ledger write failed\" tx_id=%s err=%v", transactionID, err)
	}
}

// recordConfirmed mutates the optimistic entry in place with the hash.
func (s *Service) recordConfirmed(ctx context.Context, transactionID string, req domain.TransferRequest, txHash string, timestampMs int64, elapsed float64) {
	record := domain.TransactionRecord{
		ID:                transactionID,
		TxHash:            txHash,
		From:              req.VaultAddress,
		To:                req.Recipient,
		Amount:            req.Amount.String(),
		TimestampMs:       timestampMs,
		Status:            domain.StatusConfirmed,
		Direction:         domain.DirectionOutgoing,
		IsSelfTransfer:    domain.SameAddress(req.VaultAddress, req.Recipient),
		DurationSeconds:   elapsed,
		SessionKeyAddress: req.SessionKeyAddress,
	}
	if err := s.ledger.Upsert(ctx, req.VaultAddress, req.ChainID, record); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"confirmed ledger write failed\" tx_id=%s err=%v", transactionID, err)
	}
}

// noteActivity marks a vault as recently active for the background sweep.
func (s *Service) noteActivity(vault string, chainID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent[vaultRef{Vault: vault, ChainID: chainID}] = time.Now()
}

// recentVaults returns vaults active within the window, dropping stale ones.
func (s *Service) recentVaults(window time.Duration) []vaultRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	refs := make([]vaultRef, 0, len(s.recent))
	for ref, seen := range s.recent {
		if seen.Before(cutoff) {
			delete(s.recent, ref)
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// stageClock hands out strictly increasing millisecond timestamps even when
// stages complete within the same millisecond.
type stageClock struct {
	last int64
}

func newStageClock(start time.Time) *stageClock {
	return &stageClock{last: start.UnixMilli() - 1}
}

func (c *stageClock) next() int64 {
	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

func elapsedSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
