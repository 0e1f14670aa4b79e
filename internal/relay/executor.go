/**
 * @description
 * This file implements the relay executor: the state machine that takes a
 * validated transfer request through build -> owner signature -> submission
 * and resolves a transaction hash. The relayer's own credential pays the fee;
 * the relayer is never the economic beneficiary and cannot alter the
 * recipient or amount after the owner has signed, because the owner signature
 * binds to the built call data.
 *
 * Hash resolution tries the receipt-wait path first and falls back to the
 * immediate hash when the backend exposes no wait handle. A submission that
 * yields no hash by either path fails with ErrHashUnavailable, surfaced and
 * never swallowed, since a caller cannot reconcile an untracked transfer.
 */

package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrHashUnavailable means the submission produced no resolvable hash.
	ErrHashUnavailable = errors.New("submission produced no transaction hash")
	// ErrBackendRejected wraps execution backend failures.
	ErrBackendRejected = errors.New("execution backend rejected submission")
)

// Request states, in order of progression.
type state int

const (
	stateUnsigned state = iota
	stateOwnerSigned
	stateSubmitted
	stateConfirmed
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateUnsigned:
		return "unsigned"
	case stateOwnerSigned:
		return "owner_signed"
	case stateSubmitted:
		return "submitted"
	case stateConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// SigningAuthority produces signatures on behalf of the vault owner. It is
// the boundary to the passkey-backed wallet SDK: the session key authorizes
// the intent, the owner's key authorizes the vault execution.
type SigningAuthority interface {
	Address() common.Address
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// CallSpec describes the transfer to execute.
type CallSpec struct {
	Vault     common.Address
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
	ChainID   int64
}

// UnsignedCall is the built vault execution before the owner has signed.
type UnsignedCall struct {
	Spec     CallSpec
	CallData []byte // token-transfer encoding to the token contract, zero native value
}

// SignedCall carries the owner's authorization over the built call.
type SignedCall struct {
	UnsignedCall
	OwnerSignature []byte
}

// Submission is the typed result of handing a signed call to the backend:
// the immediate hash, and an optional wait handle that resolves the mined
// hash. Shape normalization of whatever the backend's transport returns
// happens inside the backend adapter, never in the orchestrator.
type Submission struct {
	TxHash string
	Wait   func(ctx context.Context) (string, error)
}

// ExecutionBackend is the boundary to the smart-wallet SDK.
type ExecutionBackend interface {
	BuildTransfer(ctx context.Context, spec CallSpec) (*UnsignedCall, error)
	SignAsOwner(ctx context.Context, call *UnsignedCall, owner SigningAuthority) (*SignedCall, error)
	Submit(ctx context.Context, call *SignedCall) (*Submission, error)
}

// Executor drives one request through the state machine.
type Executor struct {
	backend     ExecutionBackend
	waitTimeout time.Duration
}

// NewExecutor creates an executor. waitTimeout bounds the receipt-wait path;
// zero selects a 90s default.
func NewExecutor(backend ExecutionBackend, waitTimeout time.Duration) *Executor {
	if waitTimeout <= 0 {
		waitTimeout = 90 * time.Second
	}
	return &Executor{backend: backend, waitTimeout: waitTimeout}
}

// Execute runs Unsigned -> OwnerSigned -> Submitted -> {Confirmed | Failed}
// and returns the resolved transaction hash.
func (e *Executor) Execute(ctx context.Context, spec CallSpec, owner SigningAuthority) (string, error) {
	current := stateUnsigned

	call, err := e.backend.BuildTransfer(ctx, spec)
	if err != nil {
		return "", e.fail(spec, current, fmt.Errorf("%w: build: %v", ErrBackendRejected, err))
	}

	signed, err := e.backend.SignAsOwner(ctx, call, owner)
	if err != nil {
		return "", e.fail(spec, current, fmt.Errorf("%w: owner signature: %v", ErrBackendRejected, err))
	}
	current = stateOwnerSigned

	submission, err := e.backend.Submit(ctx, signed)
	if err != nil {
		return "", e.fail(spec, current, fmt.Errorf("%w: %v", ErrBackendRejected, err))
	}
	current = stateSubmitted
	log.Printf("level=info component=relay_executor state=%s vault=%s token=%s", current, spec.Vault.Hex(), spec.Token.Hex())

	hash := e.resolveHash(ctx, submission)
	if hash == "" {
		return "", e.fail(spec, current, ErrHashUnavailable)
	}

	current = stateConfirmed
	log.Printf("level=info component=relay_executor state=%s tx_hash=%s", current, hash)
	return hash, nil
}

// resolveHash prefers the mined receipt's hash, falling back to the
// submission's immediate hash when there is no wait handle or waiting fails.
func (e *Executor) resolveHash(ctx context.Context, submission *Submission) string {
	if submission == nil {
		return ""
	}
	if submission.Wait != nil {
		waitCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
		defer cancel()
		if hash, err := submission.Wait(waitCtx); err == nil && hash != "" {
			return hash
		} else if err != nil {
			log.Printf("level=warn component=relay_executor msg=\"receipt wait failed; falling back to immediate hash\" err=%v", err)
		}
	}
	return submission.TxHash
}

func (e *Executor) fail(spec CallSpec, from state, err error) error {
	log.Printf("level=warn component=relay_executor state=%s->%s vault=%s err=%v", from, stateFailed, spec.Vault.Hex(), err)
	return err
}
