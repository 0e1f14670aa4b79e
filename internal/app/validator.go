/**
 * @description
 * This file implements the policy validator: a pure function that checks a
 * transfer request against its session key's on-chain policy. No I/O, no
 * side effects; given identical inputs it always returns the same outcome.
 *
 * Checks run in order and short-circuit on the first failure:
 *   1. session expiry        -> ErrSessionExpired
 *   2. positive amount       -> ErrInvalidAmount
 *   3. signature recovery    -> ErrSignatureMismatch
 *   4. spending limit        -> ErrLimitExceeded
 *   5. recipient validity    -> ErrInvalidRecipient
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: keccak digest and secp256k1 recovery.
 * - pkg/chainclient: canonical ERC-20 transfer call-data encoding.
 */

package app

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/pkg/chainclient"
)

// ValidatePolicy checks req against key at the supplied instant. The expiry
// boundary is inclusive: now == validUntil still passes. Expiry is re-checked
// by the orchestrator immediately before execution because the check/use gap
// is real and must be tolerated.
func ValidatePolicy(req domain.TransferRequest, key domain.SessionKey, now time.Time) error {
	nowUnix := now.Unix()
	if nowUnix > key.ValidUntil {
		return ErrSessionExpired
	}
	if key.ValidAfter > 0 && nowUnix < key.ValidAfter {
		return ErrSessionExpired
	}

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := verifySessionSignature(req); err != nil {
		return err
	}

	if key.SpendingLimit != nil && req.Amount.Cmp(key.SpendingLimit) > 0 {
		return ErrLimitExceeded
	}

	if !common.IsHexAddress(req.Recipient) {
		return ErrInvalidRecipient
	}
	if common.HexToAddress(req.Recipient) == (common.Address{}) {
		return ErrInvalidRecipient
	}

	return nil
}

// verifySessionSignature recomputes the canonical message bytes for the
// transfer (the ERC-20 call data that will actually be executed), hashes them
// with the EIP-191 personal-sign prefix, and recovers the signer. Any change
// to the recipient or amount after signing changes the call data and
// therefore fails recovery.
func verifySessionSignature(req domain.TransferRequest) error {
	if len(req.Signature) != crypto.SignatureLength {
		return ErrSignatureMismatch
	}

	callData, err := chainclient.PackTransfer(common.HexToAddress(req.Recipient), req.Amount)
	if err != nil {
		return ErrSignatureMismatch
	}
	digest := accounts.TextHash(callData)

	// Wallets emit recovery ids as 27/28; crypto.SigToPub expects 0/1.
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, req.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return ErrSignatureMismatch
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !domain.SameAddress(recovered.Hex(), req.SessionKeyAddress) {
		return ErrSignatureMismatch
	}
	return nil
}

// SessionMessage returns the exact bytes a session key must sign to
// authorize a transfer. Exposed so clients and tests produce signatures the
// validator will accept.
func SessionMessage(recipient string, amount *big.Int) ([]byte, error) {
	return chainclient.PackTransfer(common.HexToAddress(recipient), amount)
}
