/**
 * @description
 * This file defines the core domain models for the relay pipeline: the session
 * key policy, the transfer request submitted by clients, and the result object
 * returned in synchronous mode.
 *
 * @notes
 * - Addresses are carried as hex strings and compared case-insensitively;
 *   components that need typed addresses convert at their own boundary.
 * - Amounts are `*big.Int` in the smallest token unit. JSON payloads carry
 *   them as decimal strings so precision survives the wire.
 */

package domain

import "math/big"

// SessionKey is a delegated signer with constrained, time-boxed authority
// over a vault. The policy validator checks transfer requests against it.
type SessionKey struct {
	Address       string   `json:"address"`
	SpendingLimit *big.Int `json:"spending_limit"`
	AllowedTokens []string `json:"allowed_tokens"`
	ValidAfter    int64    `json:"valid_after"`  // unix seconds
	ValidUntil    int64    `json:"valid_until"`  // unix seconds
}

// TransferRequest is the immutable unit of work submitted to the relay.
// The session-key signature binds to the encoded token-transfer call data,
// not to the raw (recipient, amount) tuple.
type TransferRequest struct {
	VaultAddress      string
	TokenAddress      string
	Recipient         string
	Amount            *big.Int
	SessionKeyAddress string
	Signature         []byte
	ChainID           int64
}

// StageDurations records elapsed seconds from pipeline start to each stage.
type StageDurations struct {
	Verified  float64 `json:"verified"`
	Confirmed float64 `json:"confirmed"`
}

// RelayResult is returned to synchronous callers once the pipeline finishes.
type RelayResult struct {
	TransactionID string         `json:"transaction_id"`
	TxHash        string         `json:"tx_hash"`
	Durations     StageDurations `json:"durations"`
}
