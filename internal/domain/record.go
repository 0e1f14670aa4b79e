/**
 * @description
 * This file defines the TransactionRecord, the unit stored in the local
 * ledger and produced by history reconciliation, together with its status and
 * direction enumerations.
 *
 * @notes
 * - A record is created optimistically at the `verified` stage with a
 *   client-generated id and no tx hash, mutated to `confirmed` once the relay
 *   returns a hash, and eventually retired when reconciliation observes the
 *   same transfer from the authoritative source. Matching is by
 *   (tx_hash, amount); the two sources never share the client id.
 */

package domain

import "strings"

// Record lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusConfirmed = "confirmed"
)

// Record directions relative to the owning vault.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// TransactionRecord is one entry in a vault's transaction history.
type TransactionRecord struct {
	ID                string  `json:"id"`
	TxHash            string  `json:"tx_hash,omitempty"`
	From              string  `json:"from"`
	To                string  `json:"to"`
	Amount            string  `json:"amount"` // decimal string, smallest unit
	TimestampMs       int64   `json:"timestamp_ms"`
	Status            string  `json:"status"`
	Direction         string  `json:"direction"`
	IsSelfTransfer    bool    `json:"is_self_transfer,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds,omitempty"`
	SessionKeyAddress string  `json:"session_key_address,omitempty"`
}

// Ledger is the append-only, capped record list owned by one
// (account, chain id) pair. Every mutation is a whole-ledger
// read-modify-write; last writer wins.
type Ledger struct {
	Account      string              `json:"account"`
	ChainID      int64               `json:"chain_id"`
	VaultAddress string              `json:"vault_address,omitempty"`
	Records      []TransactionRecord `json:"records"`
}

// SameAddress reports whether two hex addresses refer to the same account,
// ignoring case and the 0x prefix's casing quirks.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
