/**
 * @description
 * This file defines the normalized transfer event shape shared by the three
 * block-explorer lists (token, native, internal). The history reconciler
 * works exclusively on this shape.
 */

package domain

// Transfer list kinds served by the chain data source.
const (
	TransferKindToken    = "token"
	TransferKindNative   = "native"
	TransferKindInternal = "internal"
)

// ChainEvent is one transfer as reported by the block explorer, reduced to
// the fields reconciliation needs.
type ChainEvent struct {
	BlockNumber    int64  `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"` // unix seconds
	TxHash         string `json:"tx_hash"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"` // decimal string, smallest unit
}
