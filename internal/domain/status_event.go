/**
 * @description
 * This file defines the three-stage status protocol delivered over the push
 * channel while a relay request moves through the pipeline.
 *
 * @notes
 * - For a given transaction id, stages are emitted strictly in the order
 *   started -> verified -> confirmed, a stage is never emitted twice, and
 *   `confirmed` always carries a tx hash.
 * - Copies delivered to recipient-address subscribers are tagged with
 *   `is_incoming: true`; the initiator's copy never carries that flag.
 */

package domain

// Pipeline stages, in emission order.
const (
	StageStarted   = "started"
	StageVerified  = "verified"
	StageConfirmed = "confirmed"
)

// StatusEvent is one milestone of a relay request's progress.
type StatusEvent struct {
	TransactionID   string  `json:"transaction_id"`
	Stage           string  `json:"stage"`
	TimestampMs     int64   `json:"timestamp_ms"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	TxHash          string  `json:"tx_hash,omitempty"`
	Recipient       string  `json:"recipient,omitempty"`
	Message         string  `json:"message,omitempty"`
	IsIncoming      bool    `json:"is_incoming,omitempty"`
}
