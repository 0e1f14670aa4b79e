/**
 * @description
 * This file defines the failure taxonomy for the relay pipeline. Every
 * failure a caller can observe maps to exactly one of these sentinel errors;
 * handlers translate them to HTTP status codes with errors.Is.
 *
 * @notes
 * - Policy and balance failures are terminal caller/policy errors and are
 *   never retried. ErrExecutionBackend and ErrChainDataUnavailable are
 *   transient by nature but the pipeline performs no automatic retry: a blind
 *   resubmission risks a double spend if the first attempt actually landed.
 */

package app

import "errors"

var (
	// Policy validator failures, in check order.
	ErrSessionExpired    = errors.New("session key has expired")
	ErrInvalidAmount     = errors.New("transfer amount must be greater than zero")
	ErrSignatureMismatch = errors.New("signature does not match session key address")
	ErrLimitExceeded     = errors.New("transfer amount exceeds session key spending limit")
	ErrInvalidRecipient  = errors.New("recipient is not a valid, non-zero address")

	// Balance oracle failure.
	ErrInsufficientBalance = errors.New("vault balance is insufficient for transfer")

	// Execution failures.
	ErrHashUnavailable  = errors.New("no transaction hash could be resolved from submission")
	ErrExecutionBackend = errors.New("execution backend rejected the transaction")

	// Chain data source failure.
	ErrChainDataUnavailable = errors.New("chain data source is unavailable")
)
