/**
 * @description
 * This file contains the HTTP handlers for the relay service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/relay: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/w3hc/vault-relay/internal/app"
	"github.com/w3hc/vault-relay/internal/domain"
	"github.com/w3hc/vault-relay/internal/relay"
)

// SessionDefaults supplies the session key policy fields the request itself
// does not carry. In a full deployment these come from the vault's on-chain
// session key module; here they are service configuration.
type SessionDefaults struct {
	SpendingLimit *big.Int
	TTL           time.Duration
	TokenAddress  string
	ChainID       int64
}

// RelayHandlers holds the collaborators the handlers use.
type RelayHandlers struct {
	service    *app.Service
	reconciler *app.Reconciler
	limiter    *app.RedisRelayRateLimiter
	rateLimit  int
	defaults   SessionDefaults
}

// NewRelayHandlers creates a new instance of RelayHandlers. limiter may be
// nil; rate limiting is then disabled.
func NewRelayHandlers(service *app.Service, reconciler *app.Reconciler, limiter *app.RedisRelayRateLimiter, rateLimit int, defaults SessionDefaults) *RelayHandlers {
	return &RelayHandlers{
		service:    service,
		reconciler: reconciler,
		limiter:    limiter,
		rateLimit:  rateLimit,
		defaults:   defaults,
	}
}

// relayRequestBody is the wire shape of a relay submission. `safeAddress` is
// accepted as a legacy alias for `vaultAddress`.
type relayRequestBody struct {
	VaultAddress         string `json:"vaultAddress"`
	SafeAddress          string `json:"safeAddress"`
	TokenAddress         string `json:"tokenAddress"`
	ChainID              int64  `json:"chainId"`
	To                   string `json:"to"`
	Amount               string `json:"amount"`
	SessionKeyAddress    string `json:"sessionKeyAddress"`
	Signature            string `json:"signature"`
	SessionKeyValidUntil int64  `json:"sessionKeyValidUntil"`
	OwnerPrivateKey      string `json:"ownerPrivateKey"`
	UseAsyncMode         bool   `json:"useAsyncMode"`
}

type relaySyncResponse struct {
	Success       bool                  `json:"success"`
	TransactionID string                `json:"transactionId"`
	TxHash        string                `json:"txHash"`
	Durations     domain.StageDurations `json:"durations"`
}

type relayAsyncResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	UseAsyncMode  bool   `json:"useAsyncMode"`
}

// RelayHandler handles POST /relay: it validates the payload shape, builds
// the transfer request plus its session key policy, and runs the pipeline in
// the requested mode.
func (h *RelayHandlers) RelayHandler(w http.ResponseWriter, r *http.Request) {
	var body relayRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Printf("level=warn component=api endpoint=relay outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	vault := strings.TrimSpace(body.VaultAddress)
	if vault == "" {
		vault = strings.TrimSpace(body.SafeAddress)
	}
	if vault == "" || strings.TrimSpace(body.To) == "" || strings.TrimSpace(body.SessionKeyAddress) == "" {
		h.writeError(w, http.StatusBadRequest, "vaultAddress, to and sessionKeyAddress are required")
		return
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(body.Amount), 10)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "amount must be a base-10 integer in the token's smallest unit")
		return
	}

	signature, err := decodeHexField(body.Signature)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid signature encoding: %v", err))
		return
	}

	owner, err := relay.NewLocalSigner(body.OwnerPrivateKey)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid owner key material")
		return
	}

	if !h.consumeRateLimit(w, r, vault) {
		return
	}

	chainID := body.ChainID
	if chainID == 0 {
		chainID = h.defaults.ChainID
	}
	token := strings.TrimSpace(body.TokenAddress)
	if token == "" {
		token = h.defaults.TokenAddress
	}

	req := domain.TransferRequest{
		VaultAddress:      vault,
		TokenAddress:      token,
		Recipient:         strings.TrimSpace(body.To),
		Amount:            amount,
		SessionKeyAddress: strings.TrimSpace(body.SessionKeyAddress),
		Signature:         signature,
		ChainID:           chainID,
	}

	validUntil := body.SessionKeyValidUntil
	if validUntil == 0 {
		validUntil = time.Now().Add(h.defaults.TTL).Unix()
	}
	key := domain.SessionKey{
		Address:       req.SessionKeyAddress,
		SpendingLimit: h.defaults.SpendingLimit,
		ValidUntil:    validUntil,
	}

	job := app.RelayJob{Request: req, Key: key, Owner: owner}

	if body.UseAsyncMode {
		transactionID := h.service.RelayAsync(job)
		log.Printf("level=info component=api endpoint=relay mode=async outcome=accepted tx_id=%s vault=%s", transactionID, vault)
		h.writeJSON(w, http.StatusOK, relayAsyncResponse{
			Success:       true,
			TransactionID: transactionID,
			UseAsyncMode:  true,
		})
		return
	}

	result, err := h.service.Relay(r.Context(), job)
	if err != nil {
		h.writeRelayError(w, vault, err)
		return
	}

	log.Printf("level=info component=api endpoint=relay mode=sync outcome=confirmed tx_id=%s tx_hash=%s", result.TransactionID, result.TxHash)
	h.writeJSON(w, http.StatusOK, relaySyncResponse{
		Success:       true,
		TransactionID: result.TransactionID,
		TxHash:        result.TxHash,
		Durations:     result.Durations,
	})
}

// writeRelayError maps the pipeline's failure taxonomy to HTTP status codes.
func (h *RelayHandlers) writeRelayError(w http.ResponseWriter, vault string, err error) {
	log.Printf("level=warn component=api endpoint=relay outcome=failed vault=%s err=%v", vault, err)

	switch {
	case errors.Is(err, app.ErrSessionExpired),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSignatureMismatch),
		errors.Is(err, app.ErrLimitExceeded),
		errors.Is(err, app.ErrInvalidRecipient):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientBalance):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, app.ErrHashUnavailable),
		errors.Is(err, app.ErrExecutionBackend),
		errors.Is(err, app.ErrChainDataUnavailable):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Relay failed")
	}
}

// HistoryHandler handles GET /relay/history: the reconciled merge of the
// local ledger with the authoritative on-chain history.
func (h *RelayHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	vault := strings.TrimSpace(r.URL.Query().Get("vaultAddress"))
	if vault == "" {
		vault = strings.TrimSpace(r.URL.Query().Get("safeAddress"))
	}
	if vault == "" {
		h.writeError(w, http.StatusBadRequest, "vaultAddress query parameter is required")
		return
	}
	chainID, err := parseChainID(r.URL.Query().Get("chainId"), h.defaults.ChainID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "chainId must be an integer")
		return
	}

	history, err := h.reconciler.Reconcile(r.Context(), vault, chainID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=history outcome=failed vault=%s err=%v", vault, err)
		if errors.Is(err, app.ErrChainDataUnavailable) {
			h.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to build transaction history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
	})
}

// LedgerHandler handles GET /relay/ledger: the raw local ledger without
// reconciliation, most recent first.
func (h *RelayHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		h.writeError(w, http.StatusBadRequest, "account query parameter is required")
		return
	}
	chainID, err := parseChainID(r.URL.Query().Get("chainId"), h.defaults.ChainID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "chainId must be an integer")
		return
	}

	records, err := h.service.Ledger().Get(r.Context(), account, chainID, r.URL.Query().Get("safeAddress"))
	if err != nil {
		log.Printf("level=warn component=api endpoint=ledger outcome=failed account=%s err=%v", account, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to read ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"transactions": records,
	})
}

// consumeRateLimit enforces the per-vault submission limit. Limiter outages
// fail open: a broken Redis must not block transfers.
func (h *RelayHandlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, vault string) bool {
	if h.limiter == nil || h.rateLimit <= 0 {
		return true
	}

	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "relay", vault, h.rateLimit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api endpoint=relay msg=\"rate limiter unavailable; allowing request\" vault=%s err=%v", vault, err)
		return true
	}
	if count > h.rateLimit {
		log.Printf("level=warn component=api endpoint=relay outcome=reject reason=rate_limited vault=%s count=%d", vault, count)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many relay submissions for this vault. Please retry later.")
		return false
	}
	return true
}

func (h *RelayHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *RelayHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func parseChainID(raw string, fallback int64) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func decodeHexField(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("value is empty")
	}
	if !strings.HasPrefix(trimmed, "0x") {
		trimmed = "0x" + trimmed
	}
	return hexutil.Decode(trimmed)
}
