/**
 * @description
 * This package provides a client for the block-explorer HTTP API (an
 * etherscan-compatible account module). It fetches the three independent
 * transfer lists the history reconciler consumes (token, native, internal)
 * and normalizes them into the common ChainEvent shape.
 *
 * @dependencies
 * - context, encoding/json, net/http, net/url: Standard Go libraries.
 */
package explorerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/w3hc/vault-relay/internal/domain"
)

// Client is a client for an etherscan-compatible explorer API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new explorer API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// listResponse is the explorer's envelope for account list queries.
type listResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// rawTransfer covers the fields shared by all three list actions.
type rawTransfer struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
}

// actionFor maps a transfer kind to the explorer's account-module action.
func actionFor(kind string) (string, error) {
	switch kind {
	case domain.TransferKindToken:
		return "tokentx", nil
	case domain.TransferKindNative:
		return "txlist", nil
	case domain.TransferKindInternal:
		return "txlistinternal", nil
	default:
		return "", fmt.Errorf("unknown transfer kind %q", kind)
	}
}

// GetTransfers pulls one full transfer list for an account and normalizes it.
func (c *Client) GetTransfers(ctx context.Context, account, kind string) ([]domain.ChainEvent, error) {
	action, err := actionFor(kind)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", account)
	params.Set("startblock", "0")
	params.Set("endblock", "99999999")
	params.Set("sort", "desc")
	if c.APIKey != "" {
		params.Set("apikey", c.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create explorer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute explorer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read explorer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=explorer_client action=%s status=%d msg=\"non-2xx response\"", action, resp.StatusCode)
		return nil, fmt.Errorf("explorer returned status %d", resp.StatusCode)
	}

	var envelope listResponse
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}

	// The explorer signals "no transactions found" with status 0 and a
	// string result; treat it as an empty list, not a failure.
	var raw []rawTransfer
	if err := json.Unmarshal(envelope.Result, &raw); err != nil {
		if envelope.Status == "0" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode explorer result: %w", err)
	}

	events := make([]domain.ChainEvent, 0, len(raw))
	for _, item := range raw {
		events = append(events, normalize(item))
	}
	return events, nil
}

func normalize(item rawTransfer) domain.ChainEvent {
	blockNumber, _ := strconv.ParseInt(item.BlockNumber, 10, 64)
	timestamp, _ := strconv.ParseInt(item.TimeStamp, 10, 64)
	return domain.ChainEvent{
		BlockNumber:    blockNumber,
		BlockTimestamp: timestamp,
		TxHash:         strings.ToLower(item.Hash),
		From:           strings.ToLower(item.From),
		To:             strings.ToLower(item.To),
		Value:          item.Value,
	}
}
