/**
 * @description
 * This file implements the push channel over Server-Sent Events. A subscriber
 * opens GET /relay/status with either a transactionId (the initiator watching
 * one relay) or a recipient address (watching for inbound transfers) and
 * receives status events as they are published, until it disconnects or the
 * server shuts down.
 *
 * @notes
 * - Delivery is best-effort: a subscriber that falls behind the per-connection
 *   buffer loses events. Clients that need the full picture pull history.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/w3hc/vault-relay/internal/stream"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// StatusStreamHandler serves the push channel.
type StatusStreamHandler struct {
	registry *stream.Registry
}

// NewStatusStreamHandler creates a handler over the given registry.
func NewStatusStreamHandler(registry *stream.Registry) *StatusStreamHandler {
	return &StatusStreamHandler{registry: registry}
}

// SubscribeHandler handles GET /relay/status. Exactly one of the
// transactionId and recipient query parameters must be present.
func (h *StatusStreamHandler) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(r.URL.Query().Get("transactionId"))
	recipient := strings.TrimSpace(r.URL.Query().Get("recipient"))

	if (transactionID == "") == (recipient == "") {
		http.Error(w, "exactly one of transactionId or recipient is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var conn *stream.Connection
	if transactionID != "" {
		conn = h.registry.SubscribeTransaction(transactionID)
	} else {
		conn = h.registry.SubscribeRecipient(recipient)
	}
	defer conn.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, open := <-conn.Events():
			if !open {
				// Registry shutdown closed the channel.
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("level=error component=api endpoint=status msg=\"event encode failed\" tx_id=%s err=%v", event.TransactionID, err)
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
