/**
 * @description
 * This file implements the status channel registry: the process-wide table
 * mapping transaction identifiers, and separately recipient addresses, to
 * live push connections. It is constructed once at service start and passed
 * by handle to every component that publishes or subscribes, never reached
 * through ambient global state.
 *
 * Delivery is best-effort message delivery, not guaranteed persistence: a
 * closed or backlogged connection is skipped, never retried, and never
 * blocks the publisher. Callers needing at-least-once semantics must layer a
 * durable outbox on top.
 *
 * @dependencies
 * - sync: reader/writer lock over the two connection indexes.
 * - github.com/google/uuid: connection identifiers for log correlation.
 */

package stream

import (
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/w3hc/vault-relay/internal/domain"
)

// eventBuffer bounds the per-connection backlog. A subscriber that falls
// further behind starts losing events rather than stalling the pipeline.
const eventBuffer = 16

type subscriptionKind int

const (
	byTransaction subscriptionKind = iota
	byRecipient
)

// Connection is one live push subscription. Events arrive on Events() in
// publish order until Close is called or the registry shuts down.
type Connection struct {
	id   string
	kind subscriptionKind
	key  string
	ch   chan domain.StatusEvent

	registry  *Registry
	closeOnce sync.Once
}

// Events returns the channel the subscriber reads status events from.
func (c *Connection) Events() <-chan domain.StatusEvent {
	return c.ch
}

// Close removes the connection from the registry and releases its channel.
// Connections must be closed when the caller goes away to avoid unbounded
// registry growth; the SSE handler does this on request teardown.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.registry.remove(c)
	})
}

// Registry holds the two independent subscription indexes.
type Registry struct {
	mu            sync.RWMutex
	byTransaction map[string]map[*Connection]struct{}
	byRecipient   map[string]map[*Connection]struct{}
	shutdown      bool
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byTransaction: make(map[string]map[*Connection]struct{}),
		byRecipient:   make(map[string]map[*Connection]struct{}),
	}
}

// SubscribeTransaction registers a connection interested in one transaction's
// status stages. These are the initiator's connections.
func (r *Registry) SubscribeTransaction(transactionID string) *Connection {
	return r.add(byTransaction, transactionID)
}

// SubscribeRecipient registers a connection interested in inbound transfers
// to an address. The index key is the lower-cased address so subscribers and
// publishers never disagree on hex casing.
func (r *Registry) SubscribeRecipient(recipient string) *Connection {
	return r.add(byRecipient, strings.ToLower(strings.TrimSpace(recipient)))
}

func (r *Registry) add(kind subscriptionKind, key string) *Connection {
	conn := &Connection{
		id:       uuid.NewString(),
		kind:     kind,
		key:      key,
		ch:       make(chan domain.StatusEvent, eventBuffer),
		registry: r,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		close(conn.ch)
		return conn
	}

	index := r.index(kind)
	if index[key] == nil {
		index[key] = make(map[*Connection]struct{})
	}
	index[key][conn] = struct{}{}

	log.Printf("level=info component=stream_registry msg=\"connection subscribed\" conn_id=%s key=%s subscribers=%d", conn.id, key, len(index[key]))
	return conn
}

func (r *Registry) remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Shutdown already closed every channel.
	if r.shutdown {
		return
	}

	index := r.index(c.kind)
	set, ok := index[c.key]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(index, c.key)
		}
	}
	close(c.ch)

	log.Printf("level=info component=stream_registry msg=\"connection closed\" conn_id=%s key=%s", c.id, c.key)
}

func (r *Registry) index(kind subscriptionKind) map[string]map[*Connection]struct{} {
	if kind == byTransaction {
		return r.byTransaction
	}
	return r.byRecipient
}

// Publish delivers event to every connection subscribed to its transaction
// id, and (tagged is_incoming) to every connection watching the recipient
// address the event carries. Delivery preserves publish order per connection
// and never blocks: a full channel means the event is dropped for that
// subscriber.
func (r *Registry) Publish(event domain.StatusEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conn := range r.byTransaction[event.TransactionID] {
		r.deliver(conn, event)
	}

	if event.Recipient == "" {
		return
	}
	incoming := event
	incoming.IsIncoming = true
	for conn := range r.byRecipient[strings.ToLower(event.Recipient)] {
		r.deliver(conn, incoming)
	}
}

func (r *Registry) deliver(conn *Connection, event domain.StatusEvent) {
	select {
	case conn.ch <- event:
	default:
		log.Printf("level=warn component=stream_registry msg=\"subscriber backlogged; event dropped\" conn_id=%s tx_id=%s stage=%s", conn.id, event.TransactionID, event.Stage)
	}
}

// Shutdown closes every open connection. This is the only situation in which
// the server closes a push channel before the caller does.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return
	}
	r.shutdown = true

	for _, set := range r.byTransaction {
		for conn := range set {
			close(conn.ch)
		}
	}
	for _, set := range r.byRecipient {
		for conn := range set {
			close(conn.ch)
		}
	}
	r.byTransaction = make(map[string]map[*Connection]struct{})
	r.byRecipient = make(map[string]map[*Connection]struct{})
}
