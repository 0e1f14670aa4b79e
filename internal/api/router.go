/**
 * @description
 * This file sets up the HTTP router for the relay service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RelayRoutes creates and returns the router for the relay service.
func RelayRoutes(h *RelayHandlers, status *StatusStreamHandler, internalAPIKey, allowedOrigins string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and CORS.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(allowedOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", internalAPIKeyHeader},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The push channel stays outside the timeout middleware: an SSE stream is
	// long-lived on purpose.
	r.Get("/relay/status", status.SubscribeHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		// Read endpoints.
		r.Get("/relay/history", h.HistoryHandler)
		r.Get("/relay/ledger", h.LedgerHandler)

		// The write endpoint requires the internal API key when one is set.
		r.Group(func(r chi.Router) {
			r.Use(InternalAPIKeyMiddleware(internalAPIKey))
			r.Post("/relay", h.RelayHandler)
		})
	})

	return r
}

func splitOrigins(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "*" {
		return []string{"*"}
	}
	parts := strings.Split(trimmed, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
