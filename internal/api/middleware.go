/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are
 * used to process requests before they reach the final handler, perfect for
 * tasks like authentication or adding context to a request.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// internalAPIKeyHeader carries the shared secret backend callers present.
const internalAPIKeyHeader = "X-Internal-Api-Key"

// InternalAPIKeyMiddleware guards write endpoints with a shared secret. An
// empty configured key disables the guard, which is the expected state in
// local development.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := []byte(strings.TrimSpace(r.Header.Get(internalAPIKeyHeader)))
			if subtle.ConstantTimeCompare(expected, presented) != 1 {
				http.Error(w, "invalid or missing internal API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
