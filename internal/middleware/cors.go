// Package middleware provides HTTP middleware for the rolecall API.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/ashureev/rolecall/internal/identity"
)

var corsHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	identity.UserIDHeader,
	identity.UsernameHeader,
	identity.FirstNameHeader,
	identity.LastNameHeader,
}, ", ")

// CORS echoes allowed origins and answers preflight requests with 204.
// A "*" entry allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || slices.Contains(allowedOrigins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
