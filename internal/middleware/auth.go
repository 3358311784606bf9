package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const TokenQueryParam = "access_token"

type queryTokenKey struct{}

// HideQueryToken moves the access_token query parameter into the request
// context so request logging never sees it. Register it before the logger.
func HideQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if tok := q.Get(TokenQueryParam); tok != "" {
			q.Del(TokenQueryParam)
			r2 := r.WithContext(context.WithValue(r.Context(), queryTokenKey{}, tok))
			u := *r.URL
			u.RawQuery = q.Encode()
			r2.URL = &u
			r2.RequestURI = u.RequestURI()
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

func queryToken(r *http.Request) string {
	if tok, ok := r.Context().Value(queryTokenKey{}).(string); ok {
		return tok
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// RequireToken rejects requests whose bearer token does not match token.
// An empty token rejects everything.
func RequireToken(token string) func(http.Handler) http.Handler {
	return requireToken(token, false)
}

// RequireStreamToken is RequireToken that also accepts the token in the
// access_token query parameter.
func RequireStreamToken(token string) func(http.Handler) http.Handler {
	return requireToken(token, true)
}

func requireToken(token string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok && allowQuery {
				got = queryToken(r)
				ok = got != ""
			}
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				slog.Warn("Rejected unauthenticated request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
