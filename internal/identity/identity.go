// Package identity resolves the chat user behind a transport request.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/rolecall/internal/domain"
	"github.com/ashureev/rolecall/internal/store"
)

const (
	UserIDHeader    = "X-Chat-User-ID"
	UsernameHeader  = "X-Chat-Username"
	FirstNameHeader = "X-Chat-First-Name"
	LastNameHeader  = "X-Chat-Last-Name"
)

// ErrMissingUser is returned when a request carries no usable user id.
var ErrMissingUser = errors.New("missing chat user id")

type contextKey int

const (
	userKey contextKey = iota
)

var usernamePattern = regexp.MustCompile(`^@?[A-Za-z0-9_]{1,64}$`)

// User is the chat identity attached to a request.
type User struct {
	ID      int64
	Profile domain.Profile
}

// FromContext extracts the chat user from the request context.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

// WithUser attaches a chat user to ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// FromRequest reads the identity from headers, falling back to query
// parameters for browser websocket clients that cannot set headers.
func FromRequest(r *http.Request) (User, error) {
	get := func(header, param string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return strings.TrimSpace(r.URL.Query().Get(param))
	}

	id, err := strconv.ParseInt(get(UserIDHeader, "user_id"), 10, 64)
	if err != nil || id == 0 {
		return User{}, ErrMissingUser
	}

	username := get(UsernameHeader, "username")
	if username != "" && !usernamePattern.MatchString(username) {
		username = ""
	}
	return User{
		ID: id,
		Profile: domain.Profile{
			Username:  strings.TrimPrefix(username, "@"),
			FirstName: truncate(get(FirstNameHeader, "first_name"), 64),
			LastName:  truncate(get(LastNameHeader, "last_name"), 64),
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Middleware requires a chat identity and refreshes the user's profile in
// the store before passing the request on.
func Middleware(repo store.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := FromRequest(r)
			if err != nil {
				http.Error(w, `{"error":"missing chat user"}`, http.StatusUnauthorized)
				return
			}

			if err := repo.UpsertUser(r.Context(), u.ID, u.Profile); err != nil {
				slog.Error("Failed to record chat user", "error", err, "user_id", u.ID)
				http.Error(w, `{"error":"failed to initialize chat user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
