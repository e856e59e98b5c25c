package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/nimbusvault/backend/internal/store"
)

// TokenStore defines the behaviour required for resolving API tokens
// to user IDs.
type TokenStore interface {
	GetUserIDByAPIToken(ctx context.Context, token string) (int64, error)
}

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the authenticated user's ID from the request context.
// The second return value is false for unauthenticated requests.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// RequireUser is middleware that resolves the Authorization bearer token
// to a user and stores the user ID in the request context. Requests
// without a valid token are rejected with 401.
func RequireUser(tokens TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
				return
			}

			userID, err := tokens.GetUserIDByAPIToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, store.ErrUserNotFound) {
					http.Error(w, "invalid API token", http.StatusUnauthorized)
					return
				}
				log.Printf("RequireUser: failed to resolve API token: %v", err)
				http.Error(w, "failed to authenticate request", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalUser resolves the Authorization bearer token when one is
// presented and stores the user ID in the request context. Requests
// without a token pass through anonymously; a token that is present
// but does not resolve is still rejected.
func OptionalUser(tokens TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := tokens.GetUserIDByAPIToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, store.ErrUserNotFound) {
					http.Error(w, "invalid API token", http.StatusUnauthorized)
					return
				}
				log.Printf("OptionalUser: failed to resolve API token: %v", err)
				http.Error(w, "failed to authenticate request", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
