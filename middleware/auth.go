package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const playerContextKey contextKey = "player_id"

var ErrUnauthenticated = errors.New("authentication required")

// TokenVerifier resolves an access token into a player id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (int, error)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Authenticate rejects requests without a valid token and stores the player
// id in the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w)
				return
			}
			playerID, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPlayerID(r.Context(), playerID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func WithPlayerID(ctx context.Context, playerID int) context.Context {
	return context.WithValue(ctx, playerContextKey, playerID)
}

func PlayerIDFromContext(ctx context.Context) (int, error) {
	id, ok := ctx.Value(playerContextKey).(int)
	if !ok || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}
