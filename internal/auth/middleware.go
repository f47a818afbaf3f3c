package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"tidemail/internal/session"
)

type contextKey string

// SessionKey is the context key the middleware stores the resolved session
// under.
const SessionKey contextKey = "session"

// RequireAuth checks for a valid bearer token in the Authorization header,
// resolves it against the session store (sliding its expiry), and stores the
// session in the request context for downstream handlers. Returns 401
// Unauthorized when the token is missing, malformed, or unknown.
func RequireAuth(store *session.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			log.Println("Auth: missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := store.Get(token)
		if err != nil {
			log.Printf("Auth: token rejected: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an Authorization header value.
// The Bearer scheme is matched case-insensitively per RFC 7235.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(fields[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// SessionFromContext returns the session stored by RequireAuth.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(SessionKey).(*session.Session)
	return sess, ok
}
