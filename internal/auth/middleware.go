package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/sellerhub/internal/model"
)

// CookieName is the HttpOnly cookie carrying the session token.
const CookieName = "token"

// HeaderName is the alternative header for non-browser clients.
const HeaderName = "x-access-token"

// contextKey is unexported so no other package can collide with our keys.
type contextKey string

const userKey contextKey = "user"

// SessionValidator resolves a session token to its user. It must reject
// tokens that were revoked by logout.
type SessionValidator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireAuth rejects requests without a valid session with 401 and stores
// the authenticated user in the request context otherwise.
func RequireAuth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w, "authentication token is missing")
				return
			}

			user, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "session is invalid or expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// TokenFromRequest reads the session token from the cookie, then the
// x-access-token header, then an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or (nil, false) for an
// anonymous request.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
