package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/sellerhub/internal/model"
)

type fakeSessions struct {
	valid map[string]*model.User
}

func (f *fakeSessions) Authenticate(_ context.Context, token string) (*model.User, error) {
	if u, ok := f.valid[token]; ok {
		return u, nil
	}
	return nil, errors.New("invalid session")
}

func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(u.Username))
	})
}

func TestRequireAuth(t *testing.T) {
	sessions := &fakeSessions{valid: map[string]*model.User{
		"good": {ID: "u1", Username: "alice"},
	}}
	h := RequireAuth(sessions)(protectedHandler())

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantBody   string
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})
		}, http.StatusOK, "alice"},
		{"header", func(r *http.Request) { r.Header.Set(HeaderName, "good") }, http.StatusOK, "alice"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK, "alice"},
		{"revoked token", func(r *http.Request) { r.Header.Set(HeaderName, "revoked") }, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}

func TestUserFromContextAnonymous(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
}
